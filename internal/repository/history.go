package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// History is the rule-facing query surface, bound to a Querier so rules
// evaluated inside a chunk transaction read through that transaction.
type History struct {
	r *SQLRepository
	q Querier
}

// History returns a domain.HistoryReader reading through q.
func (r *SQLRepository) History(q Querier) *History {
	return &History{r: r, q: q}
}

var _ domain.HistoryReader = (*History)(nil)

// CountAccountTransactions counts an account's transactions with timestamp in
// [from, to].
func (h *History) CountAccountTransactions(ctx context.Context, accountID int64, from, to time.Time) (int64, error) {
	query := Rebind(h.r.driver, `
		SELECT COUNT(*) FROM transactions
		WHERE account_id = ? AND ts >= ? AND ts <= ?`)

	var n int64
	err := h.q.QueryRowContext(ctx, query, accountID, from.UTC(), to.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count account transactions: %w", err)
	}
	return n, nil
}

// CountAccountTransactionsInBand counts an account's transactions in [from, to]
// with amount in [minAmount, maxAmount).
func (h *History) CountAccountTransactionsInBand(ctx context.Context, accountID int64, from, to time.Time, minAmount, maxAmount float64) (int64, error) {
	query := Rebind(h.r.driver, `
		SELECT COUNT(*) FROM transactions
		WHERE account_id = ? AND ts >= ? AND ts <= ?
		  AND amount >= ? AND amount < ?`)

	var n int64
	err := h.q.QueryRowContext(ctx, query, accountID, from.UTC(), to.UTC(), minAmount, maxAmount).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions in band: %w", err)
	}
	return n, nil
}

// DistinctCustomerCountries returns the distinct non-empty transaction
// countries observed for a customer in [from, to], sorted.
func (h *History) DistinctCustomerCountries(ctx context.Context, customerID int64, from, to time.Time) ([]string, error) {
	query := Rebind(h.r.driver, `
		SELECT DISTINCT t.country
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.customer_id = ? AND t.ts >= ? AND t.ts <= ?
		  AND t.country IS NOT NULL AND t.country <> ''
		ORDER BY t.country`)

	rows, err := h.q.QueryContext(ctx, query, customerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("distinct customer countries: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

// RingSignal computes the one-hop counterparty overlap for an account over
// relationship edges seen within the lookback window. Linked accounts are any
// other accounts sharing at least one recent counterparty; the shared set is
// the union across all of them. Sorted output keeps evidence deterministic.
func (h *History) RingSignal(ctx context.Context, accountID int64, lookbackDays int) (*domain.RingSignal, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	mine, err := h.accountCounterparties(ctx, accountID, cutoff)
	if err != nil {
		return nil, err
	}
	if len(mine) == 0 {
		return &domain.RingSignal{}, nil
	}

	sharers, err := h.accountsSharing(ctx, accountID, mine, cutoff)
	if err != nil {
		return nil, err
	}

	sharedSet := make(map[string]struct{})
	linked := make([]int64, 0, len(sharers))
	for acct, keys := range sharers {
		linked = append(linked, acct)
		for _, k := range keys {
			sharedSet[k] = struct{}{}
		}
	}
	sort.Slice(linked, func(i, j int) bool { return linked[i] < linked[j] })

	shared := make([]string, 0, len(sharedSet))
	for k := range sharedSet {
		shared = append(shared, k)
	}
	sort.Strings(shared)

	return &domain.RingSignal{
		OverlapCount:         len(shared),
		SharedCounterparties: shared,
		LinkedAccounts:       linked,
		Degree:               len(linked),
	}, nil
}

func (h *History) accountCounterparties(ctx context.Context, accountID int64, cutoff time.Time) ([]string, error) {
	query := Rebind(h.r.driver, `
		SELECT dst_key FROM relationship_edges
		WHERE src_type = 'account' AND src_id = ?
		  AND dst_type = 'counterparty' AND last_seen_at >= ?`)

	rows, err := h.q.QueryContext(ctx, query, accountID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("account counterparties: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (h *History) accountsSharing(ctx context.Context, accountID int64, keys []string, cutoff time.Time) (map[int64][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	query := Rebind(h.r.driver, fmt.Sprintf(`
		SELECT src_id, dst_key FROM relationship_edges
		WHERE src_type = 'account' AND src_id <> ?
		  AND dst_type = 'counterparty' AND dst_key IN (%s)
		  AND last_seen_at >= ?`, placeholders))

	args := make([]any, 0, len(keys)+2)
	args = append(args, accountID)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, cutoff)

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("accounts sharing counterparties: %w", err)
	}
	defer rows.Close()

	sharers := make(map[int64][]string)
	for rows.Next() {
		var (
			acct int64
			key  string
		)
		if err := rows.Scan(&acct, &key); err != nil {
			return nil, err
		}
		sharers[acct] = append(sharers[acct], key)
	}
	return sharers, rows.Err()
}
