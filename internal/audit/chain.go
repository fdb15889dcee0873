// Package audit maintains the hash-chained audit log. Every entry links to
// the previous one through its row hash, so any mutation or deletion of a
// committed entry is detectable by replaying the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

// Querier is the subset of database/sql used by the chain. Both *sql.DB and
// *sql.Tx satisfy it; callers that need the entry committed atomically with
// other writes pass their open transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// VerifyResult reports the outcome of a chain replay.
type VerifyResult struct {
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	BrokenID int64  `json:"brokenId,omitempty"` // first entry whose hash does not replay, 0 when valid
	Reason   string `json:"reason,omitempty"`   // empty when valid
}

// Chain appends to and verifies the audit log. The chain is global: entries
// from all correlation ids share a single linked sequence ordered by row id.
type Chain struct {
	driver string
}

// NewChain returns a chain bound to a SQL driver dialect.
func NewChain(driver string) *Chain {
	return &Chain{driver: driver}
}

// Append writes an entry linked to the current chain tail. It must run inside
// the same transaction as the state change it records so that entry and
// effect commit or roll back together. The entry's ID, TS, PrevHash and
// RowHash fields are filled in on return.
func (c *Chain) Append(ctx context.Context, q Querier, entry *domain.AuditEntry) error {
	if entry.Action == "" || entry.EntityType == "" {
		return fmt.Errorf("audit append: %w: action and entity_type are required", domain.ErrInvalidInput)
	}
	if entry.Actor == "" {
		entry.Actor = domain.DefaultActor
	}
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	// Postgres TIMESTAMP stores microseconds; hash what the column will
	// hold so Verify replays the same bytes on both drivers.
	entry.TS = entry.TS.UTC().Truncate(time.Microsecond)

	prev, err := c.tail(ctx, q)
	if err != nil {
		return fmt.Errorf("audit append: read tail: %w", err)
	}
	entry.PrevHash = prev

	canon, err := canonical(entry)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	entry.RowHash = chainHash(prev, canon)

	details, err := marshalDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}

	query := repository.Rebind(c.driver, `
		INSERT INTO audit_logs
			(correlation_id, action, entity_type, entity_id, ts, actor, details, prev_hash, row_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	args := []any{
		entry.CorrelationID, entry.Action, entry.EntityType, entry.EntityID,
		entry.TS, entry.Actor, details, nullIfEmpty(entry.PrevHash), entry.RowHash,
	}

	if c.driver == "postgres" {
		if err := q.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&entry.ID); err != nil {
			return fmt.Errorf("audit append: insert: %w", err)
		}
		return nil
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("audit append: insert: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("audit append: read id: %w", err)
	}
	return nil
}

// Verify replays the whole chain in id order and recomputes every hash.
// It reports the first entry that fails to replay, whether from a mutated
// field, a broken link or a tampered hash.
func (c *Chain) Verify(ctx context.Context, q Querier) (*VerifyResult, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, correlation_id, action, entity_type, entity_id, ts, actor, details, prev_hash, row_hash
		FROM audit_logs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit verify: %w", err)
	}
	defer rows.Close()

	res := &VerifyResult{Valid: true}
	prev := ""
	for rows.Next() {
		var (
			entry    domain.AuditEntry
			details  sql.NullString
			prevHash sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.CorrelationID, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.TS, &entry.Actor, &details, &prevHash, &entry.RowHash); err != nil {
			return nil, fmt.Errorf("audit verify: scan: %w", err)
		}
		res.Entries++
		entry.PrevHash = prevHash.String

		if entry.PrevHash != prev {
			return broken(res, entry.ID, "prev_hash does not match preceding entry"), nil
		}

		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return broken(res, entry.ID, "details are not valid JSON"), nil
			}
		}
		canon, err := canonical(&entry)
		if err != nil {
			return nil, fmt.Errorf("audit verify: %w", err)
		}
		if chainHash(prev, canon) != entry.RowHash {
			return broken(res, entry.ID, "row_hash does not replay"), nil
		}
		prev = entry.RowHash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit verify: %w", err)
	}
	return res, nil
}

// LastRunCheckpoint returns the most recent run_rules entry for a correlation
// id, or ErrNotFound when the run has no committed chunks yet. Resumed runs
// use its details to pick up after the last processed transaction.
func (c *Chain) LastRunCheckpoint(ctx context.Context, q Querier, correlationID string) (*domain.AuditEntry, error) {
	query := repository.Rebind(c.driver, `
		SELECT id, correlation_id, action, entity_type, entity_id, ts, actor, details, prev_hash, row_hash
		FROM audit_logs
		WHERE correlation_id = ? AND action = ?
		ORDER BY id DESC LIMIT 1`)

	var (
		entry    domain.AuditEntry
		details  sql.NullString
		prevHash sql.NullString
	)
	err := q.QueryRowContext(ctx, query, correlationID, domain.ActionRunRules).Scan(
		&entry.ID, &entry.CorrelationID, &entry.Action, &entry.EntityType,
		&entry.EntityID, &entry.TS, &entry.Actor, &details, &prevHash, &entry.RowHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit checkpoint: %w", err)
	}
	entry.PrevHash = prevHash.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
			return nil, fmt.Errorf("audit checkpoint: decode details: %w", err)
		}
	}
	return &entry, nil
}

func (c *Chain) tail(ctx context.Context, q Querier) (string, error) {
	var h string
	err := q.QueryRowContext(ctx, `SELECT row_hash FROM audit_logs ORDER BY id DESC LIMIT 1`).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return h, nil
}

// canonical renders the hashed representation of an entry. Details are
// serialized as JSON with sorted keys, so semantically equal maps always
// produce the same bytes.
func canonical(e *domain.AuditEntry) (string, error) {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		e.CorrelationID,
		e.Action,
		e.EntityType,
		e.EntityID,
		e.TS.UTC().Format(time.RFC3339Nano),
		e.Actor,
		details,
	}, "|"), nil
}

func chainHash(prev, canonical string) string {
	sum := sha256.Sum256([]byte(prev + canonical))
	return hex.EncodeToString(sum[:])
}

func marshalDetails(details map[string]any) (string, error) {
	if details == nil {
		details = map[string]any{}
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(b), nil
}

func broken(res *VerifyResult, id int64, reason string) *VerifyResult {
	res.Valid = false
	res.BrokenID = id
	res.Reason = reason
	return res
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
