// Package ingest loads transaction files into the repository. Ingestion is
// idempotent: every row resolves to a deterministic external id, and the
// unique external_id column is the authoritative at-most-once guarantee.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/identity"
	"github.com/opensource-finance/harrier/internal/repository"
)

// maxRejectReasons caps the reject list carried in the audit payload.
const maxRejectReasons = 500

// seenTTL bounds how long an external id stays in the cache seen-check.
const seenTTL = time.Hour

// Ingester loads CSV and JSONL transaction files. The cache is an optional
// seen-before optimization; passing nil disables it.
type Ingester struct {
	repo       *repository.SQLRepository
	chain      *audit.Chain
	cache      domain.Cache
	logger     *slog.Logger
	batchSize  int
	configHash string
}

// Options carries the ambient run context for one ingestion.
type Options struct {
	CorrelationID string
	Actor         string
}

// Result summarizes one file ingestion.
type Result struct {
	CorrelationID string
	RowsRead      int
	RowsInserted  int
	RowsRejected  int
	Duration      time.Duration
}

// record is one parsed row, normalized and ready for storage.
type record struct {
	customerName string
	country      string
	number       string
	ts           time.Time
	amount       float64
	currency     string
	merchant     string
	counterparty string
	countryTxn   string
	channel      string
	direction    string
	baseRisk     float64
	externalID   string // upstream override, may be empty
}

// NewIngester creates a file ingester.
func NewIngester(repo *repository.SQLRepository, chain *audit.Chain, cache domain.Cache, cfg domain.IngestConfig, configHash string, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Ingester{
		repo:       repo,
		chain:      chain,
		cache:      cache,
		logger:     logger,
		batchSize:  batch,
		configHash: configHash,
	}
}

// run drives one ingestion: rows come from next, batches commit atomically,
// and a single ingest audit entry records the outcome.
func (i *Ingester) run(ctx context.Context, path string, opts Options, next func() (*record, error, bool)) (*Result, error) {
	if opts.CorrelationID == "" {
		opts.CorrelationID = uuid.New().String()
	}
	if opts.Actor == "" {
		opts.Actor = domain.DefaultActor
	}

	start := time.Now()
	res := &Result{CorrelationID: opts.CorrelationID}
	var rejectReasons []string

	batch := make([]*record, 0, i.batchSize)
	for {
		rec, rowErr, ok := next()
		if !ok {
			break
		}
		res.RowsRead++
		if rowErr != nil {
			res.RowsRejected++
			if len(rejectReasons) < maxRejectReasons {
				rejectReasons = append(rejectReasons, rowErr.Error())
			}
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= i.batchSize {
			if err := i.flush(ctx, batch, res); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := i.flush(ctx, batch, res); err != nil {
			return nil, err
		}
	}

	res.Duration = time.Since(start)

	details := map[string]any{
		"rows_read":        res.RowsRead,
		"rows_inserted":    res.RowsInserted,
		"duration_seconds": math.Round(res.Duration.Seconds()*1000) / 1000,
		"config_hash":      i.configHash,
		"rules_version":    domain.RulesVersion(),
		"engine_version":   domain.EngineVersion,
	}
	if res.RowsRejected > 0 {
		details["rows_rejected"] = res.RowsRejected
		details["reject_reasons"] = rejectReasons
		if res.RowsInserted == 0 {
			i.logger.Warn("all rows rejected",
				"path", path,
				"first_reasons", rejectReasons[:min(5, len(rejectReasons))],
			)
		}
	}

	err := i.repo.WithinTx(ctx, func(tx *sql.Tx) error {
		return i.chain.Append(ctx, tx, &domain.AuditEntry{
			CorrelationID: opts.CorrelationID,
			Action:        domain.ActionIngest,
			EntityType:    "file",
			EntityID:      path,
			Actor:         opts.Actor,
			Details:       details,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("write ingest audit entry: %w", err)
	}

	i.logger.Info("ingest completed",
		"path", path,
		"correlation_id", opts.CorrelationID,
		"rows_read", res.RowsRead,
		"rows_inserted", res.RowsInserted,
		"rows_rejected", res.RowsRejected,
		"duration", res.Duration,
	)
	return res, nil
}

// flush commits one batch inside a single transaction.
func (i *Ingester) flush(ctx context.Context, batch []*record, res *Result) error {
	seenInBatch := make(map[string]struct{}, len(batch))

	return i.repo.WithinTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range batch {
			accountID, err := i.ensureAccount(ctx, tx, rec)
			if err != nil {
				return err
			}

			externalID := identity.ForRecord(rec.externalID, accountID, rec.ts, rec.amount, rec.currency, rec.counterparty, rec.direction)
			if _, dup := seenInBatch[externalID]; dup {
				continue
			}
			if i.seenBefore(ctx, externalID) {
				continue
			}
			exists, err := i.repo.TransactionExists(ctx, tx, externalID)
			if err != nil {
				return err
			}
			if exists {
				i.markSeen(ctx, externalID)
				continue
			}
			seenInBatch[externalID] = struct{}{}

			txn := &domain.Transaction{
				ExternalID:   externalID,
				AccountID:    accountID,
				TS:           rec.ts,
				Amount:       rec.amount,
				Currency:     rec.currency,
				Merchant:     rec.merchant,
				Counterparty: rec.counterparty,
				Country:      rec.countryTxn,
				Channel:      rec.channel,
				Direction:    rec.direction,
			}
			if err := i.repo.InsertTransaction(ctx, tx, txn); err != nil {
				return err
			}
			i.markSeen(ctx, externalID)
			res.RowsInserted++
		}
		return nil
	})
}

// ensureAccount resolves the account number, creating the customer and
// account on first sight.
func (i *Ingester) ensureAccount(ctx context.Context, tx *sql.Tx, rec *record) (int64, error) {
	id, err := i.repo.AccountIDByNumber(ctx, tx, rec.number)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	customer := &domain.Customer{
		Name:     rec.customerName,
		Country:  rec.country,
		BaseRisk: rec.baseRisk,
	}
	if err := i.repo.CreateCustomer(ctx, tx, customer); err != nil {
		return 0, err
	}
	account := &domain.Account{
		CustomerID: customer.ID,
		Number:     rec.number,
	}
	if err := i.repo.CreateAccount(ctx, tx, account); err != nil {
		return 0, err
	}
	return account.ID, nil
}

func (i *Ingester) seenBefore(ctx context.Context, externalID string) bool {
	if i.cache == nil {
		return false
	}
	v, err := i.cache.Get(ctx, "seen:"+externalID)
	return err == nil && v != nil
}

func (i *Ingester) markSeen(ctx context.Context, externalID string) {
	if i.cache == nil {
		return
	}
	_ = i.cache.Set(ctx, "seen:"+externalID, []byte{1}, seenTTL)
}

// parseRow normalizes one row's raw fields. A missing account reference or
// unparsable timestamp/amount rejects the row.
func parseRow(fields map[string]string) (*record, error) {
	number := strings.TrimSpace(fields["iban_or_acct"])
	if number == "" {
		return nil, errors.New("missing_iban")
	}

	ts, err := parseTimestamp(fields["ts"])
	if err != nil {
		return nil, fmt.Errorf("parse_error:ts:%v", err)
	}
	amount, err := parseFloat(fields["amount"], 0)
	if err != nil {
		return nil, fmt.Errorf("parse_error:amount:%v", err)
	}
	baseRisk, err := parseFloat(fields["base_risk"], 10)
	if err != nil {
		return nil, fmt.Errorf("parse_error:base_risk:%v", err)
	}

	customerName := strings.TrimSpace(fields["customer_name"])
	if customerName == "" {
		customerName = "Unknown"
	}
	country := strings.TrimSpace(fields["country"])
	if country == "" {
		country = "XXX"
	}
	currency := strings.TrimSpace(fields["currency"])
	if currency == "" {
		currency = "USD"
	}
	countryTxn := strings.TrimSpace(fields["country_txn"])
	if countryTxn == "" {
		countryTxn = strings.TrimSpace(fields["country"])
	}

	return &record{
		customerName: customerName,
		country:      truncate3(country),
		number:       number,
		ts:           ts,
		amount:       amount,
		currency:     truncate3(currency),
		merchant:     strings.TrimSpace(fields["merchant"]),
		counterparty: strings.TrimSpace(fields["counterparty"]),
		countryTxn:   countryTxn,
		channel:      strings.TrimSpace(fields["channel"]),
		direction:    strings.TrimSpace(fields["direction"]),
		baseRisk:     baseRisk,
		externalID:   strings.TrimSpace(fields["external_id"]),
	}, nil
}

// timestampLayouts are accepted input formats, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}

func parseFloat(s string, def float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.ParseFloat(s, 64)
}

// truncate3 keeps at most three characters, matching column width for
// country and currency codes.
func truncate3(s string) string {
	if len(s) > 3 {
		return s[:3]
	}
	return s
}
