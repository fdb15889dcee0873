// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Write helpers take a Querier so the engine can batch them into one
// transaction per chunk.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Driver returns the SQL dialect the repository was opened with.
func (r *SQLRepository) Driver() string {
	return r.driver
}

// DB exposes the underlying handle for callers that manage their own reads.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// WithinTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic. The engine relies on this for atomic chunk commits:
// alerts, risk scores and the audit entry of a chunk all ride one tx.
func (r *SQLRepository) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateCustomer inserts a customer and assigns its ID.
func (r *SQLRepository) CreateCustomer(ctx context.Context, q Querier, c *domain.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	id, err := r.insertReturningID(ctx, q, `
		INSERT INTO customers (name, country, base_risk, created_at)
		VALUES (?, ?, ?, ?)`,
		c.Name, c.Country, c.BaseRisk, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	c.ID = id
	return nil
}

// CreateAccount inserts an account and assigns its ID.
func (r *SQLRepository) CreateAccount(ctx context.Context, q Querier, a *domain.Account) error {
	if a.CustomerID == 0 {
		return fmt.Errorf("%w: customer id is required", domain.ErrInvalidInput)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	id, err := r.insertReturningID(ctx, q, `
		INSERT INTO accounts (customer_id, number, created_at)
		VALUES (?, ?, ?)`,
		a.CustomerID, a.Number, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	a.ID = id
	return nil
}

// AccountIDByNumber resolves an account number to its id through the given
// querier, so callers inside a transaction see accounts created earlier in
// the same transaction. Returns ErrNotFound when the number is unknown.
func (r *SQLRepository) AccountIDByNumber(ctx context.Context, q Querier, number string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		Rebind(r.driver, `SELECT id FROM accounts WHERE number = ?`),
		number,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertTransaction stores a new transaction and assigns its ID. The
// external_id column is unique; callers check TransactionExists first when
// they want duplicate records skipped rather than rejected.
func (r *SQLRepository) InsertTransaction(ctx context.Context, q Querier, tx *domain.Transaction) error {
	if tx.ExternalID == "" {
		return fmt.Errorf("%w: external id is required", domain.ErrInvalidInput)
	}
	if tx.AccountID == 0 {
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	id, err := r.insertReturningID(ctx, q, `
		INSERT INTO transactions (
			external_id, account_id, ts, amount, currency,
			merchant, counterparty, country, channel, direction, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ExternalID, tx.AccountID, tx.TS.UTC(), tx.Amount, tx.Currency,
		tx.Merchant, tx.Counterparty, tx.Country, tx.Channel, tx.Direction,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	tx.ID = id
	return nil
}

// TransactionExists reports whether a transaction with the external id is
// already stored.
func (r *SQLRepository) TransactionExists(ctx context.Context, q Querier, externalID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		Rebind(r.driver, `SELECT 1 FROM transactions WHERE external_id = ?`),
		externalID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertAlert stores an alert produced by a rule hit and assigns its ID.
func (r *SQLRepository) InsertAlert(ctx context.Context, q Querier, a *domain.Alert) error {
	if a.Status == "" {
		a.Status = domain.AlertStatusOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	evidence, _ := json.Marshal(a.Evidence)

	id, err := r.insertReturningID(ctx, q, `
		INSERT INTO alerts (
			transaction_id, rule_id, severity, score_delta, reason, evidence,
			config_hash, rules_version, engine_version, correlation_id,
			status, disposition, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TransactionID, a.RuleID, a.Severity, a.ScoreDelta, a.Reason,
		string(evidence), a.ConfigHash, a.RulesVersion, a.EngineVersion,
		a.CorrelationID, a.Status, a.Disposition, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID = id
	return nil
}

// SetTransactionRisk writes the engine-owned fields of a scored transaction.
func (r *SQLRepository) SetTransactionRisk(ctx context.Context, q Querier, txnID int64, score float64, configHash, rulesVersion, engineVersion string) error {
	query := Rebind(r.driver, `
		UPDATE transactions
		SET risk_score = ?, config_hash = ?, rules_version = ?, engine_version = ?
		WHERE id = ?`)

	res, err := q.ExecContext(ctx, query, score, configHash, rulesVersion, engineVersion, txnID)
	if err != nil {
		return fmt.Errorf("set transaction risk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransactionRecord joins a transaction with the customer attributes the
// rules and scorer need, so chunk processing costs one query per chunk.
type TransactionRecord struct {
	domain.Transaction
	CustomerID int64
	BaseRisk   float64
}

// ListTransactionsAfter returns transactions with id > lastID in ascending id
// order, joined with their account's customer. limit <= 0 means no limit.
func (r *SQLRepository) ListTransactionsAfter(ctx context.Context, q Querier, lastID int64, limit int) ([]*TransactionRecord, error) {
	query := `
		SELECT t.id, t.external_id, t.account_id, t.ts, t.amount, t.currency,
			   t.merchant, t.counterparty, t.country, t.channel, t.direction,
			   t.metadata, t.risk_score, a.customer_id, c.base_risk
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		JOIN customers c ON c.id = a.customer_id
		WHERE t.id > ?
		ORDER BY t.id ASC`
	args := []any{lastID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, Rebind(r.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var records []*TransactionRecord
	for rows.Next() {
		var (
			rec      TransactionRecord
			metadata sql.NullString
			score    sql.NullFloat64
		)
		if err := rows.Scan(
			&rec.ID, &rec.ExternalID, &rec.AccountID, &rec.TS, &rec.Amount, &rec.Currency,
			&rec.Merchant, &rec.Counterparty, &rec.Country, &rec.Channel, &rec.Direction,
			&metadata, &score, &rec.CustomerID, &rec.BaseRisk,
		); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &rec.Metadata)
		}
		if score.Valid {
			rec.RiskScore = &score.Float64
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// UpsertEdge stores an aggregated relationship edge, updating the existing
// row for the (src, dst) pair if one exists. The seen window widens on
// update (min first, max last) while the count is overwritten with the fresh
// aggregate. Select-then-write keeps the statement portable across both
// drivers; the builder serializes writes.
func (r *SQLRepository) UpsertEdge(ctx context.Context, q Querier, e *domain.RelationshipEdge) error {
	var (
		id          int64
		firstSeenAt time.Time
		lastSeenAt  time.Time
	)
	err := q.QueryRowContext(ctx, Rebind(r.driver, `
		SELECT id, first_seen_at, last_seen_at FROM relationship_edges
		WHERE src_type = ? AND src_id = ? AND dst_type = ? AND dst_key = ?`),
		e.SrcType, e.SrcID, e.DstType, e.DstKey,
	).Scan(&id, &firstSeenAt, &lastSeenAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, err = r.insertReturningID(ctx, q, `
			INSERT INTO relationship_edges (
				src_type, src_id, dst_type, dst_key,
				first_seen_at, last_seen_at, txn_count, correlation_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.SrcType, e.SrcID, e.DstType, e.DstKey,
			e.FirstSeenAt.UTC(), e.LastSeenAt.UTC(), e.TxnCount, e.CorrelationID,
		)
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		e.ID = id
		return nil
	case err != nil:
		return fmt.Errorf("lookup edge: %w", err)
	}

	if firstSeenAt.Before(e.FirstSeenAt) {
		e.FirstSeenAt = firstSeenAt
	}
	if lastSeenAt.After(e.LastSeenAt) {
		e.LastSeenAt = lastSeenAt
	}
	_, err = q.ExecContext(ctx, Rebind(r.driver, `
		UPDATE relationship_edges
		SET first_seen_at = ?, last_seen_at = ?, txn_count = ?, correlation_id = ?
		WHERE id = ?`),
		e.FirstSeenAt.UTC(), e.LastSeenAt.UTC(), e.TxnCount, e.CorrelationID, id,
	)
	if err != nil {
		return fmt.Errorf("update edge: %w", err)
	}
	e.ID = id
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// insertReturningID runs an INSERT and returns the generated id, papering
// over the drivers' split between RETURNING and LastInsertId.
func (r *SQLRepository) insertReturningID(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	if r.driver == "postgres" {
		var id int64
		err := q.QueryRowContext(ctx, Rebind(r.driver, query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func Rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
