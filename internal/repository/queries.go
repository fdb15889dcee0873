package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return r.getTransaction(ctx, `WHERE id = ?`, id)
}

// GetTransactionByExternalID retrieves a transaction by its stable external id.
func (r *SQLRepository) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	return r.getTransaction(ctx, `WHERE external_id = ?`, externalID)
}

func (r *SQLRepository) getTransaction(ctx context.Context, where string, arg any) (*domain.Transaction, error) {
	query := `
		SELECT id, external_id, account_id, ts, amount, currency,
			   merchant, counterparty, country, channel, direction,
			   metadata, risk_score, config_hash, rules_version, engine_version
		FROM transactions ` + where

	var (
		tx            domain.Transaction
		metadata      sql.NullString
		score         sql.NullFloat64
		configHash    sql.NullString
		rulesVersion  sql.NullString
		engineVersion sql.NullString
	)
	err := r.db.QueryRowContext(ctx, Rebind(r.driver, query), arg).Scan(
		&tx.ID, &tx.ExternalID, &tx.AccountID, &tx.TS, &tx.Amount, &tx.Currency,
		&tx.Merchant, &tx.Counterparty, &tx.Country, &tx.Channel, &tx.Direction,
		&metadata, &score, &configHash, &rulesVersion, &engineVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &tx.Metadata)
	}
	if score.Valid {
		tx.RiskScore = &score.Float64
	}
	tx.ConfigHash = configHash.String
	tx.RulesVersion = rulesVersion.String
	tx.EngineVersion = engineVersion.String

	return &tx, nil
}

// GetAccount retrieves an account by ID.
func (r *SQLRepository) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	query := `SELECT id, customer_id, number, created_at FROM accounts WHERE id = ?`

	var a domain.Account
	err := r.db.QueryRowContext(ctx, Rebind(r.driver, query), id).Scan(
		&a.ID, &a.CustomerID, &a.Number, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByNumber retrieves an account by its unique account number.
func (r *SQLRepository) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT id, customer_id, number, created_at FROM accounts WHERE number = ?`

	var a domain.Account
	err := r.db.QueryRowContext(ctx, Rebind(r.driver, query), number).Scan(
		&a.ID, &a.CustomerID, &a.Number, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetCustomer retrieves a customer by ID.
func (r *SQLRepository) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	query := `SELECT id, name, country, base_risk, created_at FROM customers WHERE id = ?`

	var c domain.Customer
	err := r.db.QueryRowContext(ctx, Rebind(r.driver, query), id).Scan(
		&c.ID, &c.Name, &c.Country, &c.BaseRisk, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, rule_id, severity, score_delta, reason, evidence,
			   config_hash, rules_version, engine_version, correlation_id,
			   status, disposition, created_at, updated_at
		FROM alerts
		WHERE 1 = 1`
	var args []any

	if filter.RuleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, filter.RuleID)
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	if filter.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, filter.CorrelationID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.TransactionID != 0 {
		query += ` AND transaction_id = ?`
		args = append(args, filter.TransactionID)
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, Rebind(r.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var (
			a           domain.Alert
			evidence    sql.NullString
			disposition sql.NullString
			updatedAt   sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.TransactionID, &a.RuleID, &a.Severity, &a.ScoreDelta, &a.Reason,
			&evidence, &a.ConfigHash, &a.RulesVersion, &a.EngineVersion, &a.CorrelationID,
			&a.Status, &disposition, &a.CreatedAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		if evidence.Valid && evidence.String != "" {
			json.Unmarshal([]byte(evidence.String), &a.Evidence)
		}
		a.Disposition = disposition.String
		if updatedAt.Valid {
			t := updatedAt.Time
			a.UpdatedAt = &t
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// ListAuditEntries retrieves audit entries matching the filter in chain order.
func (r *SQLRepository) ListAuditEntries(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, correlation_id, action, entity_type, entity_id, ts, actor,
			   details, prev_hash, row_hash
		FROM audit_logs
		WHERE 1 = 1`
	var args []any

	if filter.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, filter.CorrelationID)
	}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, Rebind(r.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var (
			e        domain.AuditEntry
			entityID sql.NullString
			details  sql.NullString
			prevHash sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.CorrelationID, &e.Action, &e.EntityType, &entityID,
			&e.TS, &e.Actor, &details, &prevHash, &e.RowHash,
		); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		e.PrevHash = prevHash.String
		if details.Valid && details.String != "" {
			json.Unmarshal([]byte(details.String), &e.Details)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListEdges retrieves relationship edges, optionally restricted to the build
// run that last touched them.
func (r *SQLRepository) ListEdges(ctx context.Context, correlationID string) ([]*domain.RelationshipEdge, error) {
	query := `
		SELECT id, src_type, src_id, dst_type, dst_key,
			   first_seen_at, last_seen_at, txn_count, correlation_id
		FROM relationship_edges`
	var args []any

	if correlationID != "" {
		query += ` WHERE correlation_id = ?`
		args = append(args, correlationID)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, Rebind(r.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []*domain.RelationshipEdge
	for rows.Next() {
		var (
			e   domain.RelationshipEdge
			cid sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.SrcType, &e.SrcID, &e.DstType, &e.DstKey,
			&e.FirstSeenAt, &e.LastSeenAt, &e.TxnCount, &cid,
		); err != nil {
			return nil, err
		}
		e.CorrelationID = cid.String
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
