package repository

import "fmt"

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL; the auto-increment primary key
// is the only dialect split, injected per driver.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id %s,
    name TEXT NOT NULL,
    country TEXT,
    base_risk REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
`

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id %s,
    customer_id BIGINT NOT NULL,
    number TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(customer_id);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id %s,
    external_id TEXT NOT NULL UNIQUE,
    account_id BIGINT NOT NULL,
    ts TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    merchant TEXT,
    counterparty TEXT,
    country TEXT,
    channel TEXT,
    direction TEXT,
    metadata TEXT,
    risk_score REAL,
    config_hash TEXT,
    rules_version TEXT,
    engine_version TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, ts);
CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions(ts);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id %s,
    transaction_id BIGINT NOT NULL,
    rule_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    score_delta REAL NOT NULL,
    reason TEXT NOT NULL,
    evidence TEXT,
    config_hash TEXT,
    rules_version TEXT,
    engine_version TEXT,
    correlation_id TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    disposition TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id);
CREATE INDEX IF NOT EXISTS idx_alerts_correlation ON alerts(correlation_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
`

const schemaRelationshipEdges = `
CREATE TABLE IF NOT EXISTS relationship_edges (
    id %s,
    src_type TEXT NOT NULL,
    src_id BIGINT NOT NULL,
    dst_type TEXT NOT NULL,
    dst_key TEXT NOT NULL,
    first_seen_at TIMESTAMP NOT NULL,
    last_seen_at TIMESTAMP NOT NULL,
    txn_count BIGINT NOT NULL DEFAULT 0,
    correlation_id TEXT,
    UNIQUE (src_type, src_id, dst_type, dst_key)
);

CREATE INDEX IF NOT EXISTS idx_edges_dst ON relationship_edges(dst_type, dst_key);
CREATE INDEX IF NOT EXISTS idx_edges_src_seen ON relationship_edges(src_type, src_id, last_seen_at);
`

const schemaAuditLogs = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id %s,
    correlation_id TEXT,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT,
    ts TIMESTAMP NOT NULL,
    actor TEXT NOT NULL,
    details TEXT,
    prev_hash TEXT,
    row_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_logs(correlation_id);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs(correlation_id, action);
`

// AllSchemas returns all schema statements in order, rendered for the driver.
func AllSchemas(driver string) []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	templates := []string{
		schemaCustomers,
		schemaAccounts,
		schemaTransactions,
		schemaAlerts,
		schemaRelationshipEdges,
		schemaAuditLogs,
	}

	schemas := make([]string, 0, len(templates))
	for _, t := range templates {
		schemas = append(schemas, fmt.Sprintf(t, pk))
	}
	return schemas
}
