package repository

// Schema definitions for Merlin database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    amount_minor BIGINT NOT NULL,
    currency TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    merchant_name TEXT,
    merchant_category TEXT,
    merchant_country TEXT NOT NULL,
    channel TEXT NOT NULL,
    home_country TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    device_id TEXT,
    ip_address TEXT,
    city TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, timestamp);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    score REAL NOT NULL,
    decision TEXT NOT NULL,
    severity TEXT NOT NULL,
    reasons TEXT,
    rule_score REAL NOT NULL,
    ensemble TEXT NOT NULL,
    rule_results TEXT,
    config_version TEXT NOT NULL,
    model_version TEXT,
    timestamp TIMESTAMP NOT NULL,
    trace_id TEXT,
    process_ms BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_assessments_tx ON assessments(tx_id);
CREATE INDEX IF NOT EXISTS idx_assessments_account_ts ON assessments(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_assessments_decision ON assessments(decision);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL UNIQUE,
    account_id TEXT NOT NULL,
    assessment TEXT NOT NULL,
    status TEXT NOT NULL,
    severity TEXT NOT NULL,
    assignee TEXT,
    resolution_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts(account_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, created_at);
`

const schemaEngineConfigs = `
CREATE TABLE IF NOT EXISTS engine_configs (
    version TEXT PRIMARY KEY,
    config TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAssessments,
		schemaAlerts,
		schemaEngineConfigs,
	}
}
