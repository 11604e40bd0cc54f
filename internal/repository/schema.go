package repository

// Schema definitions for the Kestrel case book.
// Compatible with both SQLite and PostgreSQL.

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    customer_name TEXT NOT NULL,
    account_number TEXT NOT NULL,
    transactions TEXT NOT NULL,
    sar_narrative TEXT NOT NULL,
    edited_narrative TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'DRAFT',
    risk_score INTEGER NOT NULL,
    typology TEXT NOT NULL,
    priority TEXT NOT NULL,
    fallback INTEGER NOT NULL DEFAULT 0,
    analyst_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    decided_at TIMESTAMP,
    decided_by TEXT NOT NULL DEFAULT '',
    reject_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_cases_account ON cases(account_number, created_at);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at);
`

const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    action TEXT NOT NULL,
    analyst TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    data_used TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_case ON audit_log(case_id, timestamp);
`

// schemaTemplates mirrors the retrieval index so its contents survive restarts.
const schemaTemplates = `
CREATE TABLE IF NOT EXISTS sar_templates (
    id TEXT PRIMARY KEY,
    typology TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCases,
		schemaAuditLog,
		schemaTemplates,
	}
}
