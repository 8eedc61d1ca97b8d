package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    business_unit_id TEXT NOT NULL,
    type TEXT NOT NULL,
    external_id TEXT,
    counterparty_name TEXT,
    counterparty_tax_id TEXT,
    total_amount REAL NOT NULL,
    tax_amount REAL NOT NULL DEFAULT 0,
    net_amount REAL NOT NULL DEFAULT 0,
    currency TEXT,
    line_items TEXT,
    issue_date TIMESTAMP,
    due_date TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    parse_failed INTEGER NOT NULL DEFAULT 0,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);
CREATE INDEX IF NOT EXISTS idx_documents_external ON documents(tenant_id, external_id);
CREATE INDEX IF NOT EXISTS idx_documents_unit ON documents(tenant_id, business_unit_id);
CREATE INDEX IF NOT EXISTS idx_documents_counterparty ON documents(tenant_id, business_unit_id, counterparty_tax_id);
`

const schemaRiskRules = `
CREATE TABLE IF NOT EXISTS risk_rules (
    code TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    scope TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    weight REAL NOT NULL DEFAULT 1.0,
    severity TEXT NOT NULL,
    expression TEXT,
    config TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (code, tenant_id, scope)
);

CREATE INDEX IF NOT EXISTS idx_risk_rules_tenant ON risk_rules(tenant_id, scope);
`

// schemaRiskScores keys scores by subject so re-evaluation replaces the
// prior record instead of accumulating rows.
const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    subject_type TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    score REAL NOT NULL,
    severity TEXT NOT NULL,
    flags TEXT,
    triggered_codes TEXT,
    window_days INTEGER NOT NULL DEFAULT 0,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, subject_type, subject_id)
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_generated ON risk_scores(tenant_id, generated_at);
CREATE INDEX IF NOT EXISTS idx_risk_scores_severity ON risk_scores(tenant_id, severity);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDocuments,
		schemaRiskRules,
		schemaRiskScores,
	}
}
