// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
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
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveDocument stores a document with tenant isolation. Re-submitting
// the same document ID replaces the stored record.
func (r *SQLRepository) SaveDocument(ctx context.Context, tenantID string, doc *domain.Document) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	lineItems, _ := json.Marshal(doc.LineItems)
	metadata, _ := json.Marshal(doc.Metadata)

	parseFailed := 0
	if doc.ParseFailed {
		parseFailed = 1
	}

	query := `
		INSERT INTO documents (
			id, tenant_id, business_unit_id, type, external_id,
			counterparty_name, counterparty_tax_id,
			total_amount, tax_amount, net_amount, currency,
			line_items, issue_date, due_date, created_at, parse_failed, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_unit_id = excluded.business_unit_id,
			type = excluded.type,
			external_id = excluded.external_id,
			counterparty_name = excluded.counterparty_name,
			counterparty_tax_id = excluded.counterparty_tax_id,
			total_amount = excluded.total_amount,
			tax_amount = excluded.tax_amount,
			net_amount = excluded.net_amount,
			currency = excluded.currency,
			line_items = excluded.line_items,
			issue_date = excluded.issue_date,
			due_date = excluded.due_date,
			parse_failed = excluded.parse_failed,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		doc.ID, tenantID, doc.BusinessUnitID, doc.Type, doc.ExternalID,
		doc.CounterpartyName, doc.CounterpartyTaxID,
		doc.TotalAmount, doc.TaxAmount, doc.NetAmount, doc.Currency,
		string(lineItems), doc.IssueDate, doc.DueDate, doc.CreatedAt,
		parseFailed, string(metadata),
	)
	return err
}

// GetDocument retrieves a document by ID with tenant isolation.
func (r *SQLRepository) GetDocument(ctx context.Context, tenantID string, docID string) (*domain.Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, business_unit_id, type, external_id,
			   counterparty_name, counterparty_tax_id,
			   total_amount, tax_amount, net_amount, currency,
			   line_items, issue_date, due_date, created_at, parse_failed, metadata
		FROM documents
		WHERE tenant_id = ? AND id = ?
	`

	doc, err := scanDocument(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// DeleteDocument removes a document with tenant isolation.
func (r *SQLRepository) DeleteDocument(ctx context.Context, tenantID string, docID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM documents WHERE tenant_id = ? AND id = ?`), tenantID, docID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CountByExternalID counts other documents carrying the same external
// identifier within the tenant.
func (r *SQLRepository) CountByExternalID(ctx context.Context, tenantID string, externalID string, excludeDocID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM documents
		WHERE tenant_id = ? AND external_id = ? AND id != ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, externalID, excludeDocID).Scan(&count)
	return count, err
}

// ListDocuments retrieves a business unit's documents created since the
// given time, newest first, bounded by limit.
func (r *SQLRepository) ListDocuments(ctx context.Context, tenantID string, businessUnitID string, since time.Time, limit int) ([]*domain.Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, tenant_id, business_unit_id, type, external_id,
			   counterparty_name, counterparty_tax_id,
			   total_amount, tax_amount, net_amount, currency,
			   line_items, issue_date, due_date, created_at, parse_failed, metadata
		FROM documents
		WHERE tenant_id = ? AND business_unit_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, businessUnitID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// GetCounterpartyDocuments retrieves a business unit's documents matching
// the counterparty identity, excluding the given document so it never
// counts toward its own baseline. Matches on tax id when present,
// otherwise on exact name.
func (r *SQLRepository) GetCounterpartyDocuments(ctx context.Context, tenantID string, businessUnitID string, name string, taxID string, excludeDocID string) ([]*domain.Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, business_unit_id, type, external_id,
			   counterparty_name, counterparty_tax_id,
			   total_amount, tax_amount, net_amount, currency,
			   line_items, issue_date, due_date, created_at, parse_failed, metadata
		FROM documents
		WHERE tenant_id = ? AND business_unit_id = ? AND id != ?
	`
	args := []interface{}{tenantID, businessUnitID, excludeDocID}

	if taxID != "" {
		query += ` AND counterparty_tax_id = ?`
		args = append(args, taxID)
	} else {
		query += ` AND counterparty_name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// SaveRule stores a rule with tenant isolation. Saving an existing
// (code, scope) pair for the tenant replaces it.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.RiskRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	config, _ := json.Marshal(rule.Config)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO risk_rules (
			code, tenant_id, scope, name, description, weight, severity,
			expression, config, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code, tenant_id, scope) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			weight = excluded.weight,
			severity = excluded.severity,
			expression = excluded.expression,
			config = excluded.config,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Code, tenantID, rule.Scope, rule.Name, rule.Description,
		rule.Weight, rule.Severity, rule.Expression, string(config), enabled,
		now, now,
	)
	return err
}

// GetRule retrieves a rule by scope and code with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, scope domain.RuleScope, code string) (*domain.RiskRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT code, tenant_id, scope, name, description, weight, severity,
			   expression, config, enabled, created_at, updated_at
		FROM risk_rules
		WHERE tenant_id = ? AND scope = ? AND code = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, scope, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all rules for a tenant and scope, including
// disabled ones; the catalog filters on Enabled after merging.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string, scope domain.RuleScope) ([]*domain.RiskRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT code, tenant_id, scope, name, description, weight, severity,
			   expression, config, enabled, created_at, updated_at
		FROM risk_rules
		WHERE tenant_id = ? AND scope = ?
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RiskRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// UpsertScore stores a score, replacing any prior record for the same
// subject. Single statement, so a failed write never leaves a partial
// record behind.
func (r *SQLRepository) UpsertScore(ctx context.Context, tenantID string, score *domain.RiskScore) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	flags, _ := json.Marshal(score.Flags)
	codes, _ := json.Marshal(score.TriggeredCodes)

	query := `
		INSERT INTO risk_scores (
			id, tenant_id, subject_type, subject_id, score, severity,
			flags, triggered_codes, window_days, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, subject_type, subject_id) DO UPDATE SET
			id = excluded.id,
			score = excluded.score,
			severity = excluded.severity,
			flags = excluded.flags,
			triggered_codes = excluded.triggered_codes,
			window_days = excluded.window_days,
			generated_at = excluded.generated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.ID, tenantID, score.SubjectType, score.SubjectID,
		score.Score, score.Severity, string(flags), string(codes),
		score.WindowDays, score.GeneratedAt,
	)
	return err
}

// GetScore retrieves the current score for a subject with tenant isolation.
func (r *SQLRepository) GetScore(ctx context.Context, tenantID string, subjectType domain.SubjectType, subjectID string) (*domain.RiskScore, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, subject_type, subject_id, score, severity,
			   flags, triggered_codes, window_days, generated_at
		FROM risk_scores
		WHERE tenant_id = ? AND subject_type = ? AND subject_id = ?
	`

	score, err := scanScore(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subjectType, subjectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return score, err
}

// DeleteScore removes a subject's score with tenant isolation.
func (r *SQLRepository) DeleteScore(ctx context.Context, tenantID string, subjectType domain.SubjectType, subjectID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM risk_scores WHERE tenant_id = ? AND subject_type = ? AND subject_id = ?`),
		tenantID, subjectType, subjectID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListScores retrieves a business unit's document scores generated since
// the given time, newest first. The join resolves the business unit from
// the scored document; limit bounds the read.
func (r *SQLRepository) ListScores(ctx context.Context, tenantID string, businessUnitID string, since time.Time, limit int) ([]*domain.RiskScore, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT s.id, s.tenant_id, s.subject_type, s.subject_id, s.score, s.severity,
			   s.flags, s.triggered_codes, s.window_days, s.generated_at
		FROM risk_scores s
		JOIN documents d ON d.tenant_id = s.tenant_id AND d.id = s.subject_id
		WHERE s.tenant_id = ?
		  AND s.subject_type = 'document'
		  AND d.business_unit_id = ?
		  AND s.generated_at >= ?
		ORDER BY s.generated_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, businessUnitID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []*domain.RiskScore
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}

	return scores, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(s scanner) (*domain.Document, error) {
	var doc domain.Document
	var lineItems, metadata sql.NullString
	var externalID, name, taxID, currency sql.NullString
	var issueDate, dueDate sql.NullTime
	var parseFailed int

	err := s.Scan(
		&doc.ID, &doc.TenantID, &doc.BusinessUnitID, &doc.Type, &externalID,
		&name, &taxID,
		&doc.TotalAmount, &doc.TaxAmount, &doc.NetAmount, &currency,
		&lineItems, &issueDate, &dueDate, &doc.CreatedAt,
		&parseFailed, &metadata,
	)
	if err != nil {
		return nil, err
	}

	doc.ExternalID = externalID.String
	doc.CounterpartyName = name.String
	doc.CounterpartyTaxID = taxID.String
	doc.Currency = currency.String
	doc.ParseFailed = parseFailed == 1
	if issueDate.Valid {
		t := issueDate.Time
		doc.IssueDate = &t
	}
	if dueDate.Valid {
		t := dueDate.Time
		doc.DueDate = &t
	}
	if lineItems.Valid && lineItems.String != "" {
		json.Unmarshal([]byte(lineItems.String), &doc.LineItems)
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &doc.Metadata)
	}

	return &doc, nil
}

func scanRule(s scanner) (*domain.RiskRule, error) {
	var rule domain.RiskRule
	var description, expression, config sql.NullString
	var enabled int

	err := s.Scan(
		&rule.Code, &rule.TenantID, &rule.Scope, &rule.Name, &description,
		&rule.Weight, &rule.Severity, &expression, &config, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Expression = expression.String
	rule.Enabled = enabled == 1
	if config.Valid && config.String != "" {
		json.Unmarshal([]byte(config.String), &rule.Config)
	}

	return &rule, nil
}

func scanScore(s scanner) (*domain.RiskScore, error) {
	var score domain.RiskScore
	var flags, codes sql.NullString

	err := s.Scan(
		&score.ID, &score.TenantID, &score.SubjectType, &score.SubjectID,
		&score.Score, &score.Severity, &flags, &codes,
		&score.WindowDays, &score.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}

	if flags.Valid && flags.String != "" {
		json.Unmarshal([]byte(flags.String), &score.Flags)
	}
	if codes.Valid && codes.String != "" {
		json.Unmarshal([]byte(codes.String), &score.TriggeredCodes)
	}

	return &score, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
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
