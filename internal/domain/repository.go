// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Document operations
	SaveDocument(ctx context.Context, tenantID string, doc *Document) error
	GetDocument(ctx context.Context, tenantID string, docID string) (*Document, error)
	DeleteDocument(ctx context.Context, tenantID string, docID string) error

	// CountByExternalID counts documents in the tenant carrying the same
	// external identifier, excluding the given document. Point-in-time
	// read; a duplicate slipping through a concurrent-write race is
	// tolerated.
	CountByExternalID(ctx context.Context, tenantID string, externalID string, excludeDocID string) (int64, error)

	// ListDocuments returns a business unit's documents created since the
	// given time, newest first, bounded by limit. Feeds the statistical
	// fraud detectors.
	ListDocuments(ctx context.Context, tenantID string, businessUnitID string, since time.Time, limit int) ([]*Document, error)

	// GetCounterpartyDocuments returns documents for a business unit
	// matching the counterparty identity, excluding the given document.
	// Tax-id match is preferred when taxID is non-empty; otherwise exact
	// name match. The exclusion keeps a document out of its own baseline
	// so re-evaluation sees the same history as the first run.
	GetCounterpartyDocuments(ctx context.Context, tenantID string, businessUnitID string, name string, taxID string, excludeDocID string) ([]*Document, error)

	// Rule catalog operations
	SaveRule(ctx context.Context, tenantID string, rule *RiskRule) error
	GetRule(ctx context.Context, tenantID string, scope RuleScope, code string) (*RiskRule, error)
	// ListRules returns active rules for the scope owned by the tenant or
	// globally ("*"). Entity-specific rules shadow global ones by code.
	ListRules(ctx context.Context, tenantID string, scope RuleScope) ([]*RiskRule, error)

	// Score operations. Upserts replace the prior record for the subject.
	UpsertScore(ctx context.Context, tenantID string, score *RiskScore) error
	GetScore(ctx context.Context, tenantID string, subjectType SubjectType, subjectID string) (*RiskScore, error)
	DeleteScore(ctx context.Context, tenantID string, subjectType SubjectType, subjectID string) error

	// ListScores returns document scores for a business unit generated
	// since the given time, newest first, bounded by limit.
	ListScores(ctx context.Context, tenantID string, businessUnitID string, since time.Time, limit int) ([]*RiskScore, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
