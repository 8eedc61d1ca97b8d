package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRuleSet retrieves a cached rule list for a scope.
	GetRuleSet(ctx context.Context, tenantID string, scope RuleScope) ([]*RiskRule, error)

	// SetRuleSet caches the active rule list for a scope. Invalidated on
	// catalog reload.
	SetRuleSet(ctx context.Context, tenantID string, scope RuleScope, rules []*RiskRule, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for duplicate-sighting counters within a rolling window.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RuleSetKey is the cache key for a scope's active rule list.
func RuleSetKey(scope RuleScope) string {
	return "rules:" + string(scope)
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
