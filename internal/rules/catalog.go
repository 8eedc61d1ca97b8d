// Package rules provides the document and company rule evaluation engines.
package rules

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Catalog serves active rule lists with a read-through cache in front of
// the repository. Entity-specific rules shadow global rules by code.
type Catalog struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewCatalog creates a rule catalog. cache may be nil, in which case
// every lookup goes to the repository.
func NewCatalog(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{repo: repo, cache: cache, ttl: ttl}
}

// ActiveRules returns the active rules for the scope applicable to the
// tenant: global rules plus entity-specific ones, with entity rules
// shadowing global rules that share a code. Results are ordered by code
// for deterministic evaluation.
func (c *Catalog) ActiveRules(ctx context.Context, tenantID string, scope domain.RuleScope) ([]*domain.RiskRule, error) {
	if c.cache != nil {
		cached, err := c.cache.GetRuleSet(ctx, tenantID, scope)
		if err != nil {
			slog.Warn("rule cache read failed", "tenant_id", tenantID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	rules, err := c.loadRules(ctx, tenantID, scope)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetRuleSet(ctx, tenantID, scope, rules, c.ttl); err != nil {
			slog.Warn("rule cache write failed", "tenant_id", tenantID, "error", err)
		}
	}

	return rules, nil
}

// Invalidate drops cached rule lists for a tenant after a catalog change.
func (c *Catalog) Invalidate(ctx context.Context, tenantID string) {
	if c.cache == nil {
		return
	}
	for _, scope := range []domain.RuleScope{domain.ScopeDocument, domain.ScopeCompany} {
		if err := c.cache.Delete(ctx, tenantID, domain.RuleSetKey(scope)); err != nil {
			slog.Warn("rule cache invalidation failed", "tenant_id", tenantID, "error", err)
		}
	}
}

func (c *Catalog) loadRules(ctx context.Context, tenantID string, scope domain.RuleScope) ([]*domain.RiskRule, error) {
	global, err := c.repo.ListRules(ctx, domain.GlobalTenantID, scope)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*domain.RiskRule, len(global))
	for _, r := range global {
		merged[r.Code] = r
	}

	if tenantID != domain.GlobalTenantID {
		own, err := c.repo.ListRules(ctx, tenantID, scope)
		if err != nil {
			return nil, err
		}
		for _, r := range own {
			merged[r.Code] = r
		}
	}

	rules := make([]*domain.RiskRule, 0, len(merged))
	for _, r := range merged {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Code < rules[j].Code })

	return rules, nil
}
