package rules

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// fakeRuleRepo serves rules keyed by tenant.
type fakeRuleRepo struct {
	domain.Repository
	byTenant map[string][]*domain.RiskRule
	calls    int
}

func (f *fakeRuleRepo) ListRules(ctx context.Context, tenantID string, scope domain.RuleScope) ([]*domain.RiskRule, error) {
	f.calls++
	var out []*domain.RiskRule
	for _, r := range f.byTenant[tenantID] {
		if r.Scope == scope {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeRuleCache is an in-memory rule set cache.
type fakeRuleCache struct {
	domain.Cache
	sets    map[string][]*domain.RiskRule
	deletes []string
}

func (c *fakeRuleCache) key(tenantID string, scope domain.RuleScope) string {
	return tenantID + "/" + domain.RuleSetKey(scope)
}

func (c *fakeRuleCache) GetRuleSet(ctx context.Context, tenantID string, scope domain.RuleScope) ([]*domain.RiskRule, error) {
	return c.sets[c.key(tenantID, scope)], nil
}

func (c *fakeRuleCache) SetRuleSet(ctx context.Context, tenantID string, scope domain.RuleScope, rules []*domain.RiskRule, ttl time.Duration) error {
	if c.sets == nil {
		c.sets = make(map[string][]*domain.RiskRule)
	}
	c.sets[c.key(tenantID, scope)] = rules
	return nil
}

func (c *fakeRuleCache) Delete(ctx context.Context, tenantID, key string) error {
	c.deletes = append(c.deletes, tenantID+"/"+key)
	delete(c.sets, tenantID+"/"+key)
	return nil
}

func globalRule(code string, weight float64) *domain.RiskRule {
	return &domain.RiskRule{
		Code:     code,
		TenantID: domain.GlobalTenantID,
		Scope:    domain.ScopeDocument,
		Weight:   weight,
		Severity: domain.SeverityMedium,
		Enabled:  true,
	}
}

func TestActiveRulesMergesEntityOverGlobal(t *testing.T) {
	repo := &fakeRuleRepo{byTenant: map[string][]*domain.RiskRule{
		domain.GlobalTenantID: {globalRule("a", 10), globalRule("b", 20)},
		"t1": {{
			Code:     "b",
			TenantID: "t1",
			Scope:    domain.ScopeDocument,
			Weight:   50, // tenant override shadows the global weight
			Severity: domain.SeverityHigh,
			Enabled:  true,
		}},
	}}

	c := NewCatalog(repo, nil, time.Minute)
	rules, err := c.ActiveRules(context.Background(), "t1", domain.ScopeDocument)
	if err != nil {
		t.Fatalf("ActiveRules failed: %v", err)
	}

	if len(rules) != 2 {
		t.Fatalf("expected 2 merged rules, got %d", len(rules))
	}
	if rules[0].Code != "a" || rules[1].Code != "b" {
		t.Errorf("expected rules ordered by code, got [%s %s]", rules[0].Code, rules[1].Code)
	}
	if rules[1].Weight != 50 {
		t.Errorf("entity rule must shadow global, got weight %.0f", rules[1].Weight)
	}
}

func TestActiveRulesExcludesDisabled(t *testing.T) {
	disabled := globalRule("off", 10)
	disabled.Enabled = false
	repo := &fakeRuleRepo{byTenant: map[string][]*domain.RiskRule{
		domain.GlobalTenantID: {globalRule("on", 10), disabled},
	}}

	c := NewCatalog(repo, nil, time.Minute)
	rules, err := c.ActiveRules(context.Background(), "t1", domain.ScopeDocument)
	if err != nil {
		t.Fatalf("ActiveRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Code != "on" {
		t.Errorf("disabled rules must be excluded, got %+v", rules)
	}
}

func TestActiveRulesDisableViaOverride(t *testing.T) {
	// A tenant disables a global rule by overriding it with Enabled=false.
	repo := &fakeRuleRepo{byTenant: map[string][]*domain.RiskRule{
		domain.GlobalTenantID: {globalRule("a", 10)},
		"t1": {{
			Code:     "a",
			TenantID: "t1",
			Scope:    domain.ScopeDocument,
			Weight:   10,
			Severity: domain.SeverityMedium,
			Enabled:  false,
		}},
	}}

	c := NewCatalog(repo, nil, time.Minute)
	rules, err := c.ActiveRules(context.Background(), "t1", domain.ScopeDocument)
	if err != nil {
		t.Fatalf("ActiveRules failed: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("tenant override must be able to disable a global rule, got %+v", rules)
	}
}

func TestActiveRulesCacheReadThrough(t *testing.T) {
	repo := &fakeRuleRepo{byTenant: map[string][]*domain.RiskRule{
		domain.GlobalTenantID: {globalRule("a", 10)},
	}}
	cache := &fakeRuleCache{}

	c := NewCatalog(repo, cache, time.Minute)
	ctx := context.Background()

	if _, err := c.ActiveRules(ctx, "t1", domain.ScopeDocument); err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	callsAfterMiss := repo.calls

	if _, err := c.ActiveRules(ctx, "t1", domain.ScopeDocument); err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if repo.calls != callsAfterMiss {
		t.Errorf("second lookup must be served from cache, repo calls went %d -> %d", callsAfterMiss, repo.calls)
	}
}

func TestInvalidateDropsBothScopes(t *testing.T) {
	cache := &fakeRuleCache{}
	c := NewCatalog(&fakeRuleRepo{}, cache, time.Minute)

	c.Invalidate(context.Background(), "t1")
	if len(cache.deletes) != 2 {
		t.Errorf("expected both scope keys invalidated, got %v", cache.deletes)
	}
}
