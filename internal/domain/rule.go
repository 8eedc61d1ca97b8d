package domain

import "time"

// RuleScope determines the granularity a rule is evaluated at.
type RuleScope string

const (
	// ScopeDocument rules run against a single document's fields/features.
	ScopeDocument RuleScope = "document"

	// ScopeCompany rules run against rolling per-business-unit aggregates.
	ScopeCompany RuleScope = "company"
)

// Built-in document-scoped rule codes. The catalog may define more rules
// (expression rules) without changing the evaluator.
const (
	RuleDueBeforeIssue = "due_before_issue"
	RuleTotalMismatch  = "total_mismatch"
	RuleDuplicateDocID = "duplicate_external_id"
	RuleMissingTaxID   = "missing_tax_id"
	RuleParsingFailed  = "parsing_failed"
)

// Built-in company-scoped rule codes.
const (
	RuleManyHighRiskDocs   = "many_high_risk_docs"
	RuleHighRiskRatio      = "high_risk_ratio"
	RuleFrequentDuplicates = "frequent_duplicates"
)

// GlobalTenantID marks rules that apply to all tenants.
const GlobalTenantID = "*"

// RiskRule defines a scoring rule. Rules are owned by configuration
// management and read-only during evaluation. TenantID "*" marks a global
// rule; a concrete TenantID scopes the rule to that entity.
type RiskRule struct {
	Code        string    `json:"code"`
	TenantID    string    `json:"tenantId"`
	Scope       RuleScope `json:"scope"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	// Weight is the rule's contribution to the aggregate score. Must be > 0.
	Weight float64 `json:"weight"`

	// Severity reported on the flag when the rule triggers.
	Severity Severity `json:"severity"`

	// Expression is an optional CEL expression over the document feature
	// map. Empty for built-in rules, which are dispatched by Code.
	Expression string `json:"expression,omitempty"`

	// Config is a free-form per-rule configuration map (thresholds,
	// windows, tolerances). Read via the typed accessors below.
	Config RuleParams `json:"config,omitempty"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RuleParams is the free-form rule configuration map with typed getters.
// New rules tune behavior through it without code changes.
type RuleParams map[string]interface{}

// Float returns the named numeric parameter, or def when absent or not
// numeric. JSON decoding yields float64 for all numbers.
func (p RuleParams) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int returns the named integer parameter, or def when absent.
func (p RuleParams) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// String returns the named string parameter, or def when absent.
func (p RuleParams) String(key string, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Days reads the named parameter as a number of days, or def when absent.
// Rolling windows are configured in days.
func (p RuleParams) Days(key string, def time.Duration) time.Duration {
	switch n := p[key].(type) {
	case float64:
		return time.Duration(n * 24 * float64(time.Hour))
	case int:
		return time.Duration(n) * 24 * time.Hour
	default:
		return def
	}
}

// RiskFlag is one triggered condition: a rule hit or a detector signal.
// Immutable once created.
type RiskFlag struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Weight   float64  `json:"weight"`

	// Evidence is a human-readable account of why the flag was raised.
	Evidence string `json:"evidence,omitempty"`
}
