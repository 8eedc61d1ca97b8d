package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// DefaultRules returns the built-in global rule set. Operators tune
// weights and thresholds per tenant via the rules API; these are the
// starting values seeded into an empty catalog.
func DefaultRules() []*domain.RiskRule {
	return []*domain.RiskRule{
		{
			Code:     domain.RuleDueBeforeIssue,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeDocument,
			Name:     "Due date before issue date",
			Weight:   20,
			Severity: domain.SeverityMedium,
			Enabled:  true,
		},
		{
			Code:     domain.RuleTotalMismatch,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeDocument,
			Name:     "Declared total does not match line sum",
			Weight:   30,
			Severity: domain.SeverityHigh,
			Config:   domain.RuleParams{ParamTolerance: 0.01},
			Enabled:  true,
		},
		{
			Code:     domain.RuleDuplicateDocID,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeDocument,
			Name:     "Duplicate external document number",
			Weight:   40,
			Severity: domain.SeverityHigh,
			Enabled:  true,
		},
		{
			Code:     domain.RuleMissingTaxID,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeDocument,
			Name:     "Missing counterparty tax identifier",
			Weight:   15,
			Severity: domain.SeverityLow,
			Config:   domain.RuleParams{ParamRequiredTypes: []interface{}{"invoice"}},
			Enabled:  true,
		},
		{
			Code:     domain.RuleParsingFailed,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeDocument,
			Name:     "Upstream parsing failure",
			Weight:   25,
			Severity: domain.SeverityMedium,
			Enabled:  true,
		},
		{
			Code:     domain.RuleManyHighRiskDocs,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeCompany,
			Name:     "Many high-risk documents",
			Weight:   35,
			Severity: domain.SeverityHigh,
			Config:   domain.RuleParams{ParamThreshold: 5, ParamWindowDays: 90},
			Enabled:  true,
		},
		{
			Code:     domain.RuleHighRiskRatio,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeCompany,
			Name:     "High share of high-risk documents",
			Weight:   30,
			Severity: domain.SeverityHigh,
			Config:   domain.RuleParams{ParamRatio: 0.30, ParamWindowDays: 90},
			Enabled:  true,
		},
		{
			Code:     domain.RuleFrequentDuplicates,
			TenantID: domain.GlobalTenantID,
			Scope:    domain.ScopeCompany,
			Name:     "Frequent duplicate document numbers",
			Weight:   25,
			Severity: domain.SeverityMedium,
			Config:   domain.RuleParams{ParamThreshold: 3, ParamWindowDays: 90},
			Enabled:  true,
		},
	}
}
