package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Config map keys read by the built-in company rules.
const (
	ParamThreshold  = "threshold"
	ParamRatio      = "ratio"
	ParamWindowDays = "window_days"
)

// Company rule defaults, overridable per rule via its config map.
const (
	DefaultCompanyWindow      = 90 * 24 * time.Hour
	DefaultHighRiskThreshold  = 5
	DefaultHighRiskRatio      = 0.30
	DefaultDuplicateThreshold = 3
)

// WindowStats are the rolling aggregates the company rules evaluate.
type WindowStats struct {
	TotalDocs      int
	HighRiskDocs   int
	DuplicateFlags int
	Window         time.Duration
}

// CompanyEvaluator applies company-scoped rules over a rolling window of
// already-scored documents for one business unit.
type CompanyEvaluator struct {
	repo      domain.Repository
	pageLimit int
}

// NewCompanyEvaluator creates the company rule evaluator. pageLimit
// bounds how many score rows one window query reads.
func NewCompanyEvaluator(repo domain.Repository, pageLimit int) *CompanyEvaluator {
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	return &CompanyEvaluator{repo: repo, pageLimit: pageLimit}
}

// Evaluate computes window aggregates once per distinct window among the
// rules, then applies each company rule against them. Per-rule isolation
// matches the document evaluator: a failing rule is logged and skipped.
func (e *CompanyEvaluator) Evaluate(ctx context.Context, tenantID, businessUnitID string, ruleList []*domain.RiskRule) []domain.RiskFlag {
	statsByWindow := make(map[time.Duration]*WindowStats)

	var flags []domain.RiskFlag
	for _, rule := range ruleList {
		if rule.Scope != domain.ScopeCompany || !rule.Enabled {
			continue
		}

		window := rule.Config.Days(ParamWindowDays, DefaultCompanyWindow)
		stats, ok := statsByWindow[window]
		if !ok {
			var err error
			stats, err = e.windowStats(ctx, tenantID, businessUnitID, window)
			if err != nil {
				slog.Warn("company rule failed, recorded as not triggered",
					"tenant_id", tenantID,
					"business_unit_id", businessUnitID,
					"rule_code", rule.Code,
					"error", err,
				)
				continue
			}
			statsByWindow[window] = stats
		}

		hit, evidence := evaluateCompanyRule(rule, stats)
		if !hit {
			continue
		}

		flags = append(flags, domain.RiskFlag{
			Code:     rule.Code,
			Severity: rule.Severity,
			Weight:   rule.Weight,
			Evidence: evidence,
		})
	}

	return flags
}

// windowStats derives counts and ratios from the window's document
// scores. The read is bounded by the configured page limit rather than
// loading unbounded history.
func (e *CompanyEvaluator) windowStats(ctx context.Context, tenantID, businessUnitID string, window time.Duration) (*WindowStats, error) {
	since := time.Now().UTC().Add(-window)
	scores, err := e.repo.ListScores(ctx, tenantID, businessUnitID, since, e.pageLimit)
	if err != nil {
		return nil, fmt.Errorf("window score query: %w", err)
	}

	stats := &WindowStats{Window: window}
	for _, s := range scores {
		if s.SubjectType != domain.SubjectDocument {
			continue
		}
		stats.TotalDocs++
		if s.Severity == domain.SeverityHigh {
			stats.HighRiskDocs++
		}
		for _, code := range s.TriggeredCodes {
			if code == domain.RuleDuplicateDocID {
				stats.DuplicateFlags++
			}
		}
	}

	return stats, nil
}

func evaluateCompanyRule(rule *domain.RiskRule, stats *WindowStats) (bool, string) {
	days := int(stats.Window.Hours() / 24)

	switch rule.Code {
	case domain.RuleManyHighRiskDocs:
		threshold := rule.Config.Int(ParamThreshold, DefaultHighRiskThreshold)
		if stats.HighRiskDocs > threshold {
			return true, fmt.Sprintf("%d high-risk documents in the last %d days (threshold %d)",
				stats.HighRiskDocs, days, threshold)
		}

	case domain.RuleHighRiskRatio:
		if stats.TotalDocs == 0 {
			return false, ""
		}
		ratio := rule.Config.Float(ParamRatio, DefaultHighRiskRatio)
		observed := float64(stats.HighRiskDocs) / float64(stats.TotalDocs)
		if observed > ratio {
			return true, fmt.Sprintf("%.0f%% of %d documents are high-risk in the last %d days (threshold %.0f%%)",
				observed*100, stats.TotalDocs, days, ratio*100)
		}

	case domain.RuleFrequentDuplicates:
		threshold := rule.Config.Int(ParamThreshold, DefaultDuplicateThreshold)
		if stats.DuplicateFlags > threshold {
			return true, fmt.Sprintf("%d duplicate-identifier flags in the last %d days (threshold %d)",
				stats.DuplicateFlags, days, threshold)
		}
	}

	return false, ""
}
