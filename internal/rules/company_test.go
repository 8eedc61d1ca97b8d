package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// fakeScoreRepo returns canned window scores.
type fakeScoreRepo struct {
	domain.Repository
	scores  []*domain.RiskScore
	listErr error
	calls   int
}

func (f *fakeScoreRepo) ListScores(ctx context.Context, tenantID, businessUnitID string, since time.Time, limit int) ([]*domain.RiskScore, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.scores, nil
}

func docScore(id string, severity domain.Severity, codes ...string) *domain.RiskScore {
	return &domain.RiskScore{
		ID:             id,
		SubjectType:    domain.SubjectDocument,
		SubjectID:      id,
		Severity:       severity,
		TriggeredCodes: codes,
		GeneratedAt:    time.Now().UTC(),
	}
}

func companyRules() []*domain.RiskRule {
	return DefaultRules()[5:]
}

func TestCompanyHighRiskCountAndRatio(t *testing.T) {
	// 6 of 10 documents high-risk: over both the count threshold (5)
	// and the ratio threshold (0.30).
	repo := &fakeScoreRepo{}
	for i := 0; i < 6; i++ {
		repo.scores = append(repo.scores, docScore("h", domain.SeverityHigh))
	}
	for i := 0; i < 4; i++ {
		repo.scores = append(repo.scores, docScore("l", domain.SeverityLow))
	}

	e := NewCompanyEvaluator(repo, 0)
	flags := e.Evaluate(context.Background(), "t1", "bu-1", companyRules())

	if !hasFlag(flags, domain.RuleManyHighRiskDocs) {
		t.Error("expected many_high_risk_docs to trigger at 6 > 5")
	}
	if !hasFlag(flags, domain.RuleHighRiskRatio) {
		t.Error("expected high_risk_ratio to trigger at 0.60 > 0.30")
	}
}

func TestCompanyUnderThresholds(t *testing.T) {
	// 2 of 10 high-risk: under both thresholds.
	repo := &fakeScoreRepo{}
	for i := 0; i < 2; i++ {
		repo.scores = append(repo.scores, docScore("h", domain.SeverityHigh))
	}
	for i := 0; i < 8; i++ {
		repo.scores = append(repo.scores, docScore("l", domain.SeverityLow))
	}

	e := NewCompanyEvaluator(repo, 0)
	flags := e.Evaluate(context.Background(), "t1", "bu-1", companyRules())
	if len(flags) != 0 {
		t.Errorf("expected no flags, got %+v", flags)
	}
}

func TestCompanyFrequentDuplicates(t *testing.T) {
	repo := &fakeScoreRepo{}
	for i := 0; i < 4; i++ {
		repo.scores = append(repo.scores, docScore("d", domain.SeverityMedium, domain.RuleDuplicateDocID))
	}

	e := NewCompanyEvaluator(repo, 0)
	flags := e.Evaluate(context.Background(), "t1", "bu-1", companyRules())
	if !hasFlag(flags, domain.RuleFrequentDuplicates) {
		t.Error("expected frequent_duplicates to trigger at 4 > 3")
	}
}

func TestCompanyRatioSkippedWhenEmpty(t *testing.T) {
	// No documents in the window: ratio rule must not divide by zero or
	// trigger.
	e := NewCompanyEvaluator(&fakeScoreRepo{}, 0)
	flags := e.Evaluate(context.Background(), "t1", "bu-1", companyRules())
	if len(flags) != 0 {
		t.Errorf("expected no flags for empty window, got %+v", flags)
	}
}

func TestCompanyIgnoresNonDocumentScores(t *testing.T) {
	// A stored company score in the window must not count as a document.
	repo := &fakeScoreRepo{scores: []*domain.RiskScore{
		{ID: "c1", SubjectType: domain.SubjectCompany, SubjectID: "bu-1", Severity: domain.SeverityHigh},
	}}

	e := NewCompanyEvaluator(repo, 0)
	flags := e.Evaluate(context.Background(), "t1", "bu-1", companyRules())
	if len(flags) != 0 {
		t.Errorf("company scores must be excluded from window stats, got %+v", flags)
	}
}

func TestCompanyQueryErrorIsolated(t *testing.T) {
	e := NewCompanyEvaluator(&fakeScoreRepo{listErr: errors.New("db down")}, 0)
	flags := e.Evaluate(context.Background(), "t1", "bu-1", companyRules())
	if len(flags) != 0 {
		t.Errorf("failed window query must record rules as not triggered, got %+v", flags)
	}
}

func TestCompanyStatsComputedOncePerWindow(t *testing.T) {
	// The three default rules share a 90-day window: one query, not three.
	repo := &fakeScoreRepo{}
	e := NewCompanyEvaluator(repo, 0)
	e.Evaluate(context.Background(), "t1", "bu-1", companyRules())
	if repo.calls != 1 {
		t.Errorf("expected one window query for a shared window, got %d", repo.calls)
	}
}

func TestCompanyCustomThresholds(t *testing.T) {
	repo := &fakeScoreRepo{}
	for i := 0; i < 3; i++ {
		repo.scores = append(repo.scores, docScore("h", domain.SeverityHigh))
	}

	ruleList := []*domain.RiskRule{{
		Code:     domain.RuleManyHighRiskDocs,
		Scope:    domain.ScopeCompany,
		Weight:   35,
		Severity: domain.SeverityHigh,
		Config:   domain.RuleParams{ParamThreshold: 2, ParamWindowDays: 30},
		Enabled:  true,
	}}

	e := NewCompanyEvaluator(repo, 0)
	flags := e.Evaluate(context.Background(), "t1", "bu-1", ruleList)
	if !hasFlag(flags, domain.RuleManyHighRiskDocs) {
		t.Error("expected rule to trigger with tightened threshold 2")
	}
}
