package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// fakeDocRepo stubs the duplicate lookup.
type fakeDocRepo struct {
	domain.Repository
	dupCount int64
	dupErr   error
}

func (f *fakeDocRepo) CountByExternalID(ctx context.Context, tenantID, externalID, excludeDocID string) (int64, error) {
	if f.dupErr != nil {
		return 0, f.dupErr
	}
	return f.dupCount, nil
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func docRules() []*domain.RiskRule {
	return DefaultRules()[:5] // the document-scoped defaults
}

func newEvaluator(t *testing.T, repo domain.Repository) *DocumentEvaluator {
	t.Helper()
	e, err := NewDocumentEvaluator(repo)
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	return e
}

func hasFlag(flags []domain.RiskFlag, code string) bool {
	for _, f := range flags {
		if f.Code == code {
			return true
		}
	}
	return false
}

func TestDueBeforeIssue(t *testing.T) {
	e := newEvaluator(t, nil)
	ctx := context.Background()

	doc := &domain.Document{
		ID:                "d1",
		Type:              domain.DocumentInvoice,
		CounterpartyTaxID: "DE123",
		IssueDate:         date(2025, time.January, 10),
		DueDate:           date(2025, time.January, 5),
	}

	flags := e.Evaluate(ctx, "t1", doc, nil, docRules())
	if !hasFlag(flags, domain.RuleDueBeforeIssue) {
		t.Error("expected due_before_issue to trigger")
	}

	// Due after issue: no trigger.
	doc.DueDate = date(2025, time.January, 20)
	flags = e.Evaluate(ctx, "t1", doc, nil, docRules())
	if hasFlag(flags, domain.RuleDueBeforeIssue) {
		t.Error("due_before_issue must not trigger when due follows issue")
	}
}

func TestDueBeforeIssueSkippedWhenDatesAbsent(t *testing.T) {
	e := newEvaluator(t, nil)

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice, CounterpartyTaxID: "x"}
	flags := e.Evaluate(context.Background(), "t1", doc, nil, docRules())
	if hasFlag(flags, domain.RuleDueBeforeIssue) {
		t.Error("rule must be skipped when dates are absent")
	}
}

func TestTotalMismatch(t *testing.T) {
	e := newEvaluator(t, nil)
	ctx := context.Background()

	doc := &domain.Document{
		ID:                "d1",
		Type:              domain.DocumentInvoice,
		CounterpartyTaxID: "DE123",
		TotalAmount:       120,
		TaxAmount:         19,
		LineItems: []domain.LineItem{
			{Quantity: 1, UnitPrice: 100, LineTotal: 100},
		},
	}

	// 100 + 19 tax = 119, declared 120: delta 1.00 over tolerance.
	flags := e.Evaluate(ctx, "t1", doc, nil, docRules())
	if !hasFlag(flags, domain.RuleTotalMismatch) {
		t.Error("expected total_mismatch to trigger")
	}

	// Exact match within tolerance: no trigger.
	doc.TotalAmount = 119.005
	flags = e.Evaluate(ctx, "t1", doc, nil, docRules())
	if hasFlag(flags, domain.RuleTotalMismatch) {
		t.Error("total_mismatch must tolerate sub-cent rounding")
	}
}

func TestTotalMismatchSkippedWithoutLines(t *testing.T) {
	e := newEvaluator(t, nil)

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice, CounterpartyTaxID: "x", TotalAmount: 500}
	flags := e.Evaluate(context.Background(), "t1", doc, nil, docRules())
	if hasFlag(flags, domain.RuleTotalMismatch) {
		t.Error("rule must be skipped when line items are absent")
	}
}

func TestDuplicateExternalID(t *testing.T) {
	e := newEvaluator(t, &fakeDocRepo{dupCount: 1})

	doc := &domain.Document{
		ID:                "d1",
		Type:              domain.DocumentInvoice,
		CounterpartyTaxID: "DE123",
		ExternalID:        "INV-2025-001",
	}
	flags := e.Evaluate(context.Background(), "t1", doc, nil, docRules())
	if !hasFlag(flags, domain.RuleDuplicateDocID) {
		t.Error("expected duplicate_external_id to trigger")
	}
}

func TestDuplicateLookupErrorIsolated(t *testing.T) {
	// A failing duplicate lookup must not abort the other rules.
	e := newEvaluator(t, &fakeDocRepo{dupErr: errors.New("db down")})

	doc := &domain.Document{
		ID:         "d1",
		Type:       domain.DocumentInvoice,
		ExternalID: "INV-1",
		IssueDate:  date(2025, time.January, 10),
		DueDate:    date(2025, time.January, 5),
	}

	flags := e.Evaluate(context.Background(), "t1", doc, nil, docRules())

	if hasFlag(flags, domain.RuleDuplicateDocID) {
		t.Error("failed lookup must record duplicate rule as not triggered")
	}
	if !hasFlag(flags, domain.RuleDueBeforeIssue) {
		t.Error("other rules must still be evaluated")
	}
	if !hasFlag(flags, domain.RuleMissingTaxID) {
		t.Error("missing tax id must still be evaluated")
	}
}

func TestMissingTaxID(t *testing.T) {
	e := newEvaluator(t, nil)
	ctx := context.Background()

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice}
	flags := e.Evaluate(ctx, "t1", doc, nil, docRules())
	if !hasFlag(flags, domain.RuleMissingTaxID) {
		t.Error("expected missing_tax_id to trigger on invoice without tax id")
	}

	// Receipts don't require a tax id by default.
	doc.Type = domain.DocumentReceipt
	flags = e.Evaluate(ctx, "t1", doc, nil, docRules())
	if hasFlag(flags, domain.RuleMissingTaxID) {
		t.Error("missing_tax_id must not trigger for document types that do not require one")
	}
}

func TestParsingFailed(t *testing.T) {
	e := newEvaluator(t, nil)

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice, CounterpartyTaxID: "x", ParseFailed: true}
	flags := e.Evaluate(context.Background(), "t1", doc, nil, docRules())
	if !hasFlag(flags, domain.RuleParsingFailed) {
		t.Error("expected parsing_failed to trigger")
	}
}

func TestExpressionRule(t *testing.T) {
	e := newEvaluator(t, nil)

	ruleList := []*domain.RiskRule{{
		Code:        "high_value",
		Scope:       domain.ScopeDocument,
		Name:        "High value document",
		Description: "document total above 10000",
		Expression:  "amount > 10000.0",
		Weight:      25,
		Severity:    domain.SeverityMedium,
		Enabled:     true,
	}}

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice, TotalAmount: 15000}
	flags := e.Evaluate(context.Background(), "t1", doc, nil, ruleList)
	if !hasFlag(flags, "high_value") {
		t.Error("expected expression rule to trigger")
	}

	doc.TotalAmount = 500
	flags = e.Evaluate(context.Background(), "t1", doc, nil, ruleList)
	if hasFlag(flags, "high_value") {
		t.Error("expression rule must not trigger below threshold")
	}
}

func TestExpressionRuleUpdateTakesEffect(t *testing.T) {
	e := newEvaluator(t, nil)

	rule := &domain.RiskRule{
		Code:       "high_value",
		Scope:      domain.ScopeDocument,
		Expression: "amount > 100.0",
		Weight:     25,
		Severity:   domain.SeverityMedium,
		Enabled:    true,
	}
	ruleList := []*domain.RiskRule{rule}

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice, TotalAmount: 50}
	flags := e.Evaluate(context.Background(), "t1", doc, nil, ruleList)
	if hasFlag(flags, "high_value") {
		t.Error("rule must not trigger below the original threshold")
	}

	// Lowering the threshold under the same code must be honored on the
	// next evaluation, not served from the previously compiled program.
	rule.Expression = "amount > 10.0"
	flags = e.Evaluate(context.Background(), "t1", doc, nil, ruleList)
	if !hasFlag(flags, "high_value") {
		t.Error("expected updated expression to trigger for amount 50")
	}
}

func TestExpressionRuleOverFeatures(t *testing.T) {
	e := newEvaluator(t, nil)

	ruleList := []*domain.RiskRule{{
		Code:       "weekend_issue",
		Scope:      domain.ScopeDocument,
		Expression: `"issued_weekend" in features && features["issued_weekend"] == true`,
		Weight:     10,
		Severity:   domain.SeverityLow,
		Enabled:    true,
	}}

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice}
	features := doc.Features()
	features["issued_weekend"] = true

	flags := e.Evaluate(context.Background(), "t1", doc, features, ruleList)
	if !hasFlag(flags, "weekend_issue") {
		t.Error("expected feature-map expression rule to trigger")
	}
}

func TestValidateRule(t *testing.T) {
	e := newEvaluator(t, nil)

	bad := &domain.RiskRule{Code: "broken", Expression: "this is not CEL !!!"}
	if err := e.ValidateRule(bad); err == nil {
		t.Error("expected validation error for invalid expression")
	}

	good := &domain.RiskRule{Code: "fine", Expression: "amount > 0.0"}
	if err := e.ValidateRule(good); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestDisabledRuleSkipped(t *testing.T) {
	e := newEvaluator(t, nil)

	ruleList := []*domain.RiskRule{{
		Code:     domain.RuleParsingFailed,
		Scope:    domain.ScopeDocument,
		Weight:   25,
		Severity: domain.SeverityMedium,
		Enabled:  false,
	}}

	doc := &domain.Document{ID: "d1", Type: domain.DocumentInvoice, ParseFailed: true}
	flags := e.Evaluate(context.Background(), "t1", doc, nil, ruleList)
	if len(flags) != 0 {
		t.Errorf("disabled rule must never trigger, got %+v", flags)
	}
}
