package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Config map keys read by the built-in document rules.
const (
	ParamTolerance     = "tolerance"      // total_mismatch rounding tolerance
	ParamRequiredTypes = "required_types" // missing_tax_id document types
)

// DefaultMismatchTolerance absorbs rounding differences between the
// declared total and the line sum, in currency units.
const DefaultMismatchTolerance = 0.01

// DocumentEvaluator applies document-scoped rules to one document's
// fields and features. Each rule is evaluated independently; a failing
// rule is skipped, never fatal.
type DocumentEvaluator struct {
	repo  domain.Repository
	exprs *exprEngine
}

// NewDocumentEvaluator creates the document rule evaluator. repo is used
// only for the duplicate-identifier lookup and may be nil in tests that
// exercise the other rules.
func NewDocumentEvaluator(repo domain.Repository) (*DocumentEvaluator, error) {
	exprs, err := newExprEngine()
	if err != nil {
		return nil, err
	}
	return &DocumentEvaluator{repo: repo, exprs: exprs}, nil
}

// ValidateRule checks that a rule's expression (if any) compiles.
func (e *DocumentEvaluator) ValidateRule(rule *domain.RiskRule) error {
	return e.exprs.Validate(rule)
}

// ResetPrograms drops compiled expression programs after a catalog reload.
func (e *DocumentEvaluator) ResetPrograms() {
	e.exprs.Reset()
}

// Evaluate runs every active document-scoped rule against the document
// and returns the flags for the rules that triggered, in rule order.
//
// A rule whose required field is absent is skipped rather than
// triggered, unless detecting the absence is the rule's purpose. A
// lookup error inside one rule is logged and recorded as "not
// triggered"; it never aborts the remaining rules.
func (e *DocumentEvaluator) Evaluate(ctx context.Context, tenantID string, doc *domain.Document, features domain.FeatureMap, ruleList []*domain.RiskRule) []domain.RiskFlag {
	if features == nil {
		features = doc.Features()
	}

	var flags []domain.RiskFlag
	for _, rule := range ruleList {
		if rule.Scope != domain.ScopeDocument || !rule.Enabled {
			continue
		}

		hit, evidence, err := e.evaluateRule(ctx, tenantID, rule, doc, features)
		if err != nil {
			slog.Warn("document rule failed, recorded as not triggered",
				"tenant_id", tenantID,
				"doc_id", doc.ID,
				"rule_code", rule.Code,
				"error", err,
			)
			continue
		}
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

// evaluateRule dispatches built-in rules by code and falls back to the
// rule's CEL expression.
func (e *DocumentEvaluator) evaluateRule(ctx context.Context, tenantID string, rule *domain.RiskRule, doc *domain.Document, features domain.FeatureMap) (bool, string, error) {
	switch rule.Code {
	case domain.RuleDueBeforeIssue:
		return e.checkDueBeforeIssue(doc)
	case domain.RuleTotalMismatch:
		return e.checkTotalMismatch(rule, doc)
	case domain.RuleDuplicateDocID:
		return e.checkDuplicate(ctx, tenantID, doc)
	case domain.RuleMissingTaxID:
		return e.checkMissingTaxID(rule, doc)
	case domain.RuleParsingFailed:
		return e.checkParsingFailed(doc, features)
	}

	if rule.Expression == "" {
		// Unknown code without an expression: nothing to evaluate.
		return false, "", nil
	}

	hit, err := e.exprs.Evaluate(rule, doc, features)
	if err != nil {
		return false, "", err
	}
	return hit, rule.Description, nil
}

func (e *DocumentEvaluator) checkDueBeforeIssue(doc *domain.Document) (bool, string, error) {
	// Skip when either date is absent.
	if doc.IssueDate == nil || doc.DueDate == nil {
		return false, "", nil
	}
	if doc.DueDate.Before(*doc.IssueDate) {
		return true, fmt.Sprintf("due date %s is before issue date %s",
			doc.DueDate.Format("2006-01-02"), doc.IssueDate.Format("2006-01-02")), nil
	}
	return false, "", nil
}

func (e *DocumentEvaluator) checkTotalMismatch(rule *domain.RiskRule, doc *domain.Document) (bool, string, error) {
	if len(doc.LineItems) == 0 {
		return false, "", nil
	}

	tolerance := rule.Config.Float(ParamTolerance, DefaultMismatchTolerance)
	delta := doc.TotalAmount - doc.LineSum()
	if delta < 0 {
		delta = -delta
	}
	if delta > tolerance {
		return true, fmt.Sprintf("declared total %.2f differs from line sum %.2f by %.2f",
			doc.TotalAmount, doc.LineSum(), delta), nil
	}
	return false, "", nil
}

func (e *DocumentEvaluator) checkDuplicate(ctx context.Context, tenantID string, doc *domain.Document) (bool, string, error) {
	if doc.ExternalID == "" || e.repo == nil {
		return false, "", nil
	}

	count, err := e.repo.CountByExternalID(ctx, tenantID, doc.ExternalID, doc.ID)
	if err != nil {
		return false, "", fmt.Errorf("duplicate lookup: %w", err)
	}
	if count > 0 {
		return true, fmt.Sprintf("external identifier %q already recorded %d time(s)", doc.ExternalID, count), nil
	}
	return false, "", nil
}

func (e *DocumentEvaluator) checkMissingTaxID(rule *domain.RiskRule, doc *domain.Document) (bool, string, error) {
	if !taxIDRequired(rule, doc.Type) {
		return false, "", nil
	}
	if doc.CounterpartyTaxID == "" {
		return true, fmt.Sprintf("counterparty tax identifier missing on %s", doc.Type), nil
	}
	return false, "", nil
}

func (e *DocumentEvaluator) checkParsingFailed(doc *domain.Document, features domain.FeatureMap) (bool, string, error) {
	// The upstream extraction step signals failure through the feature
	// map; it is never re-derived here.
	if failed, ok := features.Bool(domain.FeatureParseFailed); ok && failed {
		return true, "upstream extraction reported a failed or partial parse", nil
	}
	return false, "", nil
}

// taxIDRequired reads the document types requiring a tax identifier from
// the rule config, defaulting to invoices.
func taxIDRequired(rule *domain.RiskRule, docType domain.DocumentType) bool {
	raw, ok := rule.Config[ParamRequiredTypes]
	if !ok {
		return docType == domain.DocumentInvoice
	}

	list, ok := raw.([]interface{})
	if !ok {
		return docType == domain.DocumentInvoice
	}
	for _, v := range list {
		if s, ok := v.(string); ok && domain.DocumentType(s) == docType {
			return true
		}
	}
	return false
}
