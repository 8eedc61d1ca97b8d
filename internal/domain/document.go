package domain

import (
	"time"
)

// DocumentType identifies the kind of financial document being scored.
type DocumentType string

const (
	DocumentInvoice     DocumentType = "invoice"
	DocumentTransaction DocumentType = "transaction"
	DocumentReceipt     DocumentType = "receipt"
)

// Document represents a parsed financial document submitted for risk scoring.
// Field extraction happens upstream; the engine only reads.
type Document struct {
	// Core identifiers
	ID             string `json:"id"`
	TenantID       string `json:"tenantId"`
	BusinessUnitID string `json:"businessUnitId"`

	Type DocumentType `json:"type"`

	// ExternalID is the document number as printed on the document
	// (e.g. invoice number). Compared case-sensitively for duplicates.
	ExternalID string `json:"externalId"`

	// Counterparty identity
	CounterpartyName  string `json:"counterpartyName"`
	CounterpartyTaxID string `json:"counterpartyTaxId,omitempty"`

	// Declared amounts
	TotalAmount float64 `json:"totalAmount"`
	TaxAmount   float64 `json:"taxAmount"`
	NetAmount   float64 `json:"netAmount"`
	Currency    string  `json:"currency"`

	// Line items as extracted upstream
	LineItems []LineItem `json:"lineItems,omitempty"`

	// Temporal
	IssueDate *time.Time `json:"issueDate,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`

	// ParseFailed is set by the upstream extraction step when OCR or
	// field extraction reported a failure or partial result.
	ParseFailed bool `json:"parseFailed,omitempty"`

	// Optional metadata passed through from the caller
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// LineItem is one extracted document line.
type LineItem struct {
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
	TaxRate     float64 `json:"taxRate"`
}

// LineSum returns the sum of line totals plus tax, used by the
// total-mismatch rule.
func (d *Document) LineSum() float64 {
	var sum float64
	for _, li := range d.LineItems {
		sum += li.LineTotal
	}
	return sum + d.TaxAmount
}

// FeatureMap holds extracted numeric/boolean facts about one document,
// keyed by feature name. It is generated once per evaluation run and may
// be empty; absent keys mean "fact unknown", not "fact false".
type FeatureMap map[string]interface{}

// Well-known feature keys produced by Features and consumed by the
// document rule evaluator and catalog expression rules.
const (
	FeatureDueBeforeIssue = "due_before_issue"
	FeatureTotalDelta     = "total_delta"
	FeatureHasTaxID       = "has_tax_id"
	FeatureParseFailed    = "parse_failed"
	FeatureAmount         = "amount"
	FeatureLineCount      = "line_count"
)

// Features derives the standard feature map from a document. Callers may
// layer additional upstream-extracted features on top.
func (d *Document) Features() FeatureMap {
	f := FeatureMap{
		FeatureHasTaxID:    d.CounterpartyTaxID != "",
		FeatureParseFailed: d.ParseFailed,
		FeatureAmount:      d.TotalAmount,
		FeatureLineCount:   len(d.LineItems),
	}
	if d.IssueDate != nil && d.DueDate != nil {
		f[FeatureDueBeforeIssue] = d.DueDate.Before(*d.IssueDate)
	}
	if len(d.LineItems) > 0 {
		f[FeatureTotalDelta] = d.TotalAmount - d.LineSum()
	}
	return f
}

// Bool returns the named boolean feature and whether it was present.
func (f FeatureMap) Bool(key string) (bool, bool) {
	v, ok := f[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Float returns the named numeric feature and whether it was present.
// JSON decoding produces float64 for all numbers; int is accepted for
// features built in-process.
func (f FeatureMap) Float(key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
