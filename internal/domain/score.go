package domain

import (
	"time"
)

// Severity is the tier derived from a numeric risk score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severity tier boundaries. score <= 30 is low, 31-65 medium, > 65 high.
const (
	LowScoreCeiling    = 30.0
	MediumScoreCeiling = 65.0
)

// SeverityForScore maps a score to its tier. Pure function of the score.
func SeverityForScore(score float64) Severity {
	switch {
	case score <= LowScoreCeiling:
		return SeverityLow
	case score <= MediumScoreCeiling:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// SubjectType identifies what a RiskScore was computed for.
type SubjectType string

const (
	SubjectDocument SubjectType = "document"
	SubjectCompany  SubjectType = "company"
)

// RiskScore is the aggregate result for one subject (a document or a
// business unit). Regenerating a score replaces the prior record for the
// same subject; evaluation is idempotent.
type RiskScore struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenantId"`
	SubjectType SubjectType `json:"subjectType"`
	SubjectID   string      `json:"subjectId"`

	// Score is bounded to [0, 100].
	Score    float64  `json:"score"`
	Severity Severity `json:"severity"`

	// Flags lists the triggered conditions in evaluation order, retained
	// for explainability.
	Flags []RiskFlag `json:"flags,omitempty"`

	// TriggeredCodes is the ordered list of triggered rule codes.
	TriggeredCodes []string `json:"triggeredCodes,omitempty"`

	// WindowDays is set on company scores: the rolling window the
	// aggregates were computed over.
	WindowDays int `json:"windowDays,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// CounterpartyStats is the behavioral baseline for one counterparty
// within one business unit. Computed on demand, never persisted.
type CounterpartyStats struct {
	Name             string    `json:"name"`
	TaxID            string    `json:"taxId,omitempty"`
	TransactionCount int       `json:"transactionCount"`
	TotalAmount      float64   `json:"totalAmount"`
	AverageAmount    float64   `json:"averageAmount"`
	FirstSeen        time.Time `json:"firstSeen"`
}
