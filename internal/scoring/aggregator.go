// Package scoring combines triggered rule weights into a bounded risk
// score with a severity tier, and persists the result idempotently.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxScore bounds the aggregate score.
const MaxScore = 100.0

// ErrInvalidWeight reports a misconfigured rule weight. Surfaced to the
// catalog owner rather than clamped into the score.
var ErrInvalidWeight = errors.New("rule weight must be positive")

// Aggregator turns triggered flags into persisted risk scores.
type Aggregator struct {
	repo domain.Repository
}

// NewAggregator creates a score aggregator. repo may be nil for callers
// that only need Compute.
func NewAggregator(repo domain.Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// Compute builds the score record for a subject from its triggered
// flags: score = min(100, sum of weights), severity derived from the
// score. Flag order is preserved for explainability.
func (a *Aggregator) Compute(tenantID string, subjectType domain.SubjectType, subjectID string, flags []domain.RiskFlag) (*domain.RiskScore, error) {
	var sum float64
	codes := make([]string, 0, len(flags))
	for _, f := range flags {
		if f.Weight <= 0 {
			return nil, fmt.Errorf("%w: rule %s has weight %.2f", ErrInvalidWeight, f.Code, f.Weight)
		}
		sum += f.Weight
		codes = append(codes, f.Code)
	}

	if sum > MaxScore {
		sum = MaxScore
	}

	return &domain.RiskScore{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		Score:          sum,
		Severity:       domain.SeverityForScore(sum),
		Flags:          flags,
		TriggeredCodes: codes,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}

// ComputeAndStore computes the score and upserts it by subject key.
// Re-evaluating the same inputs replaces the prior record rather than
// accumulating; the persistence step is a single upsert so an aborted
// caller never leaves a half-written record.
func (a *Aggregator) ComputeAndStore(ctx context.Context, tenantID string, subjectType domain.SubjectType, subjectID string, flags []domain.RiskFlag) (*domain.RiskScore, error) {
	score, err := a.Compute(tenantID, subjectType, subjectID, flags)
	if err != nil {
		return nil, err
	}

	if a.repo != nil {
		if err := a.repo.UpsertScore(ctx, tenantID, score); err != nil {
			return nil, fmt.Errorf("failed to store score: %w", err)
		}
	}

	return score, nil
}
