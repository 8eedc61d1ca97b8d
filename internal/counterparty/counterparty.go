// Package counterparty provides behavioral baselining for counterparties
// within one business unit: new-counterparty detection and deviation from
// historical spend.
package counterparty

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DeviationMultiplier is the factor over the historical average amount at
// which a known counterparty's transaction is flagged as unusual.
const DeviationMultiplier = 3.0

// Pattern type tags reported in analysis results.
const (
	PatternFirstSeen = "first_time_seen"
	PatternDeviation = "amount_deviation"
)

// Pattern describes one behavioral anomaly for a counterparty.
type Pattern struct {
	Type     string `json:"type"`
	Evidence string `json:"evidence"`
}

// Analysis is the outcome of analyzing one transaction against the
// counterparty's history.
type Analysis struct {
	IsNewCounterparty    bool      `json:"isNewCounterparty"`
	IsUnusualCounterparty bool     `json:"isUnusualCounterparty"`
	UnusualPatterns      []Pattern `json:"unusualPatterns,omitempty"`

	// History is the baseline the verdict was computed against; nil for
	// a first-seen counterparty.
	History *domain.CounterpartyStats `json:"history,omitempty"`
}

// Service answers counterparty analysis queries against document history.
type Service struct {
	repo domain.Repository
}

// NewService creates a counterparty analysis service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Analyze compares the given amount against the counterparty's history
// for the business unit. A counterparty with no prior records is both new
// and unusual; a known counterparty is unusual only when the amount
// exceeds the historical average by DeviationMultiplier or more.
// excludeDocID keeps the document under analysis out of its own baseline
// so re-evaluation yields the same verdict as the first run.
func (s *Service) Analyze(ctx context.Context, tenantID, businessUnitID, name, taxID string, amount float64, excludeDocID string) (*Analysis, error) {
	if tenantID == "" || businessUnitID == "" {
		return nil, fmt.Errorf("tenantID and businessUnitID are required")
	}

	stats, err := s.History(ctx, tenantID, businessUnitID, name, taxID, excludeDocID)
	if err != nil {
		return nil, err
	}

	if stats == nil {
		return &Analysis{
			IsNewCounterparty:     true,
			IsUnusualCounterparty: true,
			UnusualPatterns: []Pattern{{
				Type:     PatternFirstSeen,
				Evidence: fmt.Sprintf("first transaction with counterparty %q", name),
			}},
		}, nil
	}

	result := &Analysis{History: stats}

	if stats.AverageAmount > 0 && amount >= stats.AverageAmount*DeviationMultiplier {
		result.IsUnusualCounterparty = true
		result.UnusualPatterns = append(result.UnusualPatterns, Pattern{
			Type: PatternDeviation,
			Evidence: fmt.Sprintf("amount %.2f is %.1fx the historical average %.2f over %d transactions",
				amount, amount/stats.AverageAmount, stats.AverageAmount, stats.TransactionCount),
		})
	}

	return result, nil
}

// History returns exact aggregates for the counterparty within the
// business unit, or nil when no matching records exist. The excluded
// document does not contribute to the aggregates.
func (s *Service) History(ctx context.Context, tenantID, businessUnitID, name, taxID, excludeDocID string) (*domain.CounterpartyStats, error) {
	docs, err := s.repo.GetCounterpartyDocuments(ctx, tenantID, businessUnitID, name, taxID, excludeDocID)
	if err != nil {
		return nil, fmt.Errorf("counterparty history lookup: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	stats := &domain.CounterpartyStats{
		Name:      name,
		TaxID:     taxID,
		FirstSeen: docs[0].CreatedAt,
	}
	for _, d := range docs {
		stats.TransactionCount++
		stats.TotalAmount += d.TotalAmount
		if d.CreatedAt.Before(stats.FirstSeen) {
			stats.FirstSeen = d.CreatedAt
		}
	}
	stats.AverageAmount = stats.TotalAmount / float64(stats.TransactionCount)

	return stats, nil
}
