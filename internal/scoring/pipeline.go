package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/counterparty"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Detector flag codes. These are raised by the statistical analyzers and
// the counterparty baseline rather than catalog rules, with fixed weights.
const (
	FlagNewCounterparty       = "counterparty_first_seen"
	FlagCounterpartyDeviation = "counterparty_amount_deviation"
	FlagRoundAmount           = "round_amount"
	FlagBenfordViolation      = "benford_violation"
	FlagRoundClustering       = "round_number_clustering"
	FlagUnusualTiming         = "unusual_timing"
)

// Detector flag weights.
const (
	newCounterpartyWeight       = 10.0
	counterpartyDeviationWeight = 20.0
	roundAmountWeight           = 10.0
	benfordWeight               = 30.0
	roundClusteringWeight       = 15.0
	unusualTimingWeight         = 15.0
)

// Pipeline runs the full scoring flow for documents and companies:
// catalog rules, statistical detectors, counterparty baselining, then
// aggregation and persistence. Events are published for downstream
// consumers; a bus failure is logged, never fatal to the score.
type Pipeline struct {
	repo           domain.Repository
	catalog        *rules.Catalog
	documents      *rules.DocumentEvaluator
	companies      *rules.CompanyEvaluator
	counterparties *counterparty.Service
	agg            *Aggregator
	bus            domain.EventBus

	windowDays int
	pageLimit  int
}

// NewPipeline wires the scoring pipeline. bus may be nil when event
// publication is not wanted (tests, batch tools).
func NewPipeline(repo domain.Repository, catalog *rules.Catalog, documents *rules.DocumentEvaluator, companies *rules.CompanyEvaluator, counterparties *counterparty.Service, bus domain.EventBus, cfg domain.ScoringConfig) *Pipeline {
	windowDays := cfg.CompanyWindowDays
	if windowDays <= 0 {
		windowDays = 90
	}
	pageLimit := cfg.CompanyPageLimit
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	return &Pipeline{
		repo:           repo,
		catalog:        catalog,
		documents:      documents,
		companies:      companies,
		counterparties: counterparties,
		agg:            NewAggregator(repo),
		bus:            bus,
		windowDays:     windowDays,
		pageLimit:      pageLimit,
	}
}

// ScoreDocument persists the document, evaluates every document-scoped
// rule and detector against it, and stores the aggregate score. The
// counterparty baseline is read before the document is saved so the
// document never counts toward its own history.
func (p *Pipeline) ScoreDocument(ctx context.Context, tenantID string, doc *domain.Document) (*domain.RiskScore, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	ruleList, err := p.catalog.ActiveRules(ctx, tenantID, domain.ScopeDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to load document rules: %w", err)
	}

	features := doc.Features()

	var flags []domain.RiskFlag
	if doc.CounterpartyName != "" || doc.CounterpartyTaxID != "" {
		flags = append(flags, p.counterpartyFlags(ctx, tenantID, doc)...)
	}

	if err := p.repo.SaveDocument(ctx, tenantID, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	flags = append(flags, p.documents.Evaluate(ctx, tenantID, doc, features, ruleList)...)
	flags = append(flags, documentDetectorFlags(doc)...)

	score, err := p.agg.ComputeAndStore(ctx, tenantID, domain.SubjectDocument, doc.ID, flags)
	if err != nil {
		return nil, err
	}

	p.publishScore(ctx, tenantID, domain.TopicDocumentScored, score)
	return score, nil
}

// ScoreCompany evaluates the company-scoped rules and the statistical
// detectors over the business unit's rolling window and stores the
// aggregate score keyed by the business unit.
func (p *Pipeline) ScoreCompany(ctx context.Context, tenantID, businessUnitID string) (*domain.RiskScore, error) {
	ruleList, err := p.catalog.ActiveRules(ctx, tenantID, domain.ScopeCompany)
	if err != nil {
		return nil, fmt.Errorf("failed to load company rules: %w", err)
	}

	flags := p.companies.Evaluate(ctx, tenantID, businessUnitID, ruleList)
	flags = append(flags, p.windowDetectorFlags(ctx, tenantID, businessUnitID)...)

	score, err := p.agg.Compute(tenantID, domain.SubjectCompany, businessUnitID, flags)
	if err != nil {
		return nil, err
	}
	score.WindowDays = p.windowDays

	if err := p.repo.UpsertScore(ctx, tenantID, score); err != nil {
		return nil, fmt.Errorf("failed to store score: %w", err)
	}

	p.publishScore(ctx, tenantID, domain.TopicCompanyScored, score)
	return score, nil
}

// counterpartyFlags converts the behavioral baseline verdict into flags.
// A failing lookup is logged and skipped; the baseline is advisory.
func (p *Pipeline) counterpartyFlags(ctx context.Context, tenantID string, doc *domain.Document) []domain.RiskFlag {
	analysis, err := p.counterparties.Analyze(ctx, tenantID, doc.BusinessUnitID, doc.CounterpartyName, doc.CounterpartyTaxID, doc.TotalAmount, doc.ID)
	if err != nil {
		slog.Warn("counterparty analysis failed, skipped",
			"tenant_id", tenantID,
			"doc_id", doc.ID,
			"error", err,
		)
		return nil
	}

	var flags []domain.RiskFlag
	for _, pattern := range analysis.UnusualPatterns {
		switch pattern.Type {
		case counterparty.PatternFirstSeen:
			flags = append(flags, domain.RiskFlag{
				Code:     FlagNewCounterparty,
				Severity: domain.SeverityLow,
				Weight:   newCounterpartyWeight,
				Evidence: pattern.Evidence,
			})
		case counterparty.PatternDeviation:
			flags = append(flags, domain.RiskFlag{
				Code:     FlagCounterpartyDeviation,
				Severity: domain.SeverityMedium,
				Weight:   counterpartyDeviationWeight,
				Evidence: pattern.Evidence,
			})
		}
	}
	return flags
}

// documentDetectorFlags runs the single-document detectors.
func documentDetectorFlags(doc *domain.Document) []domain.RiskFlag {
	var flags []domain.RiskFlag

	round := fraud.AnalyzeRoundNumbers([]float64{doc.TotalAmount})
	if round.Suspicious {
		flags = append(flags, domain.RiskFlag{
			Code:     FlagRoundAmount,
			Severity: domain.SeverityLow,
			Weight:   roundAmountWeight,
			Evidence: fmt.Sprintf("amount %.2f is a suspiciously round value", doc.TotalAmount),
		})
	}

	return flags
}

// windowDetectorFlags runs the sample-based detectors over the business
// unit's window documents. Detector verdicts on thin samples are negative
// by construction, so an empty window yields no flags.
func (p *Pipeline) windowDetectorFlags(ctx context.Context, tenantID, businessUnitID string) []domain.RiskFlag {
	since := time.Now().UTC().Add(-time.Duration(p.windowDays) * 24 * time.Hour)
	docs, err := p.repo.ListDocuments(ctx, tenantID, businessUnitID, since, p.pageLimit)
	if err != nil {
		slog.Warn("window document query failed, detectors skipped",
			"tenant_id", tenantID,
			"business_unit_id", businessUnitID,
			"error", err,
		)
		return nil
	}
	if len(docs) == 0 {
		return nil
	}

	amounts := make([]float64, 0, len(docs))
	var dates []time.Time
	for _, d := range docs {
		amounts = append(amounts, d.TotalAmount)
		if d.IssueDate != nil {
			dates = append(dates, *d.IssueDate)
		}
	}

	var flags []domain.RiskFlag

	if benford := fraud.AnalyzeBenford(amounts); benford.Violation {
		flags = append(flags, domain.RiskFlag{
			Code:     FlagBenfordViolation,
			Severity: domain.SeverityHigh,
			Weight:   benfordWeight,
			Evidence: fmt.Sprintf("leading-digit chi-square %.2f over %d amounts exceeds %.2f",
				benford.ChiSquare, benford.SampleSize, fraud.ChiSquareCritical95),
		})
	}

	if round := fraud.AnalyzeRoundNumbers(amounts); round.SuspiciousCount > 1 {
		flags = append(flags, domain.RiskFlag{
			Code:     FlagRoundClustering,
			Severity: domain.SeverityMedium,
			Weight:   roundClusteringWeight,
			Evidence: fmt.Sprintf("%d of %d amounts are suspiciously round", round.SuspiciousCount, len(amounts)),
		})
	}

	if timing := fraud.AnalyzeTiming(dates); timing.UnusualTiming {
		for _, pat := range timing.Patterns {
			flags = append(flags, domain.RiskFlag{
				Code:     FlagUnusualTiming,
				Severity: domain.SeverityMedium,
				Weight:   unusualTimingWeight,
				Evidence: pat.Evidence,
			})
			break // one timing flag per run
		}
	}

	return flags
}

// publishScore emits the scored event and, for high severity, an alert.
func (p *Pipeline) publishScore(ctx context.Context, tenantID, topic string, score *domain.RiskScore) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(score)
	if err != nil {
		slog.Error("failed to marshal score event", "error", err)
		return
	}

	if err := p.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish score event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}

	if score.Severity == domain.SeverityHigh {
		if err := p.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			slog.Warn("failed to publish alert",
				"tenant_id", tenantID,
				"subject_id", score.SubjectID,
				"error", err,
			)
		}
	}
}
