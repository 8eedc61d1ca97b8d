package scoring_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/counterparty"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// newTestPipeline wires a full pipeline over a temp SQLite database with
// the default rule catalog seeded.
func newTestPipeline(t *testing.T) *scoring.Pipeline {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "pipeline-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	for _, rule := range rules.DefaultRules() {
		if err := repo.SaveRule(ctx, domain.GlobalTenantID, rule); err != nil {
			t.Fatalf("failed to seed rule %s: %v", rule.Code, err)
		}
	}

	catalog := rules.NewCatalog(repo, cache.NewLRUCache(100), time.Minute)
	documents, err := rules.NewDocumentEvaluator(repo)
	if err != nil {
		t.Fatalf("failed to create document evaluator: %v", err)
	}
	companies := rules.NewCompanyEvaluator(repo, 100)
	counterparties := counterparty.NewService(repo)

	return scoring.NewPipeline(repo, catalog, documents, companies, counterparties, nil, domain.ScoringConfig{})
}

func flagCodes(score *domain.RiskScore) []string {
	codes := make([]string, 0, len(score.Flags))
	for _, f := range score.Flags {
		codes = append(codes, f.Code)
	}
	return codes
}

func TestScoreDocumentRescoreStable(t *testing.T) {
	pipeline := newTestPipeline(t)
	ctx := context.Background()

	doc := &domain.Document{
		ID:                "doc-rescore",
		BusinessUnitID:    "bu-001",
		Type:              domain.DocumentInvoice,
		ExternalID:        "INV-RESCORE",
		CounterpartyName:  "Acme GmbH",
		CounterpartyTaxID: "DE123456789",
		TotalAmount:       1234.56,
		Currency:          "EUR",
	}

	first, err := pipeline.ScoreDocument(ctx, "tenant-001", doc)
	if err != nil {
		t.Fatalf("first ScoreDocument failed: %v", err)
	}

	// The only signal on this document is the unseen counterparty.
	if len(first.Flags) != 1 || first.Flags[0].Code != scoring.FlagNewCounterparty {
		t.Fatalf("expected single %s flag on first run, got %v", scoring.FlagNewCounterparty, flagCodes(first))
	}

	// Scoring the same document again must reproduce the first result:
	// the document's own saved record is not part of its baseline.
	second, err := pipeline.ScoreDocument(ctx, "tenant-001", doc)
	if err != nil {
		t.Fatalf("second ScoreDocument failed: %v", err)
	}

	if second.Score != first.Score {
		t.Errorf("re-scoring changed the score: first %.1f, second %.1f", first.Score, second.Score)
	}
	if second.Severity != first.Severity {
		t.Errorf("re-scoring changed the severity: first %s, second %s", first.Severity, second.Severity)
	}
	firstCodes, secondCodes := flagCodes(first), flagCodes(second)
	if len(secondCodes) != len(firstCodes) {
		t.Fatalf("re-scoring changed the flags: first %v, second %v", firstCodes, secondCodes)
	}
	for i := range firstCodes {
		if secondCodes[i] != firstCodes[i] {
			t.Errorf("re-scoring changed flag %d: first %s, second %s", i, firstCodes[i], secondCodes[i])
		}
	}

	// A different document for the same counterparty does see history.
	other := &domain.Document{
		ID:                "doc-follow-up",
		BusinessUnitID:    "bu-001",
		Type:              domain.DocumentInvoice,
		ExternalID:        "INV-FOLLOW-UP",
		CounterpartyName:  "Acme GmbH",
		CounterpartyTaxID: "DE123456789",
		TotalAmount:       1500,
		Currency:          "EUR",
	}
	followUp, err := pipeline.ScoreDocument(ctx, "tenant-001", other)
	if err != nil {
		t.Fatalf("ScoreDocument failed: %v", err)
	}
	for _, code := range flagCodes(followUp) {
		if code == scoring.FlagNewCounterparty {
			t.Error("known counterparty flagged as first seen")
		}
	}
}
