// Package worker provides async document processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker scores documents asynchronously from the EventBus. Ingestion
// services publish parsed documents to the ingested topic; the worker
// runs the same scoring pipeline as the synchronous API.
type Worker struct {
	bus      domain.EventBus
	pipeline *scoring.Pipeline

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, pipeline *scoring.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicDocumentIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicDocumentIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processDocument(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicDocumentIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processDocument(ctx, msg.TenantID, msg)
}

// DocumentMessage is the message payload for document scoring.
type DocumentMessage struct {
	TenantID string          `json:"tenantId"`
	TraceID  string          `json:"traceId,omitempty"`
	Document domain.Document `json:"document"`
}

// processDocument scores one ingested document through the pipeline.
func (w *Worker) processDocument(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var docMsg DocumentMessage
	if err := json.Unmarshal(msg.Payload, &docMsg); err != nil {
		slog.Error("failed to parse document message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if docMsg.TenantID != "" {
		tenantID = docMsg.TenantID
	}

	traceID := docMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	doc := &docMsg.Document
	doc.TenantID = tenantID

	slog.Debug("processing document",
		"doc_id", doc.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// The pipeline persists the document and score and publishes the
	// scored event (and alert on high severity) itself.
	score, err := w.pipeline.ScoreDocument(ctx, tenantID, doc)
	if err != nil {
		slog.Error("document scoring failed",
			"doc_id", doc.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("document processed",
		"doc_id", doc.ID,
		"tenant_id", tenantID,
		"score", score.Score,
		"severity", score.Severity,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
