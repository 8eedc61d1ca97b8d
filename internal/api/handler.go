package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	pipeline  *scoring.Pipeline
	catalog   *rules.Catalog
	documents *rules.DocumentEvaluator
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, pipeline *scoring.Pipeline, catalog *rules.Catalog, documents *rules.DocumentEvaluator, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		pipeline:  pipeline,
		catalog:   catalog,
		documents: documents,
		version:   version,
	}
}

// dateLayout is the wire format for document dates.
const dateLayout = "2006-01-02"

// DocumentRequest is the request body for POST /documents/evaluate.
type DocumentRequest struct {
	ID             string            `json:"id,omitempty"`
	BusinessUnitID string            `json:"businessUnitId"`
	Type           string            `json:"type"`
	ExternalID     string            `json:"externalId,omitempty"`
	Counterparty   CounterpartyInfo  `json:"counterparty"`
	Amounts        AmountInfo        `json:"amounts"`
	LineItems      []domain.LineItem `json:"lineItems,omitempty"`
	IssueDate      string            `json:"issueDate,omitempty"`
	DueDate        string            `json:"dueDate,omitempty"`
	ParseFailed    bool              `json:"parseFailed,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CounterpartyInfo identifies the document's counterparty.
type CounterpartyInfo struct {
	Name  string `json:"name"`
	TaxID string `json:"taxId,omitempty"`
}

// AmountInfo carries the declared document amounts.
type AmountInfo struct {
	Total    float64 `json:"total"`
	Tax      float64 `json:"tax,omitempty"`
	Net      float64 `json:"net,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// ScoreResponse is the response for scoring endpoints.
type ScoreResponse struct {
	DocumentID     string            `json:"documentId,omitempty"`
	BusinessUnitID string            `json:"businessUnitId,omitempty"`
	Score          float64           `json:"score"`
	Severity       domain.Severity   `json:"severity"`
	Flags          []domain.RiskFlag `json:"flags,omitempty"`
	TriggeredCodes []string          `json:"triggeredCodes,omitempty"`
	Metadata       struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// EvaluateDocument handles POST /documents/evaluate.
func (h *Handler) EvaluateDocument(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type is required",
		})
		return
	}
	if req.BusinessUnitID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "businessUnitId is required",
		})
		return
	}
	if req.Amounts.Total < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amounts.total must not be negative",
		})
		return
	}

	issueDate, ok := parseDate(req.IssueDate)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "issueDate must be formatted YYYY-MM-DD",
		})
		return
	}
	dueDate, ok := parseDate(req.DueDate)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "dueDate must be formatted YYYY-MM-DD",
		})
		return
	}

	docID := req.ID
	if docID == "" {
		docID = uuid.New().String()
	}

	doc := &domain.Document{
		ID:                docID,
		TenantID:          tenantID,
		BusinessUnitID:    req.BusinessUnitID,
		Type:              domain.DocumentType(req.Type),
		ExternalID:        req.ExternalID,
		CounterpartyName:  req.Counterparty.Name,
		CounterpartyTaxID: req.Counterparty.TaxID,
		TotalAmount:       req.Amounts.Total,
		TaxAmount:         req.Amounts.Tax,
		NetAmount:         req.Amounts.Net,
		Currency:          req.Amounts.Currency,
		LineItems:         req.LineItems,
		IssueDate:         issueDate,
		DueDate:           dueDate,
		CreatedAt:         time.Now().UTC(),
		ParseFailed:       req.ParseFailed,
		Metadata:          req.Metadata,
	}

	score, err := h.pipeline.ScoreDocument(ctx, tenantID, doc)
	if err != nil {
		slog.Error("document scoring failed", "doc_id", docID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "document scoring failed",
		})
		return
	}

	resp := ScoreResponse{
		DocumentID:     docID,
		Score:          score.Score,
		Severity:       score.Severity,
		Flags:          score.Flags,
		TriggeredCodes: score.TriggeredCodes,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetDocument retrieves a stored document by ID.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	docID := chi.URLParam(r, "id")

	doc, err := h.repo.GetDocument(ctx, tenantID, docID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "document not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// GetDocumentScore retrieves the current score for a document.
func (h *Handler) GetDocumentScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	docID := chi.URLParam(r, "id")

	score, err := h.repo.GetScore(ctx, tenantID, domain.SubjectDocument, docID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// ScoreCompany handles POST /companies/{businessUnitID}/score: evaluates
// the company rules over the rolling window and stores the result.
func (h *Handler) ScoreCompany(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	businessUnitID := chi.URLParam(r, "businessUnitID")

	score, err := h.pipeline.ScoreCompany(ctx, tenantID, businessUnitID)
	if err != nil {
		slog.Error("company scoring failed", "business_unit_id", businessUnitID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "company scoring failed",
		})
		return
	}

	resp := ScoreResponse{
		BusinessUnitID: businessUnitID,
		Score:          score.Score,
		Severity:       score.Severity,
		Flags:          score.Flags,
		TriggeredCodes: score.TriggeredCodes,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetCompanyScore retrieves the current stored company score.
func (h *Handler) GetCompanyScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	businessUnitID := chi.URLParam(r, "businessUnitID")

	score, err := h.repo.GetScore(ctx, tenantID, domain.SubjectCompany, businessUnitID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// ListRules returns the active rules applicable to the tenant, merged
// from global and tenant-specific definitions.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	docRules, err := h.catalog.ActiveRules(ctx, tenantID, domain.ScopeDocument)
	if err != nil {
		slog.Error("failed to load document rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	companyRules, err := h.catalog.ActiveRules(ctx, tenantID, domain.ScopeCompany)
	if err != nil {
		slog.Error("failed to load company rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document": docRules,
		"company":  companyRules,
		"count":    len(docRules) + len(companyRules),
	})
}

// GetRule retrieves one rule, preferring the tenant's own definition
// over the global one.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	scope := domain.RuleScope(chi.URLParam(r, "scope"))
	code := chi.URLParam(r, "code")

	if scope != domain.ScopeDocument && scope != domain.ScopeCompany {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "scope must be 'document' or 'company'",
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, tenantID, scope, code)
	if err != nil {
		rule, err = h.repo.GetRule(ctx, domain.GlobalTenantID, scope, code)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating or updating a rule.
type CreateRuleRequest struct {
	Code        string            `json:"code"`
	Scope       string            `json:"scope"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Weight      float64           `json:"weight"`
	Severity    string            `json:"severity"`
	Expression  string            `json:"expression,omitempty"`
	Config      domain.RuleParams `json:"config,omitempty"`
	Enabled     bool              `json:"enabled"`

	// Global saves the rule for all tenants instead of the caller's.
	Global bool `json:"global,omitempty"`
}

// CreateRule creates or replaces a rule. Tenant rules shadow global
// rules sharing a code; set "global" to define the rule for all tenants.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Code == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "code and name are required",
		})
		return
	}
	scope := domain.RuleScope(req.Scope)
	if scope != domain.ScopeDocument && scope != domain.ScopeCompany {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "scope must be 'document' or 'company'",
		})
		return
	}
	if req.Weight <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be positive",
		})
		return
	}
	severity := domain.Severity(req.Severity)
	if severity != domain.SeverityLow && severity != domain.SeverityMedium && severity != domain.SeverityHigh {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be 'low', 'medium', or 'high'",
		})
		return
	}

	owner := tenantID
	if req.Global {
		owner = domain.GlobalTenantID
	}

	rule := &domain.RiskRule{
		Code:        req.Code,
		TenantID:    owner,
		Scope:       scope,
		Name:        req.Name,
		Description: req.Description,
		Weight:      req.Weight,
		Severity:    severity,
		Expression:  req.Expression,
		Config:      req.Config,
		Enabled:     req.Enabled,
	}

	// Validate the expression before persisting anything.
	if rule.Expression != "" {
		if err := h.documents.ValidateRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid rule expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveRule(ctx, owner, rule); err != nil {
		slog.Error("failed to save rule", "code", rule.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	h.catalog.Invalidate(ctx, tenantID)

	slog.Info("rule saved", "code", rule.Code, "scope", rule.Scope, "owner", owner)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule saved. Call POST /rules/reload to refresh caches on other nodes.",
	})
}

// ReloadRules drops the tenant's cached rule lists and compiled
// expression programs so the next evaluation reads fresh definitions.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	h.catalog.Invalidate(ctx, tenantID)
	h.documents.ResetPrograms()

	docRules, err := h.catalog.ActiveRules(ctx, tenantID, domain.ScopeDocument)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}
	companyRules, err := h.catalog.ActiveRules(ctx, tenantID, domain.ScopeCompany)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	count := len(docRules) + len(companyRules)
	slog.Info("rules reloaded", "tenant_id", tenantID, "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// parseDate parses an optional YYYY-MM-DD date. Empty input is valid and
// yields nil.
func parseDate(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
