package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// CaseService is the case workflow used by the handlers.
type CaseService interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*cases.GenerateResult, error)
	Approve(ctx context.Context, caseID, analyst, editedNarrative string) (*domain.Case, error)
	Reject(ctx context.Context, caseID, analyst, reason string) (*domain.Case, error)
	Get(ctx context.Context, caseID string) (*domain.Case, error)
	List(ctx context.Context, limit int) ([]*domain.Case, error)
	AuditTrail(ctx context.Context, caseID string) ([]*domain.AuditEntry, error)
	Stats(ctx context.Context) (*domain.CaseStats, error)
}

// Classifier scores free text without generating a narrative.
type Classifier interface {
	Classify(text string) domain.Classification
	Backend() string
}

// TemplateSource lists the reference templates.
type TemplateSource interface {
	Templates() []domain.ReferenceTemplate
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Cases      CaseService
	Classifier Classifier
	Templates  TemplateSource
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Version    string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	cases      CaseService
	classifier Classifier
	templates  TemplateSource
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		cases:      deps.Cases,
		classifier: deps.Classifier,
		templates:  deps.Templates,
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		version:    deps.Version,
	}
}

// GenerateResponse is the response for POST /cases.
type GenerateResponse struct {
	CaseID     string            `json:"case_id"`
	Status     string            `json:"status"`
	Narrative  string            `json:"narrative"`
	RiskScore  int               `json:"risk_score"`
	Typology   string            `json:"typology"`
	Escalation domain.Escalation `json:"escalation"`
	Fallback   bool              `json:"fallback"`
	AuditData  string            `json:"audit_data"`
	Metadata   struct {
		TraceID    string `json:"trace_id"`
		DurationMs int64  `json:"duration_ms"`
		Version    string `json:"version"`
	} `json:"metadata"`
}

// GenerateCase handles POST /cases.
func (h *Handler) GenerateCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AnalystName) == "" {
		req.AnalystName = GetAnalystID(ctx)
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, req)
		return
	}

	out, err := h.cases.Generate(ctx, req)
	if err != nil {
		writeError(w, "generate case", err)
		return
	}

	resp := GenerateResponse{
		CaseID:     out.Case.ID,
		Status:     out.Case.Status,
		Narrative:  out.Result.Narrative,
		RiskScore:  out.Result.RiskScore,
		Typology:   out.Result.Typology,
		Escalation: out.Result.Escalation,
		Fallback:   out.Case.Fallback,
		AuditData:  out.Result.AuditPayload,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.DurationMs = out.Result.DurationMs
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusCreated, resp)
}

// enqueue validates the request and hands it to the case worker via the bus.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, req domain.GenerateRequest) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	req, err := pipeline.Normalize(req)
	if err != nil {
		writeError(w, "enqueue case", err)
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, "enqueue case", err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicCaseGenerate, payload); err != nil {
		if errors.Is(err, bus.ErrNoConsumer) || errors.Is(err, bus.ErrBackpressure) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, "enqueue case", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"topic":  domain.TopicCaseGenerate,
	})
}

// ListCases handles GET /cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	list, err := h.cases.List(r.Context(), limit)
	if err != nil {
		writeError(w, "list cases", err)
		return
	}
	if list == nil {
		list = []*domain.Case{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases": list,
		"count": len(list),
	})
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.cases.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get case", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ApproveRequest is the request body for POST /cases/{id}/approve.
type ApproveRequest struct {
	EditedNarrative string `json:"edited_narrative"`
}

// ApproveCase handles POST /cases/{id}/approve.
func (h *Handler) ApproveCase(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	c, err := h.cases.Approve(r.Context(), chi.URLParam(r, "id"), GetAnalystID(r.Context()), req.EditedNarrative)
	if err != nil {
		writeError(w, "approve case", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RejectRequest is the request body for POST /cases/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// RejectCase handles POST /cases/{id}/reject.
func (h *Handler) RejectCase(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.cases.Reject(r.Context(), chi.URLParam(r, "id"), GetAnalystID(r.Context()), req.Reason)
	if err != nil {
		writeError(w, "reject case", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetAuditTrail handles GET /cases/{id}/audit.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	trail, err := h.cases.AuditTrail(r.Context(), caseID)
	if err != nil {
		writeError(w, "get audit trail", err)
		return
	}
	if trail == nil {
		trail = []*domain.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"case_id":      caseID,
		"total_events": len(trail),
		"audit_trail":  trail,
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cases.Stats(r.Context())
	if err != nil {
		writeError(w, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListTemplates handles GET /templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	var list []domain.ReferenceTemplate
	if h.templates != nil {
		list = h.templates.Templates()
	}
	if list == nil {
		list = []domain.ReferenceTemplate{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": list,
		"count":     len(list),
	})
}

// ClassifyRequest is the request body for POST /classify.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// Classify handles POST /classify. It scores text without creating a case.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "text is required",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.classifier.Classify(req.Text))
}

// Health returns the health status of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	backend := ""
	if h.classifier != nil {
		backend = h.classifier.Backend()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
		"backend": backend,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput),
		errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, cases.ErrReasonRequired):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
	case errors.Is(err, repository.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "op", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// decodeBody decodes a JSON body into v, writing 413 or 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "request body too large",
		})
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": "invalid request body",
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
