package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/notify"
	"github.com/ashita-ai/kiroku/internal/research"
	"github.com/ashita-ai/kiroku/internal/service/decisions"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db           *storage.DB
	decisionSvc  *decisions.Service
	registry     *notify.Registry
	researcher   *research.Client
	logger       *slog.Logger
	startedAt    time.Time
	version      string
	sseHeartbeat time.Duration
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Registry, Researcher.
type HandlersDeps struct {
	DB           *storage.DB
	DecisionSvc  *decisions.Service
	Registry     *notify.Registry
	Researcher   *research.Client
	Logger       *slog.Logger
	Version      string
	SSEHeartbeat time.Duration
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	hb := d.SSEHeartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	return &Handlers{
		db:           d.DB,
		decisionSvc:  d.DecisionSvc,
		registry:     d.Registry,
		researcher:   d.Researcher,
		logger:       d.Logger,
		startedAt:    time.Now(),
		version:      d.Version,
		sseHeartbeat: hb,
	}
}

// serviceError maps service-layer errors to HTTP responses.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case model.IsValidation(err):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found")
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return uuid.Nil, false
	}
	return id, true
}

// HandleCreateDecision handles POST /v1/decisions.
func (h *Handlers) HandleCreateDecision(w http.ResponseWriter, r *http.Request) {
	var in decisions.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	d, err := h.decisionSvc.Create(r.Context(), UserIDFromContext(r.Context()), in)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, d)
}

// HandleListDecisions handles GET /v1/decisions.
func (h *Handlers) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	list, err := h.decisionSvc.List(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Decision{}
	}
	writeJSON(w, r, http.StatusOK, list)
}

// HandleGetDecision handles GET /v1/decisions/{id}.
func (h *Handlers) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.decisionSvc.Get(r.Context(), UserIDFromContext(r.Context()), id)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

type planRequest struct {
	Plan []model.PlanStep `json:"plan"`
}

// HandleConfirmPlan handles POST /v1/decisions/{id}/plan/confirm.
// An omitted or empty plan confirms the drafted plan as-is.
func (h *Handlers) HandleConfirmPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// An absent body confirms the drafted plan unchanged.
	var req planRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	d, err := h.decisionSvc.ConfirmPlan(r.Context(), UserIDFromContext(r.Context()), id, req.Plan)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleUpdatePlan handles PUT /v1/decisions/{id}/plan.
func (h *Handlers) HandleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	d, err := h.decisionSvc.UpdatePlan(r.Context(), UserIDFromContext(r.Context()), id, req.Plan)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

type completeRequest struct {
	Outcome    string `json:"outcome"`
	Reflection string `json:"reflection"`
}

// HandleCompleteDecision handles POST /v1/decisions/{id}/complete.
func (h *Handlers) HandleCompleteDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	d, err := h.decisionSvc.Complete(r.Context(), UserIDFromContext(r.Context()), id, req.Outcome, req.Reflection)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleDeleteDecision handles DELETE /v1/decisions/{id}.
func (h *Handlers) HandleDeleteDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.decisionSvc.Delete(r.Context(), UserIDFromContext(r.Context()), id); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type similarRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// HandleFindSimilar handles POST /v1/similar.
func (h *Handlers) HandleFindSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	matches, err := h.decisionSvc.FindSimilar(r.Context(), UserIDFromContext(r.Context()), req.Query, req.Limit)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if matches == nil {
		matches = []model.SimilarMatch{}
	}
	writeJSON(w, r, http.StatusOK, matches)
}

type researchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// HandleResearch handles POST /v1/research.
func (h *Handlers) HandleResearch(w http.ResponseWriter, r *http.Request) {
	if h.researcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "web research not configured")
		return
	}
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	writeJSON(w, r, http.StatusOK, h.researcher.Search(r.Context(), req.Query, req.MaxResults))
}

// HandleSubscribe handles GET /v1/decisions/{id}/events (SSE).
//
// Events carry no payload; each "update" event tells the client to re-fetch
// the decision, so a missed event is repaired by the next one.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"live updates not available (LISTEN/NOTIFY not configured)")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// Ownership check before holding a stream open.
	if _, err := h.decisionSvc.Get(r.Context(), UserIDFromContext(r.Context()), id); err != nil {
		serviceError(w, r, err)
		return
	}

	// ResponseController reaches through middleware wrappers via Unwrap.
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	// Disable the server's WriteTimeout for this long-lived connection.
	_ = rc.SetWriteDeadline(time.Time{})

	events, cancel := h.registry.Subscribe(id)
	defer cancel()

	heartbeat := time.NewTicker(h.sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case <-events:
			if _, err := w.Write([]byte("event: update\ndata: {\"id\":\"" + id.String() + "\"}\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":  status,
		"version": h.version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}
