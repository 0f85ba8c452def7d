package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-council/internal/audit"
	"github.com/nidhogg/nuka-council/internal/history"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/workflow"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service   *workflow.Service
	metrics   http.Handler
	history   *history.File
	providers []string
	origins   []string
	logger    *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option { return func(x *Handler) { x.metrics = h } }

// WithHistory exposes the run history file at /api/history.
func WithHistory(f *history.File) Option { return func(x *Handler) { x.history = f } }

// WithProviders lists the configured LLM provider ids at /api/providers.
func WithProviders(ids []string) Option { return func(x *Handler) { x.providers = ids } }

// WithCORSOrigins restricts CORS to origins. The default allows all.
func WithCORSOrigins(origins []string) Option {
	return func(x *Handler) {
		if len(origins) > 0 {
			x.origins = origins
		}
	}
}

// NewHandler creates a new API handler.
func NewHandler(service *workflow.Service, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, origins: []string{"*"}, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/workflows", h.listWorkflows)
		r.Get("/providers", h.listProviders)
		r.Get("/history", h.listHistory)

		r.Post("/runs", h.startRun)
		r.Post("/runs/stream", h.streamRun)
		r.Get("/runs/{threadID}", h.getRun)
		r.Post("/runs/{threadID}/resume", h.resumeRun)
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "council"})
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, workflow.Presets())
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	ids := h.providers
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history disabled"))
		return
	}
	n := 5
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n %q", v))
			return
		}
		n = parsed
	}
	entries, err := h.history.Recent(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// runResponse is a finished (or failed) run.
type runResponse struct {
	ThreadID string               `json:"thread_id"`
	Outcome  orchestrator.Outcome `json:"outcome"`
	State    orchestrator.State   `json:"state"`
	Steps    []audit.Event        `json:"steps"`
	Error    string               `json:"error,omitempty"`
}

func newRunResponse(res *orchestrator.Result, err error) runResponse {
	out := runResponse{Steps: []audit.Event{}}
	if res != nil {
		out.ThreadID = res.ThreadID
		out.Outcome = res.Outcome()
		out.State = res.State
		for _, s := range res.Steps {
			out.Steps = append(out.Steps, audit.FromStep(s))
		}
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (h *Handler) decodeRun(w http.ResponseWriter, r *http.Request) (workflow.RunRequest, bool) {
	var req workflow.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return req, false
	}
	if req.Workflow == "" {
		writeError(w, http.StatusBadRequest, errors.New("workflow is required"))
		return req, false
	}
	if _, err := workflow.Lookup(req.Workflow); err != nil {
		writeError(w, http.StatusNotFound, err)
		return req, false
	}
	return req, true
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRun(w, r)
	if !ok {
		return
	}
	res, err := h.service.Invoke(r.Context(), req)
	if res == nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err != nil {
		h.logger.Warn("run failed", zap.String("thread", res.ThreadID), zap.Error(err))
		writeJSON(w, statusFor(err), newRunResponse(res, err))
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(res, nil))
}

// streamRun runs a workflow and writes each step as a Server-Sent Event.
func (h *Handler) streamRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRun(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	thread, seq, err := h.service.Start(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Thread-ID", thread)
	w.WriteHeader(http.StatusOK)

	outcome := orchestrator.OutcomePending
	for step, err := range seq {
		if err != nil {
			writeEvent(w, "error", map[string]string{"thread_id": thread, "error": err.Error()})
			flusher.Flush()
			return
		}
		outcome = step.State.Outcome
		writeEvent(w, "step", audit.FromStep(step))
		flusher.Flush()
	}
	writeEvent(w, "done", map[string]string{"thread_id": thread, "outcome": string(outcome)})
	flusher.Flush()
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadID")
	cp, err := h.service.Checkpoint(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (h *Handler) resumeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadID")
	res, err := h.service.ResumeAndCollect(r.Context(), id)
	if res == nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err != nil {
		writeJSON(w, statusFor(err), newRunResponse(res, err))
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(res, nil))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrCheckpointNotFound), errors.Is(err, workflow.ErrUnknownWorkflow):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrRunFinished):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrNoChat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
