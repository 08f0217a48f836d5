package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/scout/internal/auth"
	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/dedupe"
	"github.com/af-corp/scout/internal/httputil"
	"github.com/af-corp/scout/internal/orchestrator"
	"github.com/af-corp/scout/internal/provider"
	"github.com/af-corp/scout/internal/route"
	"github.com/af-corp/scout/internal/telemetry"
	"github.com/af-corp/scout/internal/tools"
	"github.com/af-corp/scout/internal/types"
)

// HeaderNoDedupe set to "1" makes a request run on its own even if an
// identical one is in flight.
const HeaderNoDedupe = "X-Scout-No-Dedupe"

const maxBodyBytes = 4 << 20

// ModelRegistry resolves and lists model identifiers.
type ModelRegistry interface {
	Resolve(modelID string) (*provider.Handle, error)
	Models() []provider.ModelInfo
}

// Deps are the collaborators of Handler.
type Deps struct {
	Models       ModelRegistry
	Routes       *route.Table
	Tools        *tools.Registry
	Orchestrator *orchestrator.Orchestrator
	Finalizer    *orchestrator.Finalizer
	Flights      *dedupe.Group[*Broadcast]
	Config       func() *config.Config
	Metrics      *telemetry.Metrics
}

// Handler holds dependencies for the search HTTP handlers.
type Handler struct {
	models  ModelRegistry
	routes  *route.Table
	tools   *tools.Registry
	orch    *orchestrator.Orchestrator
	final   *orchestrator.Finalizer
	flights *dedupe.Group[*Broadcast]
	cfg     func() *config.Config
	metrics *telemetry.Metrics

	running sync.WaitGroup
}

func NewHandler(d Deps) *Handler {
	if d.Routes == nil {
		d.Routes = route.DefaultTable()
	}
	if d.Tools == nil {
		d.Tools = tools.NewRegistry()
	}
	if d.Orchestrator == nil {
		d.Orchestrator = orchestrator.New(d.Metrics)
	}
	if d.Flights == nil {
		d.Flights = &dedupe.Group[*Broadcast]{}
	}
	if d.Config == nil {
		cfg := config.DefaultConfig()
		d.Config = func() *config.Config { return cfg }
	}
	return &Handler{
		models:  d.Models,
		routes:  d.Routes,
		tools:   d.Tools,
		orch:    d.Orchestrator,
		final:   d.Finalizer,
		flights: d.Flights,
		cfg:     d.Config,
		metrics: d.Metrics,
	}
}

// Search handles POST /search and POST /search/{group}.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	cfg := h.cfg()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body", err.Error())
		return
	}
	defer r.Body.Close()

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON", err.Error())
		return
	}
	if g := chi.URLParam(r, "group"); g != "" {
		req.Group = g
	}
	req.Normalize()
	if len(req.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, "messages is required", "")
		return
	}

	req.RequestID = reqID
	req.ReceivedAt = time.Now()
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		req.ClientKey = id.ClientKey
		req.UserID = id.UserID
	}
	if req.Model == "" {
		req.Model = cfg.Routing.DefaultModel
	}

	handle, err := h.models.Resolve(req.Model)
	if err != nil {
		slog.Error("model resolution failed", "request_id", reqID, "model", req.Model, "error", err)
		h.metrics.RecordRequest(telemetry.RequestLabels{Group: req.Group, Model: req.Model, Status: "config_error"})
		httputil.WriteInternalError(w, reqID, "Model configuration error", err.Error())
		return
	}

	decision := h.routes.Route(req.Group, handle)
	req.Group = decision.Group

	execs, err := h.tools.Select(decision.Tools)
	if err != nil {
		slog.Error("tool selection failed", "request_id", reqID, "group", decision.Group, "error", err)
		h.metrics.RecordRequest(telemetry.RequestLabels{Group: decision.Group, Model: req.Model, Status: "config_error"})
		httputil.WriteInternalError(w, reqID, "Tool configuration error", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported", "")
		return
	}

	plan := orchestrator.Plan{Decision: decision, Model: handle.Model, Tools: execs}
	bc := h.admit(r, &req, plan, cfg)
	sse := newSSEWriter(w, flusher, reqID)

	slog.Info("streaming started",
		"request_id", reqID,
		"group", decision.Group,
		"model", handle.ID,
		"provider", handle.Provider,
		"tools", strings.Join(decision.Tools, ","),
		"client", req.ClientKey,
	)

	if err := bc.Subscribe(r.Context(), sse.event); err != nil {
		slog.Info("client stopped reading", "request_id", reqID, "error", err)
		return
	}
	sse.done()
}

// admit joins an identical in-flight request or starts a new one, and
// returns the event log to stream.
func (h *Handler) admit(r *http.Request, req *types.ChatRequest, plan orchestrator.Plan, cfg *config.Config) *Broadcast {
	if !cfg.Dedupe.Enabled || r.Header.Get(HeaderNoDedupe) == "1" {
		bc := NewBroadcast()
		h.metrics.RecordDedupe("bypass")
		h.start(r.Context(), req, plan, bc, cfg.Routing.RequestTimeout, func(error) {})
		return bc
	}

	key := dedupe.Fingerprint(req, cfg.Dedupe.Bucket)
	flight, leader := h.flights.Start(key, NewBroadcast)
	if !leader {
		slog.Info("joined in-flight request", "request_id", req.RequestID, "client", req.ClientKey)
		h.metrics.RecordDedupe("shared")
		return flight.Value()
	}

	h.metrics.RecordDedupe("leader")
	h.start(r.Context(), req, plan, flight.Value(), cfg.Routing.RequestTimeout, func(err error) {
		h.flights.Settle(flight, err)
	})
	return flight.Value()
}

// start runs the orchestration detached from the caller, so the leader
// disconnecting does not cancel it for followers.
func (h *Handler) start(parent context.Context, req *types.ChatRequest, plan orchestrator.Plan, bc *Broadcast, timeout time.Duration, settle func(error)) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	h.running.Add(1)

	go func() {
		defer h.running.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()

		var res orchestrator.Result
		var runErr error
		defer func() {
			if p := recover(); p != nil {
				runErr = fmt.Errorf("orchestration panicked: %v", p)
				slog.Error("orchestration panicked", "request_id", req.RequestID, "panic", p)
				bc.Send(types.Event{Type: types.EventError, Error: "The response failed unexpectedly."})
			}
			bc.Close()
			settle(runErr)
			h.finish(req, plan, res, runErr, bc.Len())
		}()

		res, runErr = h.orch.Run(ctx, req, plan, bc)
	}()
}

func (h *Handler) finish(req *types.ChatRequest, plan orchestrator.Plan, res orchestrator.Result, err error, events int) {
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, provider.ErrProviderUnavailable) {
			status = "unavailable"
		}
		slog.Error("request failed",
			"request_id", req.RequestID,
			"group", plan.Decision.Group,
			"model", plan.Decision.Model,
			"rounds", res.Rounds,
			"events", events,
			"error", err,
		)
	} else {
		slog.Info("request completed",
			"request_id", req.RequestID,
			"group", plan.Decision.Group,
			"model", plan.Decision.Model,
			"rounds", res.Rounds,
			"tool_calls", res.ToolCalls,
			"finish_reason", res.FinishReason,
			"events", events,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}

	h.metrics.RecordRequest(telemetry.RequestLabels{
		Group:      plan.Decision.Group,
		Model:      plan.Decision.Model,
		Status:     status,
		Rounds:     res.Rounds,
		DurationMs: float64(res.Duration.Milliseconds()),
	})

	if h.final != nil {
		h.final.Dispatch(orchestrator.JobFor(req, res))
	}
}

// Wait blocks until every running orchestration has finished.
func (h *Handler) Wait() {
	h.running.Wait()
}

// ListModels handles GET /models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   h.models.Models(),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"pending": h.flights.Pending(),
	})
}

type modelListResponse struct {
	Object string               `json:"object"`
	Data   []provider.ModelInfo `json:"data"`
}
