// Package api provides the HTTP handlers for the semantic layer REST API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"semlayer/internal/declarative"
	"semlayer/internal/domain"
	"semlayer/internal/engine"
	"semlayer/internal/middleware"
	"semlayer/internal/semantic"
)

// Executor runs rendered SQL. Satisfied by *engine.Executor; tests swap in
// a stub to exercise handlers without a database.
type Executor interface {
	Query(ctx context.Context, sql string) (*engine.Result, error)
}

// Handler serves the model registry over HTTP.
type Handler struct {
	registry *declarative.Registry
	exec     Executor
	logger   *slog.Logger
}

// NewHandler creates a Handler. exec may be nil, in which case the query
// endpoint responds 503 and only explain-style endpoints work.
func NewHandler(registry *declarative.Registry, exec Executor, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, exec: exec, logger: logger}
}

// Routes mounts every handler on a fresh router, without middleware; the
// caller composes the middleware stack.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/models", h.listModels)
	r.Route("/models/{model}", func(r chi.Router) {
		r.Get("/", h.getModel)
		r.Get("/graph", h.getGraph)
		r.Get("/fields/{field}/lineage", h.getLineage)
		r.Post("/explain", h.explain)
		r.Post("/query", h.query)
		r.Post("/requirements", h.requirements)
	})
	return r
}

// --- request/response shapes ---

// ModelSummary is one entry of the model listing.
type ModelSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// QueryRequest is the JSON body of explain, query, and requirements calls.
// Filters accepts the same shapes the compiler does: structured objects and
// string shorthand.
type QueryRequest struct {
	Dimensions []string       `json:"dimensions,omitempty"`
	Measures   []string       `json:"measures,omitempty"`
	Filters    []any          `json:"filters,omitempty"`
	OrderBy    []OrderByItem  `json:"order_by,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	TimeGrain  string         `json:"time_grain,omitempty"`
	TimeRange  *TimeRangeItem `json:"time_range,omitempty"`
}

// OrderByItem orders output by one output field.
type OrderByItem struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// TimeRangeItem is an inclusive range over the query's time dimension.
type TimeRangeItem struct {
	Start any `json:"start"`
	End   any `json:"end"`
}

// ExplainResponse carries the compiled SQL without executing it.
type ExplainResponse struct {
	Columns []string `json:"columns"`
	SQL     string   `json:"sql"`
}

// LineageResponse lists the fields reachable from one field.
type LineageResponse struct {
	Field     string   `json:"field"`
	Direction string   `json:"direction"`
	Fields    []string `json:"fields"`
}

// --- handlers ---

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	out := make([]ModelSummary, len(names))
	for i, n := range names {
		out[i] = ModelSummary{Name: n, Description: h.registry.Description(n)}
	}
	h.respondJSON(w, r, http.StatusOK, out)
}

func (h *Handler) getModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.model(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, model.Describe())
}

func (h *Handler) getGraph(w http.ResponseWriter, r *http.Request) {
	model, err := h.model(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, model.DependencyGraph().Export())
}

func (h *Handler) getLineage(w http.ResponseWriter, r *http.Request) {
	model, err := h.model(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	field := chi.URLParam(r, "field")
	graph := model.DependencyGraph()
	if _, ok := graph[field]; !ok {
		h.respondError(w, r, domain.ErrNotFound("field %q not found", field))
		return
	}

	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondError(w, r, domain.ErrValidation("depth must be a non-negative integer"))
			return
		}
		depth = n
	}

	direction := r.URL.Query().Get("direction")
	var fields []string
	switch direction {
	case "", "upstream":
		direction = "upstream"
		fields = graph.Predecessors(field, depth)
	case "downstream":
		fields = graph.Successors(field, depth)
	default:
		h.respondError(w, r, domain.ErrValidation("direction must be upstream or downstream"))
		return
	}

	h.respondJSON(w, r, http.StatusOK, LineageResponse{Field: field, Direction: direction, Fields: fields})
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	plan, err := h.compile(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sqlText, err := plan.SQL()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, ExplainResponse{Columns: plan.Columns, SQL: sqlText})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	if h.exec == nil {
		h.respondStatus(w, r, http.StatusServiceUnavailable, "query execution is not configured")
		return
	}
	plan, err := h.compile(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sqlText, err := plan.SQL()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.exec.Query(r.Context(), sqlText)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, result)
}

func (h *Handler) requirements(w http.ResponseWriter, r *http.Request) {
	model, err := h.model(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	query, err := h.decodeQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	cols, err := model.RequiredColumns(query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, cols)
}

// --- helpers ---

func (h *Handler) model(r *http.Request) (*semantic.Model, error) {
	name := chi.URLParam(r, "model")
	model, ok := h.registry.Model(name)
	if !ok {
		return nil, domain.ErrNotFound("model %q not found", name)
	}
	return model, nil
}

func (h *Handler) compile(r *http.Request) (*semantic.Plan, error) {
	model, err := h.model(r)
	if err != nil {
		return nil, err
	}
	query, err := h.decodeQuery(r)
	if err != nil {
		return nil, err
	}
	return model.Compile(query)
}

func (h *Handler) decodeQuery(r *http.Request) (semantic.Query, error) {
	var req QueryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return semantic.Query{}, domain.ErrValidation("invalid request body: %v", err)
	}

	q := semantic.Query{
		Dimensions: req.Dimensions,
		Measures:   req.Measures,
		Filters:    req.Filters,
		Limit:      req.Limit,
	}
	for _, o := range req.OrderBy {
		q.OrderBy = append(q.OrderBy, semantic.OrderBy{Field: o.Field, Desc: o.Desc})
	}
	if req.TimeGrain != "" {
		g, err := semantic.ParseGrain(req.TimeGrain)
		if err != nil {
			return semantic.Query{}, err
		}
		q.TimeGrain = g
	}
	if req.TimeRange != nil {
		q.TimeRange = &semantic.TimeRange{Start: req.TimeRange.Start, End: req.TimeRange.End}
	}
	return q, nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response",
			"error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()))
	}
}

func (h *Handler) respondStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.respondJSON(w, r, status, map[string]any{"code": status, "message": message})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()))
	}
	h.respondStatus(w, r, status, err.Error())
}
