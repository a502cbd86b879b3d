// Package api provides HTTP handlers for the Governor API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/governor"
	"github.com/xraph/governor/engine"
)

// API wires all HTTP handlers for the governor system.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from a governor Engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng, logger: eng.Controller().Logger()}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all governor API routes into the given router.
// Fixed paths are registered before their parameterized siblings so
// /operations/counts does not match as an operation ID.
func (a *API) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	// Operations.
	v1.HandleFunc("/operations", a.submitOperation).Methods(http.MethodPost)
	v1.HandleFunc("/operations", a.listOperations).Methods(http.MethodGet)
	v1.HandleFunc("/operations/counts", a.operationCounts).Methods(http.MethodGet)
	v1.HandleFunc("/operations/{opId}", a.getOperation).Methods(http.MethodGet)
	v1.HandleFunc("/operations/{opId}", a.cancelOperation).Methods(http.MethodDelete)

	// Dead letter queue.
	v1.HandleFunc("/dlq", a.listDLQ).Methods(http.MethodGet)
	v1.HandleFunc("/dlq/count", a.dlqCount).Methods(http.MethodGet)
	v1.HandleFunc("/dlq/expired", a.purgeExpiredDLQ).Methods(http.MethodDelete)
	v1.HandleFunc("/dlq/{entryId}", a.getDLQ).Methods(http.MethodGet)
	v1.HandleFunc("/dlq/{entryId}/replay", a.replayDLQ).Methods(http.MethodPost)

	// Circuit breakers.
	v1.HandleFunc("/breakers", a.listBreakers).Methods(http.MethodGet)
	v1.HandleFunc("/breakers/{key}/reset", a.resetBreaker).Methods(http.MethodPost)

	// Stats and metrics.
	v1.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	v1.HandleFunc("/metrics/snapshot", a.metricsSnapshot).Methods(http.MethodGet)

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("response encode failed", slog.String("error", err.Error()))
	}
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps governor sentinel errors onto HTTP statuses: not-found
// sentinels become 404, a full queue becomes 429, an open or saturated
// circuit becomes 503, conflicts become 409.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case isNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, governor.ErrCategoryNotFound):
		status = http.StatusBadRequest
	case errors.Is(err, governor.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, governor.ErrCircuitOpen), errors.Is(err, governor.ErrTooManyProbes):
		status = http.StatusServiceUnavailable
	case errors.Is(err, governor.ErrNotRunning):
		status = http.StatusServiceUnavailable
	case errors.Is(err, governor.ErrDuplicateOperation), errors.Is(err, governor.ErrInvalidState):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", slog.String("error", err.Error()))
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func isNotFound(err error) bool {
	return errors.Is(err, governor.ErrOperationNotFound) ||
		errors.Is(err, governor.ErrDLQNotFound) ||
		errors.Is(err, governor.ErrBreakerNotFound) ||
		errors.Is(err, governor.ErrIdempotencyNotFound)
}
