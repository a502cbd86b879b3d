package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xraph/governor"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

func (a *API) submitOperation(w http.ResponseWriter, r *http.Request) {
	var req SubmitOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Category == "" {
		a.badRequest(w, "category is required")
		return
	}

	opts := []operation.Option{
		operation.WithPriority(req.Priority),
		operation.WithTenant(req.TenantID),
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, operation.WithMaxAttempts(req.MaxAttempts))
	}
	if req.IdempotencyKey != "" {
		opts = append(opts, operation.WithIdempotencyKey(req.IdempotencyKey))
	}
	for k, v := range req.Metadata {
		opts = append(opts, operation.WithMetadata(k, v))
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			a.badRequest(w, fmt.Sprintf("invalid timeout: %v", err))
			return
		}
		opts = append(opts, operation.WithTimeout(d))
	}

	op, err := a.eng.SubmitRaw(r.Context(), req.Category, req.Payload, opts...)
	if err != nil {
		// A duplicate still resolves to the original operation; the
		// conflict response carries it so the caller can track it.
		if errors.Is(err, governor.ErrDuplicateOperation) && op != nil {
			a.writeJSON(w, http.StatusConflict, op)
			return
		}
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusAccepted, op)
}

func (a *API) getOperation(w http.ResponseWriter, r *http.Request) {
	opID, err := id.ParseOperationID(mux.Vars(r)["opId"])
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid operation ID: %v", err))
		return
	}

	op, err := a.eng.GetOperation(r.Context(), opID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, op)
}

func (a *API) cancelOperation(w http.ResponseWriter, r *http.Request) {
	opID, err := id.ParseOperationID(mux.Vars(r)["opId"])
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid operation ID: %v", err))
		return
	}

	if err := a.eng.CancelQueued(r.Context(), opID); err != nil {
		a.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listOperations(w http.ResponseWriter, r *http.Request) {
	state, ok := operationStateFromString(r.URL.Query().Get("state"))
	if !ok {
		a.badRequest(w, "state query parameter is required (queued, running, succeeded, failed, retrying, dead_lettered, cancelled)")
		return
	}

	ops, err := a.eng.Ledger().ListOperationsByState(r.Context(), state, operation.ListOpts{
		Limit:    defaultLimit(queryInt(r, "limit")),
		Offset:   queryInt(r, "offset"),
		Category: r.URL.Query().Get("category"),
		TenantID: r.URL.Query().Get("tenant_id"),
	})
	if err != nil {
		a.writeError(w, fmt.Errorf("list operations: %w", err))
		return
	}

	a.writeJSON(w, http.StatusOK, ops)
}

func (a *API) operationCounts(w http.ResponseWriter, r *http.Request) {
	resp, err := a.countsByState(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) countsByState(ctx context.Context) (OperationCountsResponse, error) {
	states := []operation.State{
		operation.StateQueued,
		operation.StateRunning,
		operation.StateSucceeded,
		operation.StateFailed,
		operation.StateRetrying,
		operation.StateDeadLettered,
		operation.StateCancelled,
	}

	resp := OperationCountsResponse{}
	for _, state := range states {
		count, err := a.eng.Ledger().CountOperations(ctx, operation.CountOpts{State: state})
		if err != nil {
			return resp, fmt.Errorf("count operations (%s): %w", state, err)
		}
		switch state {
		case operation.StateQueued:
			resp.Queued = count
		case operation.StateRunning:
			resp.Running = count
		case operation.StateSucceeded:
			resp.Succeeded = count
		case operation.StateFailed:
			resp.Failed = count
		case operation.StateRetrying:
			resp.Retrying = count
		case operation.StateDeadLettered:
			resp.DeadLettered = count
		case operation.StateCancelled:
			resp.Cancelled = count
		}
	}

	return resp, nil
}
