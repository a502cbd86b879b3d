package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/id"
)

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.DLQService().DLQStore().ListDLQ(r.Context(), dlq.ListOpts{
		Limit:    defaultLimit(queryInt(r, "limit")),
		Offset:   queryInt(r, "offset"),
		Category: r.URL.Query().Get("category"),
		TenantID: r.URL.Query().Get("tenant_id"),
		Reason:   dlq.Reason(r.URL.Query().Get("reason")),
	})
	if err != nil {
		a.writeError(w, fmt.Errorf("list dlq: %w", err))
		return
	}

	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(mux.Vars(r)["entryId"])
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return
	}

	entry, err := a.eng.DLQService().DLQStore().GetDLQ(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, entry)
}

// replayDLQ re-submits the entry's operation snapshot through the full
// admission pipeline and answers with the fresh operation.
func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(mux.Vars(r)["entryId"])
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return
	}

	op, err := a.eng.ReplayDLQ(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, op)
}

func (a *API) purgeExpiredDLQ(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQService().Sweep(r.Context(), time.Now().UTC())
	if err != nil {
		a.writeError(w, fmt.Errorf("purge dlq: %w", err))
		return
	}

	a.writeJSON(w, http.StatusAccepted, PurgeDLQResponse{Purged: count})
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		a.writeError(w, fmt.Errorf("count dlq: %w", err))
		return
	}

	a.writeJSON(w, http.StatusOK, DLQCountResponse{Count: count})
}
