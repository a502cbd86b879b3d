package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) listBreakers(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.eng.Breakers().Snapshot())
}

// resetBreaker forces the named breaker back to closed, clearing its
// failure count and persisted state.
func (a *API) resetBreaker(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := a.eng.Breakers().Reset(r.Context(), key); err != nil {
		a.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
