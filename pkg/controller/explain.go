package controller

import (
	"net/http"

	"query-watcher/pkg/explain"
	"query-watcher/pkg/httputil"
)

// HandleExplain plans a statement against the configured database.
// Planning failures come back inside the response body, so the client
// still gets the formatted query and suggestions.
func (c *Controller) HandleExplain(w http.ResponseWriter, r *http.Request) {
	var req explain.Request
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	httputil.WriteJSON(w, c.planner.Explain(req))
}
