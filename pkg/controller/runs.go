package controller

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"query-watcher/pkg/httputil"
	"query-watcher/pkg/report"
)

// compareQuery holds the recognized query parameters for /api/runs/compare.
type compareQuery struct {
	Run1   int64  `schema:"run1"`
	Run2   int64  `schema:"run2"`
	Format string `schema:"format"`
}

// HandleListRuns returns all saved runs, newest first
func (c *Controller) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	runs, err := c.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, runs)
}

// HandleGetRun returns one run with its findings and query statistics.
// ?format=text renders a plain-text report instead of JSON.
func (c *Controller) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	detail, err := c.store.GetRunDetail(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if detail == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		report.RenderRun(w, detail)
		return
	}

	httputil.WriteJSON(w, detail)
}

// HandleRunFindings returns a run's persisted findings, optionally
// narrowed with ?kind=
func (c *Controller) HandleRunFindings(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	run, err := c.store.GetRun(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	findings, err := c.store.ListFindings(id, r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, findings)
}

// HandleRunStats returns a run's per-statement statistics, heaviest first
func (c *Controller) HandleRunStats(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	run, err := c.store.GetRun(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	stats, err := c.store.GetQueryStats(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, stats)
}

// HandleDeleteRun deletes a run and everything recorded under it
func (c *Controller) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	if err := c.store.DeleteRun(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCompareRuns diffs two saved runs. ?format=text and ?format=html
// render reports; the default is the comparison as JSON.
func (c *Controller) HandleCompareRuns(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	var q compareQuery
	if err := c.decoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, fmt.Sprintf("Invalid query parameters: %v", err), http.StatusBadRequest)
		return
	}
	if q.Run1 <= 0 || q.Run2 <= 0 {
		http.Error(w, "Both run1 and run2 are required", http.StatusBadRequest)
		return
	}

	run1, err := c.store.GetRun(q.Run1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	run2, err := c.store.GetRun(q.Run2)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run1 == nil || run2 == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	stats1, err := c.store.GetQueryStats(q.Run1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats2, err := c.store.GetQueryStats(q.Run2)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cmp := report.Compare(*run1, *run2, stats1, stats2)

	switch q.Format {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		report.RenderComparison(w, cmp)
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.WriteHTML(w, cmp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		httputil.WriteJSON(w, cmp)
	}
}
