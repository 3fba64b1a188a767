package controller

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the Gorilla mux router.
func (c *Controller) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// Apply logging middleware to all routes
	r.Use(loggingMiddleware)

	// Monitor endpoints
	r.HandleFunc("/api/health", c.HandleHealth).Methods("GET")
	r.HandleFunc("/api/stats", c.HandleStats).Methods("GET")
	r.HandleFunc("/api/findings", c.HandleFindings).Methods("GET")
	r.HandleFunc("/api/findings/live", c.HandleFindingsWS).Methods("GET")
	r.HandleFunc("/api/slow", c.HandleRecentSlow).Methods("GET")
	r.HandleFunc("/api/reset", c.HandleReset).Methods("POST")

	// Run endpoints. Compare is registered before {id} so it wins the
	// route match.
	r.HandleFunc("/api/runs", c.HandleListRuns).Methods("GET")
	r.HandleFunc("/api/runs/compare", c.HandleCompareRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", c.HandleGetRun).Methods("GET")
	r.HandleFunc("/api/runs/{id}", c.HandleDeleteRun).Methods("DELETE")
	r.HandleFunc("/api/runs/{id}/findings", c.HandleRunFindings).Methods("GET")
	r.HandleFunc("/api/runs/{id}/stats", c.HandleRunStats).Methods("GET")
	r.HandleFunc("/api/runs/{id}/export/notion", c.HandleNotionExport).Methods("POST")

	// EXPLAIN endpoint
	r.HandleFunc("/api/explain", c.HandleExplain).Methods("POST")

	if c.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	}

	return r
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		next.ServeHTTP(w, r)

		slog.Info(fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
	})
}
