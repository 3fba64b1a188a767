// Package controller serves the HTTP API over a running monitor: finding
// queries, live streaming, run persistence, comparisons, and EXPLAIN.
package controller

import (
	"net/http"
	"sync"

	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"query-watcher/pkg/explain"
	"query-watcher/pkg/findinglog"
	"query-watcher/pkg/monitor"
	"query-watcher/pkg/report"
	"query-watcher/pkg/store"
)

// Controller handles HTTP requests for the watcher. Store and Planner are
// optional; their endpoints answer 503 when disabled.
type Controller struct {
	monitor  *monitor.Monitor
	findings *findinglog.Store
	stats    *report.Collector
	store    *store.Store
	planner  *explain.Planner
	runID    int64
	registry *prometheus.Registry

	clients      map[*Client]bool
	clientsMutex sync.RWMutex
	upgrader     websocket.Upgrader
	decoder      *schema.Decoder
}

// Options wires the controller's collaborators. Monitor and Findings are
// required; everything else may be nil.
type Options struct {
	Monitor  *monitor.Monitor
	Findings *findinglog.Store
	Stats    *report.Collector
	Store    *store.Store
	Planner  *explain.Planner
	RunID    int64
	Registry *prometheus.Registry
}

// New creates a Controller.
func New(opts Options) *Controller {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &Controller{
		monitor:  opts.Monitor,
		findings: opts.Findings,
		stats:    opts.Stats,
		store:    opts.Store,
		planner:  opts.Planner,
		runID:    opts.RunID,
		registry: opts.Registry,
		clients:  make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		decoder: decoder,
	}
}
