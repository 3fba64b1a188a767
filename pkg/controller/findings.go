package controller

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"query-watcher/pkg/findinglog"
	"query-watcher/pkg/httputil"
)

// findingsQuery holds the recognized query parameters for /api/findings.
type findingsQuery struct {
	Kind      string `schema:"kind"`
	RequestID string `schema:"requestId"`
	Model     string `schema:"model"`
	Since     string `schema:"since"`
	Limit     int    `schema:"limit"`
}

// HandleHealth reports liveness and the current finding count
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, map[string]interface{}{
		"status":   "ok",
		"findings": c.findings.Count(),
	})
}

// HandleStats returns the monitor's running counters
func (c *Controller) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, c.monitor.Stats())
}

// HandleFindings returns recent findings, filtered by the query parameters
func (c *Controller) HandleFindings(w http.ResponseWriter, r *http.Request) {
	var q findingsQuery
	if err := c.decoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, fmt.Sprintf("Invalid query parameters: %v", err), http.StatusBadRequest)
		return
	}

	opts := findinglog.FilterOptions{
		Kind:      q.Kind,
		RequestID: q.RequestID,
		Model:     q.Model,
	}
	if q.Since != "" {
		since, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			http.Error(w, "Invalid since timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		opts.Since = &since
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	findings := c.findings.Filter(opts, limit)
	httputil.WriteJSON(w, map[string]interface{}{
		"findings": findings,
		"count":    len(findings),
	})
}

// HandleRecentSlow returns the slowest recent statements, worst first
func (c *Controller) HandleRecentSlow(w http.ResponseWriter, r *http.Request) {
	var q findingsQuery
	if err := c.decoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, fmt.Sprintf("Invalid query parameters: %v", err), http.StatusBadRequest)
		return
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	slow := c.monitor.RecentSlow(limit)
	httputil.WriteJSON(w, map[string]interface{}{
		"slowQueries": slow,
		"count":       len(slow),
	})
}

// HandleReset clears the analyzer state, the counters, and the stored
// finding history
func (c *Controller) HandleReset(w http.ResponseWriter, r *http.Request) {
	c.monitor.Reset()
	c.findings.Clear()
	slog.Info("cleared monitor state and finding history")

	// Tell WebSocket clients to drop what they have
	clearMsg := WSMessage{
		Type: "findings_clear",
		Data: json.RawMessage("[]"),
	}

	c.clientsMutex.Lock()
	for client := range c.clients {
		if err := client.writeJSON(clearMsg); err != nil {
			slog.Error("failed to send clear message", "error", err)
			client.conn.Close()
			delete(c.clients, client)
		}
	}
	c.clientsMutex.Unlock()

	httputil.WriteJSON(w, map[string]string{"status": "reset"})
}
