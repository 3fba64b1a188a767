package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"query-watcher/pkg/monitor"
)

// ClientFilter narrows which findings a websocket client receives. Empty
// fields match everything.
type ClientFilter struct {
	Kinds     []string `json:"kinds"`
	Model     string   `json:"model"`
	RequestID string   `json:"requestId"`
}

// Client is one connected websocket subscriber.
type Client struct {
	conn   *websocket.Conn
	filter ClientFilter
	mu     sync.RWMutex

	// The connection allows one writer at a time; the broadcast loop,
	// the backlog replay, and the reset handler all write.
	writeMu sync.Mutex
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// writeJSON serializes writes and drops the frame if the client cannot
// keep up within writeWait.
func (cl *Client) writeJSON(v interface{}) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteJSON(v)
}

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandleFindingsWS upgrades the connection and streams findings as they
// are detected. The client may send {"type":"filter","data":{...}} at
// any time to narrow the stream.
func (c *Controller) HandleFindingsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade error", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		filter: ClientFilter{
			Kinds: []string{},
		},
	}

	c.clientsMutex.Lock()
	c.clients[client] = true
	c.clientsMutex.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		c.clientsMutex.Lock()
		delete(c.clients, client)
		c.clientsMutex.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go pingClient(client, done)

	go c.sendInitialFindings(client)

	// Read filter updates from client
	for {
		var msg WSMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			break
		}

		if msg.Type == "filter" {
			var filter ClientFilter
			if err := json.Unmarshal(msg.Data, &filter); err != nil {
				slog.Error("failed to parse filter", "error", err)
				continue
			}
			client.mu.Lock()
			client.filter = filter
			client.mu.Unlock()

			// Replay the backlog under the new filter
			go c.sendInitialFindings(client)
		}
	}
}

// sendInitialFindings replaces the client's view with the stored backlog
// that matches its current filter.
func (c *Controller) sendInitialFindings(client *Client) {
	client.mu.RLock()
	filter := client.filter
	client.mu.RUnlock()

	recent := c.findings.Recent(initialFindingLimit)
	filtered := make([]monitor.Finding, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if matchesFilter(*recent[i], filter) {
			filtered = append(filtered, *recent[i])
		}
	}

	wsMsg := WSMessage{
		Type: "findings_initial",
	}
	data, _ := json.Marshal(filtered)
	wsMsg.Data = data

	client.writeJSON(wsMsg)
}

const initialFindingLimit = 500

// pingClient keeps the connection alive; the read deadline expires and
// ends the session when pongs stop coming back. WriteControl is safe to
// call alongside writeJSON.
func pingClient(client *Client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				return
			}
		}
	}
}

// RunLiveFeed drains the monitor's finding channel and broadcasts
// batches to connected clients. Blocks until ctx is canceled or the
// channel closes.
func (c *Controller) RunLiveFeed(ctx context.Context, ch <-chan monitor.Finding) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var batch []monitor.Finding

	slog.Info("live finding feed started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("live finding feed exiting")
			return
		case f, ok := <-ch:
			if !ok {
				slog.Info("live finding feed exiting (channel closed)")
				return
			}
			batch = append(batch, f)
		case <-ticker.C:
			if len(batch) > 0 {
				c.broadcastBatch(batch)
				batch = nil
			}
		}
	}
}

// broadcastBatch sends a batch to every client whose filter matches at
// least one finding. Takes the write lock because dead clients are
// dropped in place.
func (c *Controller) broadcastBatch(batch []monitor.Finding) {
	c.clientsMutex.Lock()
	defer c.clientsMutex.Unlock()

	if len(batch) == 0 {
		return
	}

	for client := range c.clients {
		client.mu.RLock()
		filter := client.filter
		client.mu.RUnlock()

		filtered := make([]monitor.Finding, 0, len(batch))
		for _, f := range batch {
			if matchesFilter(f, filter) {
				filtered = append(filtered, f)
			}
		}

		if len(filtered) == 0 {
			continue
		}

		wsMsg := WSMessage{
			Type: "findings",
		}
		data, _ := json.Marshal(filtered)
		wsMsg.Data = data

		err := client.writeJSON(wsMsg)
		if err != nil {
			client.conn.Close()
			delete(c.clients, client)
		}
	}
}

// matchesFilter checks if a finding matches the client's filter criteria
func matchesFilter(f monitor.Finding, filter ClientFilter) bool {
	if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, f.Kind) {
		return false
	}
	if filter.Model != "" && f.Model != filter.Model {
		return false
	}
	if filter.RequestID != "" && f.RequestID != filter.RequestID {
		return false
	}
	return true
}
