// Package sse fans pipeline progress events out to connected dashboards.
// Events arrive over the Redis progress channel so every API instance sees
// the full stream regardless of which worker published it.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/clients/redis"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Outbound chan redis.ProgressEvent
	done     chan struct{}
}

type Hub struct {
	mu      sync.RWMutex
	log     *logger.Logger
	clients map[uuid.UUID]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "ProgressHub"),
		clients: make(map[uuid.UUID]map[*Client]bool),
	}
}

// Subscribe registers a stream for one user. Events for other users are
// never routed to it.
func (h *Hub) Subscribe(userID uuid.UUID) *Client {
	c := &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Outbound: make(chan redis.ProgressEvent, 16),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[userID] = set
	}
	set[c] = true
	h.log.Debug("Progress client subscribed", "client_id", c.ID, "user_id", userID)
	return c
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.UserID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.done)
	h.log.Debug("Progress client unsubscribed", "client_id", c.ID)
}

// Broadcast routes an event to every stream the owning user has open.
// A slow consumer drops events rather than stalling the hub.
func (h *Hub) Broadcast(ev redis.ProgressEvent) {
	userID, err := uuid.Parse(ev.UserID)
	if err != nil || userID == uuid.Nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.Outbound <- ev:
		default:
			h.log.Warn("Dropping progress event; outbound buffer full", "client_id", c.ID)
		}
	}
}

// Serve streams the client's events until the connection drops or the
// client is unsubscribed. Heartbeats keep intermediary proxies from
// closing the idle stream.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, c *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-c.Outbound:
			raw, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("Failed to marshal progress event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", raw)
			flusher.Flush()
		}
	}
}
