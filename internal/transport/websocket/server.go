// Package websocket provides WebSocket-based push delivery for relayq.
//
// Clients open a WebSocket connection to:
//
//	GET /namespaces/{ns}/queues/{name}/ws
//
// The server polls the queue on a configurable interval and pushes any
// deliverable records. Clients respond with ack or reject frames.
//
// Server → client record frame:
//
//	{"type":"record","id":"<ULID>","body":"<base64>","namespace":"...","queue":"...","receive_count":N,"created_at":...}
//
// Client → server control frame:
//
//	{"type":"ack",    "id":"<ULID>"}
//	{"type":"reject", "id":"<ULID>", "requeue":true|false}
package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/relayq/internal/broker"
	"github.com/snehjoshi/relayq/internal/metrics"
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin upgrade requests. A request is
	// same-origin when its Origin host matches the Host header
	// (scheme-agnostic). Requests without an Origin header (native clients,
	// curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the WebSocket endpoint for a queue. It is mounted on the
// API router and reads ns/name from the chi route context.
type Handler struct {
	Broker       *broker.Broker
	Log          *slog.Logger
	PollInterval time.Duration
}

// serverFrame is the JSON structure the server sends to the client.
type serverFrame struct {
	Type         string `json:"type"` // "record"
	ID           string `json:"id"`
	Body         string `json:"body"` // base64
	Namespace    string `json:"namespace"`
	Queue        string `json:"queue"`
	ReceiveCount int    `json:"receive_count"`
	CreatedAt    int64  `json:"created_at"` // unix ms
}

// clientFrame is the JSON structure the client sends to the server.
type clientFrame struct {
	Type    string `json:"type"` // "ack" | "reject"
	ID      string `json:"id"`
	Requeue bool   `json:"requeue"`
}

// ServeHTTP upgrades the connection and starts the push loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	name := chi.URLParam(r, "name")
	log := h.Log
	if log == nil {
		log = slog.Default()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	metrics.WSConsumers.Inc()
	defer metrics.WSConsumers.Dec()

	// Read control frames on a separate goroutine; closing controlCh is the
	// disconnect signal for the push loop. done unblocks a reader stuck
	// sending on a full controlCh when the push loop exits first.
	controlCh := make(chan clientFrame, 64)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(controlCh)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cf clientFrame
			if jsonErr := json.Unmarshal(raw, &cf); jsonErr == nil {
				select {
				case controlCh <- cf:
				case <-done:
					return
				}
			}
		}
	}()

	interval := h.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case cf, ok := <-controlCh:
			if !ok {
				return // client disconnected
			}
			switch cf.Type {
			case "ack":
				if err := h.Broker.Ack(ns, name, cf.ID); err != nil {
					log.Warn("ws ack failed", "id", cf.ID, "err", err)
				}
			case "reject":
				if err := h.Broker.Reject(ns, name, cf.ID, cf.Requeue); err != nil {
					log.Warn("ws reject failed", "id", cf.ID, "err", err)
				}
			}

		case <-ticker.C:
			// Drain everything deliverable right now, then go back to sleep.
			for {
				rec, err := h.Broker.Consume(ns, name)
				if err != nil {
					log.Warn("ws consume failed", "ns", ns, "queue", name, "err", err)
					break
				}
				if rec == nil {
					break
				}
				frame := serverFrame{
					Type:         "record",
					ID:           rec.ID,
					Body:         base64.StdEncoding.EncodeToString(rec.Payload),
					Namespace:    ns,
					Queue:        name,
					ReceiveCount: rec.ReceiveCount,
					CreatedAt:    rec.CreatedAt.UnixMilli(),
				}
				data, _ := json.Marshal(frame)
				if writeErr := conn.WriteMessage(gorillaws.TextMessage, data); writeErr != nil {
					return
				}
			}
		}
	}
}
