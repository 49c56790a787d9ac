// Package feed pushes board snapshots to connected displays over websockets.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Message is the envelope sent to clients.
type Message struct {
	Type string `json:"t"`
	Data any    `json:"d"`
}

// Client is one connected display.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// WritePump writes queued messages to the connection until ctx ends or the
// hub closes Send.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		close(c.Send)
		delete(h.clients, id)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client. Non-blocking: drops for a client
// whose channel is full.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode feed message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.Send <- data:
		default:
		}
	}
}

// Source is what the hub streams from.
type Source interface {
	Changes() <-chan struct{}
}

// Run broadcasts snapshot() on every change signal until ctx ends.
func (h *Hub) Run(ctx context.Context, src Source, snapshot func() any) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-src.Changes():
			if h.Len() == 0 {
				continue
			}
			h.Broadcast(Message{Type: "board", Data: snapshot()})
		}
	}
}

// Handler upgrades the request and streams messages until the client goes
// away. initial, if set, is sent first.
func (h *Hub) Handler(origins []string, initial func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
		if err != nil {
			log.Warn().Err(err).Msg("Feed upgrade failed")
			return
		}
		defer conn.CloseNow()

		client := &Client{ID: uuid.NewString(), Conn: conn, Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client.ID)

		ctx := conn.CloseRead(r.Context())
		if initial != nil {
			if data, err := json.Marshal(Message{Type: "board", Data: initial()}); err == nil {
				client.Send <- data
			}
		}
		client.WritePump(ctx)
	}
}
