// Package feed streams committed mint events over websocket.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("feed hub closed")

// HubConfig configures the server side of the feed.
type HubConfig struct {
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a subscriber may stay silent (no pong) before it is dropped.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// BufferSize is the number of events queued per subscriber before events are dropped.
	BufferSize int
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   64,
	}
}

// Hub fans committed mint events out to websocket subscribers. It implements
// ledger.EventSink and http.Handler.
type Hub struct {
	config   HubConfig
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a hub. A nil config uses DefaultHubConfig.
func NewHub(config *HubConfig, logger zerolog.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	return &Hub{
		config: cfg,
		logger: logger.With().Str("component", "feed").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*subscriber]struct{}),
	}
}

// Name implements ledger.EventSink.
func (h *Hub) Name() string {
	return "websocket"
}

// Publish queues e for every subscriber. Subscribers whose queue is full miss
// the event; Publish never blocks on a slow reader.
func (h *Hub) Publish(_ context.Context, e *domain.MintEvent) error {
	if h.closed.Load() {
		return ErrHubClosed
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal mint event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			observability.RecordEventDropped()
			h.logger.Warn().Uint64("sequence", e.Sequence).Msg("subscriber too slow, event dropped")
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &subscriber{
		conn: conn,
		send: make(chan []byte, h.config.BufferSize),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// add registers c unless the hub is closing.
func (h *Hub) add(c *subscriber) bool {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	n := len(h.clients)
	h.mu.Unlock()

	observability.UpdateSubscribers(n)
	h.logger.Debug().Int("subscribers", n).Msg("subscriber connected")
	return true
}

func (h *Hub) remove(c *subscriber) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		observability.UpdateSubscribers(n)
		h.logger.Debug().Int("subscribers", n).Msg("subscriber disconnected")
	}
}

// readLoop consumes control frames so pongs and close messages are processed.
func (h *Hub) readLoop(c *subscriber) {
	defer h.wg.Done()
	defer c.stop()

	c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer of c.conn.
func (h *Hub) writeLoop(c *subscriber) {
	defer h.wg.Done()
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber and waits for their loops to finish.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil // Already closed
	}

	h.mu.Lock()
	for c := range h.clients {
		c.stop()
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
