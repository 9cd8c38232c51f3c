// Package live pushes triaged calls to connected dashboards over Server-Sent
// Events and WebSocket. Each subscriber gets a bounded queue; a subscriber
// that falls behind loses messages instead of slowing the pipeline.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/triage"
)

const (
	DefaultBuffer    = 32
	DefaultKeepalive = 15 * time.Second
)

// Hub is a triage.Notifier that broadcasts observations to subscribers.
type Hub struct {
	logger    log.Logger
	buffer    int
	keepalive time.Duration
	onDrop    func()
	upgrader  websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithKeepalive sets the idle interval for SSE comments and WebSocket pings.
func WithKeepalive(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.keepalive = d
		}
	}
}

// WithDropHook is called once per message dropped for a slow subscriber.
func WithDropHook(fn func()) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// WithCheckOrigin overrides the WebSocket origin check. The default accepts
// same-host origins only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// New creates a Hub.
func New(logger log.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	h := &Hub{
		logger:    logger,
		buffer:    DefaultBuffer,
		keepalive: DefaultKeepalive,
		onDrop:    func() {},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*Subscription]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.onDrop == nil {
		h.onDrop = func() {}
	}
	return h
}

// Subscription is one observer's queue of encoded observations.
type Subscription struct {
	hub  *Hub
	ch   chan []byte
	once sync.Once
}

// C delivers encoded observations. It is closed when the subscription or hub closes.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Subscribe registers a new observer. On a closed hub the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Subscribers returns the number of connected observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish implements triage.Notifier. It sends the record's observation
// payload to every subscriber without blocking.
func (h *Hub) Publish(ctx context.Context, rec triage.Record) {
	payload, err := json.Marshal(rec.Observation())
	if err != nil {
		h.logger.Error(ctx, err, "encode observation", "triage_id", rec.ID)
		return
	}
	h.broadcast(ctx, payload)
}

func (h *Hub) broadcast(ctx context.Context, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for s := range h.subs {
		select {
		case s.ch <- payload:
		default:
			dropped++
			h.onDrop()
		}
	}
	if dropped > 0 {
		h.logger.Warn(ctx, "live subscriber queue full, message dropped",
			"dropped", dropped,
			"subscribers", len(h.subs),
		)
	}
}

// Close disconnects every subscriber. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}
