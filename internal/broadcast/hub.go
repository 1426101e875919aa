// Package broadcast delivers server events to the connections of a session.
package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/metrics"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Sink is a connection's outbound queue.
type Sink interface {
	ID() string
	TrySend(ev arenadto.ServerEvent) bool
	Close(reason string)
}

const reasonSlowConsumer = "slow consumer"

// Hub resolves session members through the registry and enqueues events on their sinks.
// Enqueueing never blocks; a full sink is closed and its connection is expected to go away.
type Hub struct {
	reg    *registry.Registry
	logger *zap.Logger

	mu    sync.RWMutex
	sinks map[string]Sink
}

func NewHub(reg *registry.Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{reg: reg, logger: logger, sinks: make(map[string]Sink)}
}

func (h *Hub) Attach(s Sink) {
	h.mu.Lock()
	h.sinks[s.ID()] = s
	h.mu.Unlock()
}

func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	delete(h.sinks, connID)
	h.mu.Unlock()
}

func (h *Hub) sink(connID string) (Sink, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sinks[connID]
	return s, ok
}

// Send enqueues ev for a single connection. Unknown connections are ignored.
func (h *Hub) Send(connID string, ev arenadto.ServerEvent) bool {
	if connID == "" {
		return false
	}
	s, ok := h.sink(connID)
	if !ok {
		return false
	}
	if s.TrySend(ev) {
		return true
	}
	metrics.BroadcastDropped()
	h.logger.Warn("outbox_full",
		zap.String("conn_id", connID),
		zap.String("event", ev.Type),
	)
	s.Close(reasonSlowConsumer)
	return false
}

// Publish enqueues ev for every connection registered to sessionID and returns how many
// accepted it.
func (h *Hub) Publish(sessionID string, ev arenadto.ServerEvent) int {
	return h.PublishExcept(sessionID, "", ev)
}

func (h *Hub) PublishExcept(sessionID, exceptConnID string, ev arenadto.ServerEvent) int {
	n := 0
	for _, e := range h.reg.ConnectionsFor(sessionID) {
		if e.ConnID == exceptConnID {
			continue
		}
		if h.Send(e.ConnID, ev) {
			n++
		}
	}
	return n
}

// Event wraps a payload in the wire envelope.
func Event(kind string, data any) arenadto.ServerEvent {
	return arenadto.ServerEvent{Type: kind, Data: data}
}
