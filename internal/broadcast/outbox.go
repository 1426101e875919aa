package broadcast

import (
	"sync"

	"github.com/park285/chess-arena/pkg/arenadto"
)

// DefaultOutboxSize is the per-connection buffer used when none is configured.
const DefaultOutboxSize = 256

// Outbox is the buffered queue between the hub and one connection's writer.
// The channel is never closed; writers select on Done as well.
type Outbox struct {
	id   string
	ch   chan arenadto.ServerEvent
	done chan struct{}

	mu     sync.Mutex
	closed bool
	reason string
}

func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		id:   id,
		ch:   make(chan arenadto.ServerEvent, size),
		done: make(chan struct{}),
	}
}

func (o *Outbox) ID() string { return o.id }

// C delivers queued events in enqueue order.
func (o *Outbox) C() <-chan arenadto.ServerEvent { return o.ch }

// Done is closed once the outbox is closed.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// TrySend enqueues ev without blocking. It reports false when the outbox is closed or full.
func (o *Outbox) TrySend(ev arenadto.ServerEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.ch <- ev:
		return true
	default:
		return false
	}
}

func (o *Outbox) Close(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.reason = reason
	close(o.done)
}

// Reason is the argument of the first Close call.
func (o *Outbox) Reason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

func (o *Outbox) Len() int { return len(o.ch) }
