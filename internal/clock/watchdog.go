// Package clock arms per-session timers for flag falls and abandoned seats. Timers only submit
// operations; the session actor decides whether they still apply.
package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
)

// Handler receives the synthetic operations.
type Handler interface {
	Timeout(ctx context.Context, sessionID string) error
	Abandon(ctx context.Context, sessionID string) error
}

// slack is added to a flag timer so that it fires after the clock has actually reached zero.
const slack = 50 * time.Millisecond

const fireTimeout = 10 * time.Second

type timers struct {
	flag    *time.Timer
	abandon *time.Timer
}

func (t *timers) stop() {
	if t.flag != nil {
		t.flag.Stop()
	}
	if t.abandon != nil {
		t.abandon.Stop()
	}
}

type Watchdog struct {
	grace  time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	handler Handler
	entries map[string]*timers
	stopped bool
	running sync.WaitGroup
}

type Option func(*Watchdog)

func WithNow(now func() time.Time) Option { return func(w *Watchdog) { w.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.logger = l
		}
	}
}

func New(grace time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		grace:   grace,
		now:     time.Now,
		logger:  zap.NewNop(),
		entries: make(map[string]*timers),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Bind sets the receiver of fired timers. It is separate from New because the handler is
// usually built with this watchdog as its scheduler.
func (w *Watchdog) Bind(h Handler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

// Sync replaces the timers of s.ID with ones derived from s. Sessions that are not playing
// lose their timers.
func (w *Watchdog) Sync(s *domain.GameSession) {
	if s == nil {
		return
	}
	id := s.ID
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if old, ok := w.entries[id]; ok {
		old.stop()
		delete(w.entries, id)
	}
	if s.Status != domain.StatusPlaying {
		return
	}

	now := w.now()
	t := &timers{}
	if rem, ok := game.Remaining(s, s.SideToMove(), now); ok {
		d := time.Duration(rem)*time.Millisecond + slack
		t.flag = time.AfterFunc(d, func() { w.fire(id, "timeout") })
	}
	if d, ok := w.abandonIn(s, now); ok {
		t.abandon = time.AfterFunc(d, func() { w.fire(id, "abandon") })
	}
	if t.flag != nil || t.abandon != nil {
		w.entries[id] = t
	}
}

// abandonIn is the time until the earliest disconnected player exceeds the grace.
func (w *Watchdog) abandonIn(s *domain.GameSession, now time.Time) (time.Duration, bool) {
	var (
		best  time.Duration
		armed bool
	)
	for _, side := range []domain.Color{domain.White, domain.Black} {
		slot := s.Slot(side)
		if slot.Connected || slot.DisconnectedAt == nil {
			continue
		}
		d := w.grace - now.Sub(*slot.DisconnectedAt)
		if d < 0 {
			d = 0
		}
		if !armed || d < best {
			best, armed = d, true
		}
	}
	return best, armed
}

func (w *Watchdog) fire(sessionID, kind string) {
	w.mu.Lock()
	if w.stopped || w.handler == nil {
		w.mu.Unlock()
		return
	}
	h := w.handler
	w.running.Add(1)
	w.mu.Unlock()
	defer w.running.Done()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()
	var err error
	switch kind {
	case "timeout":
		err = h.Timeout(ctx, sessionID)
	default:
		err = h.Abandon(ctx, sessionID)
	}
	if err != nil {
		w.logger.Warn("clock_fire_failed",
			zap.String("session_id", sessionID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

// Armed reports how many sessions hold at least one timer.
func (w *Watchdog) Armed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Stop cancels every timer and waits for callbacks already running.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	for id, t := range w.entries {
		t.stop()
		delete(w.entries, id)
	}
	w.mu.Unlock()
	w.running.Wait()
}
