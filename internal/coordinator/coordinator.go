// Package coordinator serializes every operation on a session through one actor goroutine per
// session id. The actor owns the in-memory copy, persists each mutation before it becomes
// visible and only then fans the result out to the session's connections.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/metrics"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/internal/store"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("coordinator closed")

// Scheduler arms the timers that feed Timeout and Abandon back into the coordinator.
type Scheduler interface {
	Sync(s *domain.GameSession)
}

type Options struct {
	QueueSize      int
	IdleTTL        time.Duration
	PersistRetries int
	PersistBackoff time.Duration
	AbandonGrace   time.Duration

	Logger *zap.Logger
	Clock  Scheduler
	// OnEnded receives every committed terminal transition. It runs on the actor and must not block.
	OnEnded func(t store.Terminal)

	Now   func() time.Time
	NewID func() string
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 5 * time.Minute
	}
	if o.PersistRetries <= 0 {
		o.PersistRetries = 3
	}
	if o.PersistBackoff <= 0 {
		o.PersistBackoff = 50 * time.Millisecond
	}
	if o.AbandonGrace <= 0 {
		o.AbandonGrace = time.Minute
	}
	if o.Logger == nil {
		o.Logger = obslog.L()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
}

type Coordinator struct {
	store    store.Store
	pipeline *game.Pipeline
	reg      *registry.Registry
	hub      *broadcast.Hub
	opts     Options
	logger   *zap.Logger

	// ctx bounds every operation; callers that go away never cancel an op in flight.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup
}

func New(st store.Store, pipeline *game.Pipeline, reg *registry.Registry, hub *broadcast.Hub, opts Options) *Coordinator {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    st,
		pipeline: pipeline,
		reg:      reg,
		hub:      hub,
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		actors:   make(map[string]*actor),
	}
}

// Close stops accepting operations and waits for every actor to exit. Queued operations that
// have not started are answered with ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// ActiveActors is the number of live session actors.
func (c *Coordinator) ActiveActors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actors)
}

func (c *Coordinator) acquire(sessionID string) (*actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	a, ok := c.actors[sessionID]
	if !ok {
		a = newActor(c, sessionID)
		c.actors[sessionID] = a
		c.wg.Add(1)
		metrics.ActorStarted()
		go a.run()
	}
	a.pending.Add(1)
	return a, nil
}

// evict removes an idle actor. It fails when an operation was handed out in the meantime.
func (c *Coordinator) evict(a *actor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.pending.Load() > 0 || len(a.ops) > 0 {
		return false
	}
	if c.actors[a.id] == a {
		delete(c.actors, a.id)
	}
	return true
}

// run hands fn to the actor of sessionID and waits for its answer.
func run[T any](ctx context.Context, c *Coordinator, sessionID, name string, fn func(a *actor) (T, error)) (T, error) {
	var zero T
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return zero, domain.Invalid("missing_session", "session id required")
	}
	a, err := c.acquire(sessionID)
	if err != nil {
		return zero, err
	}
	reply := make(chan result, 1)
	o := op{name: name, reply: reply, fn: func(a *actor) (any, error) { return fn(a) }}

	select {
	case a.ops <- o:
	case <-c.ctx.Done():
		a.pending.Add(-1)
		return zero, ErrClosed
	case <-ctx.Done():
		a.pending.Add(-1)
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.ctx.Done():
		return zero, ErrClosed
	}
}

// persist runs write with exponential backoff. Conflicts and duplicate adjustments are final.
func (c *Coordinator) persist(sessionID, name string, write func(ctx context.Context) error) error {
	backoff := c.opts.PersistBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = write(c.ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrDuplicateAdjustment) ||
			c.ctx.Err() != nil || attempt >= c.opts.PersistRetries {
			return err
		}
		metrics.PersistRetried()
		c.logger.Warn("persist_retry",
			zap.String("session_id", sessionID),
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return err
		}
		backoff *= 2
	}
}

func (c *Coordinator) loadParticipant(caller Caller, gt domain.GameType) (game.Participant, error) {
	p := game.Participant{
		Identity:    caller.Identity,
		DisplayName: strings.TrimSpace(caller.DisplayName),
		Rating:      domain.DefaultRating,
	}
	r, err := c.store.LoadRating(c.ctx, caller.Identity, gt)
	if err != nil {
		return p, fmt.Errorf("load rating for %s: %w", caller.Identity, err)
	}
	p.Rating = r.Rating
	p.GamesPlayed = r.GamesPlayed
	return p, nil
}

// detachMoved finishes a connection's departure from the session it was registered to before.
func (c *Coordinator) detachMoved(prev registry.Entry) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, err := run(c.ctx, c, prev.SessionID, "detach", func(a *actor) (struct{}, error) {
			return struct{}{}, a.departed(prev, departLeft)
		})
		if err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("detach_failed",
				zap.String("session_id", prev.SessionID),
				zap.String("conn_id", prev.ConnID),
				zap.Error(err),
			)
		}
	}()
}
