package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/metrics"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/arenadto"
)

type result struct {
	val any
	err error
}

type op struct {
	name  string
	fn    func(a *actor) (any, error)
	reply chan<- result
}

// actor owns one session. session is nil until the first operation loads it, and again after a
// write lost a revision race so the next operation reloads.
type actor struct {
	c       *Coordinator
	id      string
	ops     chan op
	pending atomic.Int64

	session *domain.GameSession
}

func newActor(c *Coordinator, id string) *actor {
	return &actor{c: c, id: id, ops: make(chan op, c.opts.QueueSize)}
}

func (a *actor) run() {
	defer a.c.wg.Done()
	defer metrics.ActorStopped()

	idle := time.NewTimer(a.c.opts.IdleTTL)
	defer idle.Stop()
	for {
		select {
		case <-a.c.ctx.Done():
			return
		case o := <-a.ops:
			a.pending.Add(-1)
			a.exec(o)
			if a.session == nil && a.c.evict(a) {
				return
			}
			idle.Reset(a.c.opts.IdleTTL)
		case <-idle.C:
			if a.c.evict(a) {
				a.c.logger.Debug("actor_evicted", zap.String("session_id", a.id))
				return
			}
			idle.Reset(a.c.opts.IdleTTL)
		}
	}
}

func (a *actor) exec(o op) {
	start := time.Now()
	val, err := a.safely(o)
	outcome := "ok"
	switch {
	case err == nil:
	case domain.KindOf(err) != "":
		outcome = "rejected"
	default:
		outcome = "error"
		a.c.logger.Error("session_op_failed",
			zap.String("session_id", a.id),
			zap.String("op", o.name),
			zap.Error(err),
		)
	}
	metrics.ObserveOp(o.name, outcome, time.Since(start).Seconds())
	o.reply <- result{val: val, err: err}
}

func (a *actor) safely(o op) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.session = nil
			err = fmt.Errorf("session op %s panicked: %v", o.name, r)
		}
	}()
	return o.fn(a)
}

func (a *actor) ctx() context.Context { return a.c.ctx }

func (a *actor) now() time.Time { return a.c.opts.Now() }

// load returns the authoritative session, reading it from the store on first use.
func (a *actor) load() (*domain.GameSession, error) {
	if a.session != nil {
		return a.session, nil
	}
	s, err := a.c.store.LoadSession(a.ctx(), a.id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("session_not_found", "session %s not found", a.id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", a.id, err)
	}
	a.session = s
	return s, nil
}

// working returns a private copy to mutate. It only replaces the owned session through commit.
func (a *actor) working() (*domain.GameSession, error) {
	s, err := a.load()
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// commit persists work and makes it the owned session. A transition into ended goes out as
// one terminal write with the adjustments and the archive record; the store folds the
// adjustments into the rating profiles in that same write.
// On failure the owned session is left as it was.
func (a *actor) commit(name string, work *domain.GameSession, term *game.Termination) error {
	entering := work.Ended() && (a.session == nil || !a.session.Ended())

	var (
		terminal store.Terminal
		write    func(ctx context.Context) error
	)
	if entering {
		var adjs []domain.RatingAdjustment
		if term != nil {
			adjs = term.Adjustments
		}
		terminal = store.NewTerminal(work, adjs)
		write = func(ctx context.Context) error { return a.c.store.CommitTerminal(ctx, terminal) }
	} else {
		write = func(ctx context.Context) error { return a.c.store.SaveSession(ctx, work) }
	}

	if err := a.c.persist(a.id, name, write); err != nil {
		if errors.Is(err, store.ErrConflict) {
			a.session = nil
		}
		return fmt.Errorf("persist session %s: %w", a.id, err)
	}
	a.session = work
	if a.c.opts.Clock != nil {
		a.c.opts.Clock.Sync(work)
	}
	if entering {
		a.ended(terminal)
	}
	return nil
}

func (a *actor) ended(t store.Terminal) {
	s := t.Session
	metrics.SessionEnded(string(s.EndReason))
	if len(t.Adjustments) > 0 {
		metrics.RatingAdjusted(string(s.GameType), len(t.Adjustments))
	}
	fields := []zap.Field{
		zap.String("session_id", s.ID),
		zap.String("result", string(s.Result)),
		zap.String("reason", string(s.EndReason)),
		zap.Int("plies", len(s.Moves)),
		zap.Bool("rated", s.Settings.Rated),
	}
	if len(t.Adjustments) == 2 {
		fields = append(fields,
			zap.Int("white_delta", t.Adjustments[0].Delta),
			zap.Int("black_delta", t.Adjustments[1].Delta),
		)
	}
	a.c.logger.Info("session_end", fields...)
	if a.c.opts.OnEnded != nil {
		a.c.opts.OnEnded(t)
	}
}

func (a *actor) view() arenadto.SessionView {
	return broadcast.ViewOf(a.session, a.now())
}

func (a *actor) publish(kind string, data any) {
	a.c.hub.Publish(a.id, broadcast.Event(kind, data))
}

func (a *actor) publishExcept(connID, kind string, data any) {
	a.c.hub.PublishExcept(a.id, connID, broadcast.Event(kind, data))
}

func (a *actor) send(connID, kind string, data any) {
	a.c.hub.Send(connID, broadcast.Event(kind, data))
}

// finish publishes sessionEnded once an operation has ended the owned session.
func (a *actor) finish() {
	if a.session.Ended() {
		a.publish(arenadto.EventSessionEnded, arenadto.SessionEvent{Session: a.view()})
	}
}
