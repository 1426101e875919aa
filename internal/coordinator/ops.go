package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Caller is whoever submitted an operation. ConnID is empty for request/response callers,
// which are never registered as connections.
type Caller struct {
	ConnID      string
	Identity    string
	DisplayName string
}

func (c Caller) valid() error {
	if strings.TrimSpace(c.Identity) == "" {
		return domain.Invalid("missing_identity", "caller identity required")
	}
	return nil
}

type JoinAs string

const (
	JoinAuto      JoinAs = "auto"
	JoinPlayer    JoinAs = "player"
	JoinSpectator JoinAs = "spectator"
)

func ParseJoinAs(s string) JoinAs {
	switch JoinAs(strings.ToLower(strings.TrimSpace(s))) {
	case JoinPlayer:
		return JoinPlayer
	case JoinSpectator:
		return JoinSpectator
	default:
		return JoinAuto
	}
}

type JoinResult struct {
	Session *domain.GameSession
	Role    domain.Role
	Color   domain.Color
}

type MoveResult struct {
	Session *domain.GameSession
	Move    domain.Move
	// Flagged means the mover's clock had run out; the move was not applied and the session
	// ended on time.
	Flagged  bool
	Terminal bool
}

// Create stores a new waiting session with the creator seated.
func (c *Coordinator) Create(ctx context.Context, caller Caller, req game.CreateRequest) (*domain.GameSession, error) {
	if err := caller.valid(); err != nil {
		return nil, err
	}
	gt := req.GameType
	if gt == "" {
		gt = req.TimeControl.Class()
	}
	id := c.opts.NewID()
	return run(ctx, c, id, "create", func(a *actor) (*domain.GameSession, error) {
		creator, err := c.loadParticipant(caller, gt)
		if err != nil {
			return nil, err
		}
		req.Creator = creator
		engine := c.pipeline.Engine()
		pos := engine.Initial()
		fen, err := engine.FEN(pos)
		if err != nil {
			return nil, err
		}
		s, err := game.NewSession(id, req, pos, fen, a.now())
		if err != nil {
			return nil, err
		}
		if err := a.commit("create", s, nil); err != nil {
			return nil, err
		}
		return s.Clone(), nil
	})
}

// Join seats, reattaches or adds a spectator, then registers caller's connection to the
// session. A seated identity joining again is a reconnection. Asking for the open seat of
// a session you already sit in is refused.
func (c *Coordinator) Join(ctx context.Context, caller Caller, sessionID string, as JoinAs) (JoinResult, error) {
	if err := caller.valid(); err != nil {
		return JoinResult{}, err
	}
	return run(ctx, c, sessionID, "join", func(a *actor) (JoinResult, error) {
		work, err := a.working()
		if err != nil {
			return JoinResult{}, err
		}
		now := a.now()
		before := work.Revision
		res := JoinResult{Role: domain.RolePlayer}
		announce := false

		switch color, seated := work.ColorOf(caller.Identity); {
		case seated:
			if as == JoinPlayer && work.Status == domain.StatusWaiting {
				return JoinResult{}, domain.Permission("own_session", "cannot join your own session as the second player")
			}
			res.Color = color
		case as != JoinSpectator && work.Status == domain.StatusWaiting:
			p, err := c.loadParticipant(caller, work.GameType)
			if err != nil {
				return JoinResult{}, err
			}
			if res.Color, err = game.Seat(work, p, now); err != nil {
				return JoinResult{}, err
			}
			announce = true
		case as == JoinPlayer:
			_, err := game.Seat(work, game.Participant{Identity: caller.Identity}, now)
			return JoinResult{}, err
		default:
			added, err := game.Spectate(work, caller.Identity, now)
			if err != nil {
				return JoinResult{}, err
			}
			res.Role = domain.RoleSpectator
			announce = added
		}

		if res.Role == domain.RolePlayer && caller.ConnID != "" {
			if game.SetConnected(work, res.Color, true, now) {
				announce = true
			}
		}
		if work.Revision != before {
			if err := a.commit("join", work, nil); err != nil {
				return JoinResult{}, err
			}
		}

		if caller.ConnID != "" {
			if prev, moved := c.reg.Register(caller.ConnID, a.id, caller.Identity, res.Role); moved {
				c.detachMoved(prev)
			}
			a.send(caller.ConnID, arenadto.EventJoined, arenadto.JoinedEvent{
				Session:  a.view(),
				Role:     string(res.Role),
				Identity: caller.Identity,
			})
		}
		if announce {
			a.publishExcept(caller.ConnID, arenadto.EventParticipantJoined, arenadto.ParticipantJoinedEvent{
				Identity: caller.Identity,
				Role:     string(res.Role),
				Session:  a.view(),
			})
		}
		res.Session = a.session.Clone()
		return res, nil
	})
}

// SubmitMove applies one move for caller. A move that arrives after the mover's flag fell ends
// the session on time instead.
func (c *Coordinator) SubmitMove(ctx context.Context, caller Caller, sessionID string, req rules.MoveRequest) (MoveResult, error) {
	if err := caller.valid(); err != nil {
		return MoveResult{}, err
	}
	return run(ctx, c, sessionID, "move", func(a *actor) (MoveResult, error) {
		work, err := a.working()
		if err != nil {
			return MoveResult{}, err
		}
		now := a.now()
		out, err := c.pipeline.SubmitMove(work, caller.Identity, req, now)
		if err != nil {
			return MoveResult{}, err
		}
		var term *game.Termination
		if out.Terminal {
			if term, err = game.End(work, out.Trigger(), now); err != nil {
				return MoveResult{}, err
			}
		}
		if err := a.commit("move", work, term); err != nil {
			return MoveResult{}, err
		}

		if !out.Flagged {
			a.publish(arenadto.EventMoveApplied, arenadto.MoveAppliedEvent{
				Move:       broadcast.MoveViewOf(out.Move),
				Session:    a.view(),
				IsTerminal: out.Terminal,
			})
		}
		a.finish()
		return MoveResult{
			Session:  a.session.Clone(),
			Move:     out.Move,
			Flagged:  out.Flagged,
			Terminal: out.Terminal,
		}, nil
	})
}

func (c *Coordinator) Resign(ctx context.Context, caller Caller, sessionID string) (*domain.GameSession, error) {
	if err := caller.valid(); err != nil {
		return nil, err
	}
	return run(ctx, c, sessionID, "resign", func(a *actor) (*domain.GameSession, error) {
		work, err := a.working()
		if err != nil {
			return nil, err
		}
		side, ok := work.ColorOf(caller.Identity)
		if !ok {
			return nil, domain.Permission("not_a_player", "only players can resign")
		}
		term, err := game.End(work, game.Resignation(side), a.now())
		if err != nil {
			return nil, err
		}
		if err := a.commit("resign", work, term); err != nil {
			return nil, err
		}
		a.finish()
		return a.session.Clone(), nil
	})
}

// OfferDraw records caller's offer. Offering while the opponent's offer is pending agrees to it.
func (c *Coordinator) OfferDraw(ctx context.Context, caller Caller, sessionID string) (*domain.GameSession, error) {
	if err := caller.valid(); err != nil {
		return nil, err
	}
	return run(ctx, c, sessionID, "offer_draw", func(a *actor) (*domain.GameSession, error) {
		work, err := a.working()
		if err != nil {
			return nil, err
		}
		side, res, err := game.OfferDraw(work, caller.Identity)
		if err != nil {
			return nil, err
		}
		var term *game.Termination
		if res == game.OfferAccepted {
			if term, err = game.End(work, game.DrawAgreement(), a.now()); err != nil {
				return nil, err
			}
		}
		if err := a.commit("offer_draw", work, term); err != nil {
			return nil, err
		}
		if res == game.OfferPending {
			a.publish(arenadto.EventDrawOffered, arenadto.OfferEvent{By: string(side)})
		}
		a.finish()
		return a.session.Clone(), nil
	})
}

// RespondDraw answers the opponent's pending offer. Accepting ends the session in a draw.
func (c *Coordinator) RespondDraw(ctx context.Context, caller Caller, sessionID string, accept bool) (*domain.GameSession, error) {
	if err := caller.valid(); err != nil {
		return nil, err
	}
	return run(ctx, c, sessionID, "respond_draw", func(a *actor) (*domain.GameSession, error) {
		work, err := a.working()
		if err != nil {
			return nil, err
		}
		side, err := game.RespondDraw(work, caller.Identity)
		if err != nil {
			return nil, err
		}
		var term *game.Termination
		if accept {
			if term, err = game.End(work, game.DrawAgreement(), a.now()); err != nil {
				return nil, err
			}
		}
		if err := a.commit("respond_draw", work, term); err != nil {
			return nil, err
		}
		if !accept {
			a.publish(arenadto.EventDrawDeclined, arenadto.OfferEvent{By: string(side)})
		}
		a.finish()
		return a.session.Clone(), nil
	})
}

func (c *Coordinator) OfferTakeback(ctx context.Context, caller Caller, sessionID string) (*domain.GameSession, error) {
	if err := caller.valid(); err != nil {
		return nil, err
	}
	return run(ctx, c, sessionID, "offer_takeback", func(a *actor) (*domain.GameSession, error) {
		work, err := a.working()
		if err != nil {
			return nil, err
		}
		side, res, err := game.OfferTakeback(work, caller.Identity)
		if err != nil {
			return nil, err
		}
		if res == game.OfferAccepted {
			if err := a.takeBack(work); err != nil {
				return nil, err
			}
			return a.session.Clone(), nil
		}
		if err := a.commit("offer_takeback", work, nil); err != nil {
			return nil, err
		}
		a.publish(arenadto.EventTakebackOffered, arenadto.OfferEvent{By: string(side)})
		return a.session.Clone(), nil
	})
}

func (c *Coordinator) RespondTakeback(ctx context.Context, caller Caller, sessionID string, accept bool) (*domain.GameSession, error) {
	if err := caller.valid(); err != nil {
		return nil, err
	}
	return run(ctx, c, sessionID, "respond_takeback", func(a *actor) (*domain.GameSession, error) {
		work, err := a.working()
		if err != nil {
			return nil, err
		}
		side, err := game.RespondTakeback(work, caller.Identity)
		if err != nil {
			return nil, err
		}
		if accept {
			if err := a.takeBack(work); err != nil {
				return nil, err
			}
			return a.session.Clone(), nil
		}
		if err := a.commit("respond_takeback", work, nil); err != nil {
			return nil, err
		}
		a.publish(arenadto.EventTakebackDeclined, arenadto.OfferEvent{By: string(side)})
		return a.session.Clone(), nil
	})
}

// takeBack removes the last ply. Remaining times are kept; the side now to move starts
// thinking at the moment of the takeback.
func (a *actor) takeBack(work *domain.GameSession) error {
	if _, err := a.c.pipeline.Takeback(work); err != nil {
		return err
	}
	now := a.now()
	work.LastMoveAt = &now
	if err := a.commit("takeback", work, nil); err != nil {
		return err
	}
	a.publish(arenadto.EventTakebackApplied, arenadto.SessionEvent{Session: a.view()})
	return nil
}

func (c *Coordinator) SendChat(ctx context.Context, caller Caller, sessionID, text string) (domain.ChatMessage, error) {
	if err := caller.valid(); err != nil {
		return domain.ChatMessage{}, err
	}
	return run(ctx, c, sessionID, "chat", func(a *actor) (domain.ChatMessage, error) {
		work, err := a.working()
		if err != nil {
			return domain.ChatMessage{}, err
		}
		msg, err := game.PostChat(work, caller.Identity, text, a.now())
		if err != nil {
			return domain.ChatMessage{}, err
		}
		if err := a.commit("chat", work, nil); err != nil {
			return domain.ChatMessage{}, err
		}
		a.publish(arenadto.EventChatPosted, arenadto.ChatPostedEvent{
			Author:    msg.Author,
			Text:      msg.Text,
			Timestamp: msg.At,
		})
		return msg, nil
	})
}

// Leave detaches caller's connection from the session on purpose.
func (c *Coordinator) Leave(ctx context.Context, caller Caller, sessionID string) error {
	_, err := run(ctx, c, sessionID, "leave", func(a *actor) (struct{}, error) {
		e, ok := c.reg.Lookup(caller.ConnID)
		if !ok || e.SessionID != a.id {
			return struct{}{}, domain.Permission("not_in_session", "connection is not attached to session %s", a.id)
		}
		c.reg.Unregister(e.ConnID)
		return struct{}{}, a.departed(e, departLeft)
	})
	return err
}

// Disconnect handles a lost connection. Besides the session it is registered to, it visits
// every session in joined, the ids the connection asked to join: a join still queued there
// registers the connection before this op runs and is undone by it. Connections that never
// joined a session are ignored.
func (c *Coordinator) Disconnect(ctx context.Context, connID string, joined ...string) error {
	targets := make([]string, 0, len(joined)+1)
	if sessionID, ok := c.reg.SessionFor(connID); ok {
		targets = append(targets, sessionID)
	}
	for _, id := range joined {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(targets, id) {
			targets = append(targets, id)
		}
	}
	var errs []error
	for _, sessionID := range targets {
		_, err := run(ctx, c, sessionID, "disconnect", func(a *actor) (struct{}, error) {
			e, ok := c.reg.Lookup(connID)
			if !ok || e.SessionID != a.id {
				return struct{}{}, nil
			}
			c.reg.Unregister(connID)
			return struct{}{}, a.departed(e, departDisconnected)
		})
		if err != nil && !domain.IsKind(err, domain.KindNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type departure int

const (
	departLeft departure = iota
	departDisconnected
)

// departed updates the session after e stopped being registered. Identities that still have
// another connection with the same role are unaffected.
func (a *actor) departed(e registry.Entry, how departure) error {
	if a.c.reg.Has(a.id, e.Identity, e.Role) {
		return nil
	}
	work, err := a.working()
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil
		}
		return err
	}
	changed := false
	kind := arenadto.EventParticipantLeft
	switch e.Role {
	case domain.RolePlayer:
		side, ok := work.ColorOf(e.Identity)
		if !ok {
			return nil
		}
		changed = game.SetConnected(work, side, false, a.now())
		if how == departDisconnected {
			kind = arenadto.EventParticipantDisconnected
		}
	case domain.RoleSpectator:
		changed = game.Unspectate(work, e.Identity)
	}
	if !changed {
		return nil
	}
	if err := a.commit("depart", work, nil); err != nil {
		return err
	}
	a.publish(kind, arenadto.ParticipantEvent{Identity: e.Identity})
	return nil
}

// Timeout ends the session on time if the side to move has no time left. Early or stale calls
// are no-ops.
func (c *Coordinator) Timeout(ctx context.Context, sessionID string) error {
	_, err := run(ctx, c, sessionID, "timeout", func(a *actor) (struct{}, error) {
		work, err := a.working()
		if err != nil {
			return struct{}{}, err
		}
		now := a.now()
		side := work.SideToMove()
		rem, ok := game.Remaining(work, side, now)
		if !ok || rem > 0 {
			return struct{}{}, nil
		}
		work.Slot(side).RemainingMillis = 0
		term, err := game.End(work, game.Timeout(side), now)
		if err != nil {
			return struct{}{}, err
		}
		if err := a.commit("timeout", work, term); err != nil {
			return struct{}{}, err
		}
		a.finish()
		return struct{}{}, nil
	})
	return err
}

// Abandon awards the game to the opponent of a player who has been disconnected for longer than
// the abandon grace. It is a no-op while both players are within the grace.
func (c *Coordinator) Abandon(ctx context.Context, sessionID string) error {
	_, err := run(ctx, c, sessionID, "abandon", func(a *actor) (struct{}, error) {
		work, err := a.working()
		if err != nil {
			return struct{}{}, err
		}
		if work.Status != domain.StatusPlaying {
			return struct{}{}, nil
		}
		now := a.now()
		absent, ok := longestAbsent(work, now, c.opts.AbandonGrace)
		if !ok {
			return struct{}{}, nil
		}
		term, err := game.End(work, game.Abandonment(absent), now)
		if err != nil {
			return struct{}{}, err
		}
		if err := a.commit("abandon", work, term); err != nil {
			return struct{}{}, err
		}
		a.finish()
		return struct{}{}, nil
	})
	return err
}

func longestAbsent(s *domain.GameSession, now time.Time, grace time.Duration) (domain.Color, bool) {
	var (
		side  domain.Color
		since *time.Time
	)
	for _, c := range []domain.Color{domain.White, domain.Black} {
		slot := s.Slot(c)
		if slot.Connected || slot.DisconnectedAt == nil || now.Sub(*slot.DisconnectedAt) < grace {
			continue
		}
		if since == nil || slot.DisconnectedAt.Before(*since) {
			side, since = c, slot.DisconnectedAt
		}
	}
	return side, since != nil
}

// Resume sweeps the sessions that had not ended when the process last stopped. No connection
// outlives a restart, so seated players not registered here are marked disconnected. The
// sweep arms the flag and abandon timers of every resumed session.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	ids, err := c.store.ActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	resumed := 0
	var errs []error
	for _, id := range ids {
		_, err := run(ctx, c, id, "resume", func(a *actor) (struct{}, error) {
			work, err := a.working()
			if err != nil {
				return struct{}{}, err
			}
			now := a.now()
			before := work.Revision
			for _, side := range []domain.Color{domain.White, domain.Black} {
				slot := work.Slot(side)
				if slot.Identity != "" && !c.reg.Has(a.id, slot.Identity, domain.RolePlayer) {
					game.SetConnected(work, side, false, now)
				}
			}
			if work.Revision != before {
				return struct{}{}, a.commit("resume", work, nil)
			}
			if c.opts.Clock != nil {
				c.opts.Clock.Sync(a.session)
			}
			return struct{}{}, nil
		})
		switch {
		case err == nil:
			resumed++
		case !domain.IsKind(err, domain.KindNotFound):
			errs = append(errs, fmt.Errorf("resume %s: %w", id, err))
		}
	}
	return resumed, errors.Join(errs...)
}

// Snapshot returns a copy of the session as of every operation queued before it.
func (c *Coordinator) Snapshot(ctx context.Context, sessionID string) (*domain.GameSession, error) {
	return run(ctx, c, sessionID, "snapshot", func(a *actor) (*domain.GameSession, error) {
		s, err := a.load()
		if err != nil {
			return nil, err
		}
		return s.Clone(), nil
	})
}
