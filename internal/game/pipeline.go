// Package game holds the per-session rules of play: the move pipeline, the lifecycle state
// machine and the offer/chat helpers. Every function mutates the session it is handed and
// assumes the caller owns it exclusively.
package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/rules"
)

// MoveOutcome describes an accepted move, or a flag fall when Flagged is set (no move appended).
type MoveOutcome struct {
	Move     domain.Move
	Check    bool
	Terminal bool
	Result   domain.Result
	Reason   domain.EndReason
	Flagged  bool
}

// Trigger converts a terminal outcome into a lifecycle trigger.
func (o MoveOutcome) Trigger() Trigger { return Trigger{Result: o.Result, Reason: o.Reason} }

type Pipeline struct {
	engine rules.Engine
}

func NewPipeline(engine rules.Engine) *Pipeline {
	return &Pipeline{engine: engine}
}

func (p *Pipeline) Engine() rules.Engine { return p.engine }

// SubmitMove validates and applies one move. It never changes status; a terminal outcome must be
// handed to End by the caller.
func (p *Pipeline) SubmitMove(s *domain.GameSession, actor string, req rules.MoveRequest, now time.Time) (MoveOutcome, error) {
	if s == nil {
		return MoveOutcome{}, domain.NotFound("session_not_found", "session not found")
	}
	if s.Status != domain.StatusPlaying {
		return MoveOutcome{}, domain.IllegalState("session_not_playing", "session %s is %s", s.ID, s.Status)
	}
	toMove, err := p.engine.SideToMove(s.Position)
	if err != nil {
		return MoveOutcome{}, fmt.Errorf("side to move: %w", err)
	}
	side, ok := s.ColorOf(actor)
	if !ok || side != toMove {
		return MoveOutcome{}, domain.NotYourTurn("it is %s's turn", toMove)
	}

	if flagged, remaining := p.flagFell(s, side, now); flagged {
		s.Slot(side).RemainingMillis = remaining
		s.Revision++
		t := Timeout(side)
		return MoveOutcome{Terminal: true, Result: t.Result, Reason: t.Reason, Flagged: true}, nil
	}

	applied, err := p.engine.Apply(s.Position, req)
	if errors.Is(err, rules.ErrIllegalMove) {
		legal, lerr := p.engine.LegalMoves(s.Position)
		if lerr != nil {
			return MoveOutcome{}, fmt.Errorf("legal moves: %w", lerr)
		}
		return MoveOutcome{}, domain.IllegalMove(legal, "illegal move %s%s%s", req.Origin, req.Destination, req.Promotion)
	}
	if err != nil {
		return MoveOutcome{}, fmt.Errorf("apply move: %w", err)
	}

	p.chargeClock(s, side, now)
	mv := applied.Move
	mv.Ply = len(s.Moves) + 1
	mv.At = now
	s.Moves = append(s.Moves, mv)
	s.Position = applied.Position
	s.FEN = applied.FEN
	s.DrawOffer = ""
	s.TakebackOffer = ""
	at := now
	s.LastMoveAt = &at
	if op := p.engine.Opening(s.Position); op.ECO != "" {
		s.Opening = op
	}
	s.Revision++

	return MoveOutcome{
		Move:     mv,
		Check:    mv.Flags.Check,
		Terminal: applied.Status.Terminal,
		Result:   applied.Status.Result,
		Reason:   applied.Status.Reason,
	}, nil
}

// Takeback removes the last ply and rebuilds the position from the remaining moves.
func (p *Pipeline) Takeback(s *domain.GameSession) (domain.Move, error) {
	if len(s.Moves) == 0 {
		return domain.Move{}, domain.IllegalState("no_moves", "nothing to take back")
	}
	pos, err := p.engine.Undo(s.Position)
	if err != nil {
		return domain.Move{}, fmt.Errorf("undo: %w", err)
	}
	fen, err := p.engine.FEN(pos)
	if err != nil {
		return domain.Move{}, fmt.Errorf("fen: %w", err)
	}
	last := s.Moves[len(s.Moves)-1]
	s.Moves = s.Moves[:len(s.Moves)-1]
	s.Position = pos
	s.FEN = fen
	s.Opening = p.engine.Opening(pos)
	s.TakebackOffer = ""
	s.DrawOffer = ""
	s.Revision++
	return last, nil
}

// clockReference is the instant the side to move started thinking.
func clockReference(s *domain.GameSession) *time.Time {
	if s.LastMoveAt != nil {
		return s.LastMoveAt
	}
	return s.StartedAt
}

func (p *Pipeline) flagFell(s *domain.GameSession, side domain.Color, now time.Time) (bool, int64) {
	rem, ok := Remaining(s, side, now)
	if !ok || rem > 0 {
		return false, 0
	}
	return true, 0
}

func (p *Pipeline) chargeClock(s *domain.GameSession, side domain.Color, now time.Time) {
	rem, ok := Remaining(s, side, now)
	if !ok {
		return
	}
	s.Slot(side).RemainingMillis = rem + int64(s.TimeControl.IncrementSeconds)*1000
}

// Remaining returns side's clock at now. ok is false for untimed sessions or when the clock of
// side is not running.
func Remaining(s *domain.GameSession, side domain.Color, now time.Time) (int64, bool) {
	if s == nil || s.TimeControl.Untimed() || s.Status != domain.StatusPlaying {
		return 0, false
	}
	slot := s.Slot(side)
	if side != s.SideToMove() {
		return slot.RemainingMillis, true
	}
	ref := clockReference(s)
	if ref == nil {
		return slot.RemainingMillis, true
	}
	elapsed := now.Sub(*ref).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	rem := slot.RemainingMillis - elapsed
	if rem < 0 {
		rem = 0
	}
	return rem, true
}
