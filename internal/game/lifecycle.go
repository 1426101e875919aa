package game

import (
	"time"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/rating"
)

// Participant is a player about to take a seat, with the rating snapshot used for the whole game.
type Participant struct {
	Identity    string
	DisplayName string
	Rating      int
	GamesPlayed int
}

// Trigger is the cause of a terminal transition.
type Trigger struct {
	Result domain.Result
	Reason domain.EndReason
}

func Resignation(by domain.Color) Trigger {
	return Trigger{Result: domain.WinFor(by.Opponent()), Reason: domain.ReasonResignation}
}

func DrawAgreement() Trigger {
	return Trigger{Result: domain.ResultDraw, Reason: domain.ReasonDrawAgreement}
}

func Timeout(flagged domain.Color) Trigger {
	return Trigger{Result: domain.WinFor(flagged.Opponent()), Reason: domain.ReasonTimeout}
}

func Abandonment(absent domain.Color) Trigger {
	return Trigger{Result: domain.WinFor(absent.Opponent()), Reason: domain.ReasonAbandoned}
}

// Termination is what entering ended produced. Adjustments is empty for unrated sessions and
// otherwise holds white's record first.
type Termination struct {
	Adjustments []domain.RatingAdjustment
}

// Seat fills the open slot of a waiting session and starts the game. Connectivity is tracked
// separately through SetConnected.
func Seat(s *domain.GameSession, p Participant, now time.Time) (domain.Color, error) {
	if s == nil {
		return "", domain.NotFound("session_not_found", "session not found")
	}
	if s.Status != domain.StatusWaiting {
		return "", domain.IllegalState("session_not_waiting", "session %s is %s", s.ID, s.Status)
	}
	if s.IsPlayer(p.Identity) {
		return "", domain.Permission("own_session", "cannot join your own session as the second player")
	}
	var side domain.Color
	switch {
	case !s.White.Occupied():
		side = domain.White
	case !s.Black.Occupied():
		side = domain.Black
	default:
		return "", domain.IllegalState("session_full", "session %s has no open seat", s.ID)
	}

	slot := s.Slot(side)
	slot.Identity = p.Identity
	slot.DisplayName = p.DisplayName
	slot.RatingBefore = p.Rating
	slot.GamesPlayed = p.GamesPlayed

	start := now
	s.Status = domain.StatusPlaying
	s.StartedAt = &start
	if !s.TimeControl.Untimed() {
		initial := int64(s.TimeControl.InitialSeconds) * 1000
		s.White.RemainingMillis = initial
		s.Black.RemainingMillis = initial
	}
	s.Revision++
	return side, nil
}

// End moves a playing session to ended exactly once. Rated sessions get both adjustments
// computed from the seat snapshots and RatingAfter written on both slots.
func End(s *domain.GameSession, t Trigger, now time.Time) (*Termination, error) {
	if s == nil {
		return nil, domain.NotFound("session_not_found", "session not found")
	}
	if s.Status == domain.StatusEnded {
		return nil, domain.IllegalState("session_ended", "session %s already ended", s.ID)
	}
	if s.Status != domain.StatusPlaying {
		return nil, domain.IllegalState("session_not_playing", "session %s is %s", s.ID, s.Status)
	}
	if t.Result == domain.ResultNone || t.Reason == domain.ReasonNone {
		return nil, domain.Invalid("bad_trigger", "terminal trigger needs a result and a reason")
	}

	end := now
	s.Status = domain.StatusEnded
	s.Result = t.Result
	s.EndReason = t.Reason
	s.EndedAt = &end
	s.DrawOffer = ""
	s.TakebackOffer = ""
	s.Revision++

	term := &Termination{}
	if !s.Settings.Rated {
		return term, nil
	}
	adj := rating.ComputeAdjustment(rating.Input{
		RatingA:      s.White.RatingBefore,
		GamesPlayedA: s.White.GamesPlayed,
		RatingB:      s.Black.RatingBefore,
		GamesPlayedB: s.Black.GamesPlayed,
		Outcome:      domain.OutcomeFor(t.Result, domain.White),
		GameType:     s.GameType,
	})
	whiteAfter, blackAfter := adj.NewA, adj.NewB
	s.White.RatingAfter = &whiteAfter
	s.Black.RatingAfter = &blackAfter

	term.Adjustments = []domain.RatingAdjustment{
		adjustmentFor(s, domain.White, adj.ExpectedA, adj.KA, now),
		adjustmentFor(s, domain.Black, adj.ExpectedB, adj.KB, now),
	}
	return term, nil
}

func adjustmentFor(s *domain.GameSession, side domain.Color, expected float64, k int, now time.Time) domain.RatingAdjustment {
	own, opp := s.Slot(side), s.Slot(side.Opponent())
	return domain.RatingAdjustment{
		Participant:    own.Identity,
		SessionID:      s.ID,
		GameType:       s.GameType,
		RatingBefore:   own.RatingBefore,
		RatingAfter:    *own.RatingAfter,
		Delta:          *own.RatingAfter - own.RatingBefore,
		Opponent:       opp.Identity,
		OpponentRating: opp.RatingBefore,
		Outcome:        domain.OutcomeFor(s.Result, side),
		Expected:       expected,
		KFactor:        k,
		At:             now,
	}
}

// SetConnected records a player's connectivity. Ended sessions are left untouched.
func SetConnected(s *domain.GameSession, side domain.Color, connected bool, now time.Time) bool {
	if s == nil || s.Ended() {
		return false
	}
	slot := s.Slot(side)
	if slot.Connected == connected {
		return false
	}
	slot.Connected = connected
	if connected {
		slot.DisconnectedAt = nil
	} else {
		at := now
		slot.DisconnectedAt = &at
	}
	s.Revision++
	return true
}
