package domain

import "time"

const (
	DefaultRating = 1500
	RatingFloor   = 100
)

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeDraw Outcome = "draw"
	OutcomeLoss Outcome = "loss"
)

// Score is the actual score for the outcome from the participant's perspective.
func (o Outcome) Score() float64 {
	switch o {
	case OutcomeWin:
		return 1
	case OutcomeDraw:
		return 0.5
	default:
		return 0
	}
}

// Invert returns the outcome from the opponent's perspective.
func (o Outcome) Invert() Outcome {
	switch o {
	case OutcomeWin:
		return OutcomeLoss
	case OutcomeLoss:
		return OutcomeWin
	default:
		return OutcomeDraw
	}
}

// OutcomeFor maps a session result to the outcome of side c.
func OutcomeFor(r Result, c Color) Outcome {
	switch r {
	case ResultDraw:
		return OutcomeDraw
	case WinFor(c):
		return OutcomeWin
	default:
		return OutcomeLoss
	}
}

// RatingAdjustment is written once per participant per ended rated session.
type RatingAdjustment struct {
	Participant    string    `json:"participant"`
	SessionID      string    `json:"session_id"`
	GameType       GameType  `json:"game_type"`
	RatingBefore   int       `json:"rating_before"`
	RatingAfter    int       `json:"rating_after"`
	Delta          int       `json:"delta"`
	Opponent       string    `json:"opponent"`
	OpponentRating int       `json:"opponent_rating"`
	Outcome        Outcome   `json:"outcome"`
	Expected       float64   `json:"expected"`
	KFactor        int       `json:"k_factor"`
	At             time.Time `json:"at"`
}

// PlayerRating is the per game type rating profile of a participant.
type PlayerRating struct {
	Participant string    `json:"participant"`
	GameType    GameType  `json:"game_type"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	Streak      int       `json:"streak"`
	StreakType  Outcome   `json:"streak_type,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record folds a finished rated game into the profile.
func (p *PlayerRating) Record(o Outcome, newRating int, at time.Time) {
	p.Rating = newRating
	p.GamesPlayed++
	switch o {
	case OutcomeWin:
		p.Wins++
	case OutcomeLoss:
		p.Losses++
	default:
		p.Draws++
	}
	if p.StreakType == o {
		p.Streak++
	} else {
		p.Streak = 1
		p.StreakType = o
	}
	p.UpdatedAt = at
}

// NewPlayerRating is the profile of a participant who has not finished a rated game yet.
func NewPlayerRating(participant string, gt GameType) *PlayerRating {
	return &PlayerRating{Participant: participant, GameType: gt, Rating: DefaultRating}
}
