package domain

import "time"

// GameRecord is the archived summary of an ended session.
type GameRecord struct {
	SessionID string
	White     string
	Black     string
	GameType  GameType
	Rated     bool
	Result    Result
	EndReason EndReason
	MovesUCI  []string
	MovesSAN  []string
	PGN       string
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}

// NewGameRecord derives the archive summary from an ended session. pgn may be empty.
func NewGameRecord(s *GameSession, pgn string) GameRecord {
	r := GameRecord{
		SessionID: s.ID,
		White:     s.White.Identity,
		Black:     s.Black.Identity,
		GameType:  s.GameType,
		Rated:     s.Settings.Rated,
		Result:    s.Result,
		EndReason: s.EndReason,
		PGN:       pgn,
	}
	for _, m := range s.Moves {
		r.MovesUCI = append(r.MovesUCI, m.UCI)
		r.MovesSAN = append(r.MovesSAN, m.SAN)
	}
	if s.StartedAt != nil {
		r.StartedAt = *s.StartedAt
	}
	if s.EndedAt != nil {
		r.EndedAt = *s.EndedAt
		if !r.StartedAt.IsZero() {
			r.Duration = r.EndedAt.Sub(r.StartedAt)
		}
	}
	return r
}
