// Package store holds the durable record contract and its adapters.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/chess-arena/internal/domain"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a write does not advance the stored revision.
	ErrConflict            = errors.New("stale session revision")
	ErrDuplicateAdjustment = errors.New("rating adjustment already recorded")
)

// Terminal is everything that must become visible at once when a session ends.
type Terminal struct {
	Session     *domain.GameSession
	Adjustments []domain.RatingAdjustment
	Record      domain.GameRecord
}

type Store interface {
	// LoadSession returns ErrNotFound for unknown ids.
	LoadSession(ctx context.Context, id string) (*domain.GameSession, error)
	// SaveSession writes a non-terminal mutation. The stored revision must be older.
	SaveSession(ctx context.Context, s *domain.GameSession) error
	// AppendRatingAdjustment is append-only; a second record for the same session and
	// participant fails with ErrDuplicateAdjustment.
	AppendRatingAdjustment(ctx context.Context, adj domain.RatingAdjustment) error
	// CommitTerminal persists the ended session, its adjustments and the archive record
	// atomically. Each adjustment is folded into the participant's stored rating profile
	// inside the same commit.
	CommitTerminal(ctx context.Context, t Terminal) error
	// LoadRating returns a fresh profile for participants without rated games.
	LoadRating(ctx context.Context, participant string, gt domain.GameType) (*domain.PlayerRating, error)
	RatingAdjustments(ctx context.Context, participant string) ([]domain.RatingAdjustment, error)
	// ActiveSessions lists the ids of sessions that have not ended.
	ActiveSessions(ctx context.Context) ([]string, error)
	Close() error
}

// NewTerminal assembles a terminal commit, archiving the session with its PGN.
func NewTerminal(s *domain.GameSession, adjustments []domain.RatingAdjustment) Terminal {
	return Terminal{
		Session:     s,
		Adjustments: adjustments,
		Record:      domain.NewGameRecord(s, BuildPGN(s)),
	}
}

// foldAdjustment applies a committed adjustment to the profile as currently stored.
// The delta is added to the stored rating, so two sessions of one participant ending
// close together both count.
func foldAdjustment(r *domain.PlayerRating, adj domain.RatingAdjustment) {
	r.Record(adj.Outcome, max(domain.RatingFloor, r.Rating+adj.Delta), adj.At)
}

func adjustmentKey(sessionID, participant string) string {
	return strings.TrimSpace(sessionID) + "|" + strings.TrimSpace(participant)
}

func ratingKey(participant string, gt domain.GameType) string {
	return strings.TrimSpace(participant) + "|" + string(gt)
}
