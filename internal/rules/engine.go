// Package rules wraps the position-legality engine. Positions are opaque strings to the rest of
// the system; only this package knows how they are encoded.
package rules

import (
	"errors"

	"github.com/park285/chess-arena/internal/domain"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadPosition = errors.New("malformed position")
)

// MoveRequest is a move as submitted by a client.
type MoveRequest struct {
	Origin      string
	Destination string
	Promotion   string
}

// Classification describes whether a position ends the game.
type Classification struct {
	Terminal bool
	Result   domain.Result
	Reason   domain.EndReason
}

// Applied is the result of applying a legal move. Move has every field set except Ply and At.
type Applied struct {
	Position string
	FEN      string
	Move     domain.Move
	Status   Classification
}

type Engine interface {
	Initial() string
	SideToMove(pos string) (domain.Color, error)
	LegalMoves(pos string) ([]string, error)
	// Apply returns ErrIllegalMove without side effects when mv is not legal in pos.
	Apply(pos string, mv MoveRequest) (Applied, error)
	Classify(pos string) (Classification, error)
	FEN(pos string) (string, error)
	// Undo drops the last ply.
	Undo(pos string) (string, error)
	Opening(pos string) domain.Opening
}
