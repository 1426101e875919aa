package game

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/domain"
)

type ColorChoice string

const (
	ColorWhite  ColorChoice = "white"
	ColorBlack  ColorChoice = "black"
	ColorRandom ColorChoice = "random"
)

func ParseColorChoice(s string) ColorChoice {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "white", "w":
		return ColorWhite
	case "black", "b":
		return ColorBlack
	default:
		return ColorRandom
	}
}

// Resolve picks the creator's side; random uses crypto/rand.
func (c ColorChoice) Resolve() domain.Color {
	switch c {
	case ColorWhite:
		return domain.White
	case ColorBlack:
		return domain.Black
	}
	if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 0 {
		return domain.Black
	}
	return domain.White
}

// ParseTimeControl accepts "minutes+increment" ("5+3"), a bare minute count ("10"), or
// "-"/"" for an untimed game.
func ParseTimeControl(s string) (domain.TimeControl, error) {
	v := strings.TrimSpace(s)
	if v == "" || v == "-" {
		return domain.TimeControl{}, nil
	}
	minPart, incPart, hasInc := strings.Cut(v, "+")
	minutes, err := strconv.ParseFloat(strings.TrimSpace(minPart), 64)
	if err != nil || minutes < 0 {
		return domain.TimeControl{}, domain.Invalid("bad_time_control", "invalid time control %q", s)
	}
	inc := 0
	if hasInc {
		inc, err = strconv.Atoi(strings.TrimSpace(incPart))
		if err != nil || inc < 0 {
			return domain.TimeControl{}, domain.Invalid("bad_time_control", "invalid time control %q", s)
		}
	}
	return domain.TimeControl{InitialSeconds: int(minutes * 60), IncrementSeconds: inc}, nil
}

type CreateRequest struct {
	Creator     Participant
	Color       ColorChoice
	TimeControl domain.TimeControl
	// GameType is derived from TimeControl when empty.
	GameType domain.GameType
	Settings domain.Settings
}

// NewSession builds a waiting session with the creator seated.
func NewSession(id string, req CreateRequest, initialPosition, fen string, now time.Time) (*domain.GameSession, error) {
	if strings.TrimSpace(req.Creator.Identity) == "" {
		return nil, domain.Invalid("missing_identity", "creator identity required")
	}
	if req.TimeControl.InitialSeconds < 0 || req.TimeControl.IncrementSeconds < 0 {
		return nil, domain.Invalid("bad_time_control", "time control must not be negative")
	}
	gt := req.GameType
	if gt == "" {
		gt = req.TimeControl.Class()
	} else if _, ok := domain.ParseGameType(string(gt)); !ok {
		return nil, domain.Invalid("bad_game_type", "unknown game type %q", gt)
	}

	s := &domain.GameSession{
		SchemaVersion: domain.SchemaVersion,
		Revision:      1,
		ID:            id,
		CreatedBy:     req.Creator.Identity,
		GameType:      gt,
		TimeControl:   req.TimeControl,
		Settings:      req.Settings,
		Status:        domain.StatusWaiting,
		Position:      initialPosition,
		FEN:           fen,
		Moves:         []domain.Move{},
		Chat:          []domain.ChatMessage{},
		Spectators:    []domain.SpectatorRef{},
		CreatedAt:     now,
	}
	slot := s.Slot(req.Color.Resolve())
	slot.Identity = req.Creator.Identity
	slot.DisplayName = strings.TrimSpace(req.Creator.DisplayName)
	slot.RatingBefore = req.Creator.Rating
	slot.GamesPlayed = req.Creator.GamesPlayed
	return s, nil
}
