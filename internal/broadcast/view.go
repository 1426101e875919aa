package broadcast

import (
	"time"

	"github.com/samber/lo"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// ViewOf renders the client-facing state of s. Clocks are read at now, so the side to move
// shows its live remaining time.
func ViewOf(s *domain.GameSession, now time.Time) arenadto.SessionView {
	if s == nil {
		return arenadto.SessionView{}
	}
	v := arenadto.SessionView{
		ID:               s.ID,
		Revision:         s.Revision,
		Status:           string(s.Status),
		GameType:         string(s.GameType),
		InitialSeconds:   s.TimeControl.InitialSeconds,
		IncrementSeconds: s.TimeControl.IncrementSeconds,
		Settings: arenadto.SettingsView{
			Rated:           s.Settings.Rated,
			AllowSpectators: s.Settings.AllowSpectators,
			AllowChat:       s.Settings.AllowChat,
			AllowDrawOffers: s.Settings.AllowDrawOffers,
			AllowTakebacks:  s.Settings.AllowTakebacks,
		},
		White:         playerView(s, domain.White, now),
		Black:         playerView(s, domain.Black, now),
		FEN:           s.FEN,
		Moves:         lo.Map(s.Moves, func(m domain.Move, _ int) arenadto.MoveView { return MoveViewOf(m) }),
		Chat:          lo.Map(s.Chat, func(c domain.ChatMessage, _ int) arenadto.ChatView { return ChatViewOf(c) }),
		Spectators:    lo.Map(s.Spectators, func(r domain.SpectatorRef, _ int) string { return r.Identity }),
		DrawOffer:     string(s.DrawOffer),
		TakebackOffer: string(s.TakebackOffer),
		Result:        string(s.Result),
		EndReason:     string(s.EndReason),
		OpeningECO:    s.Opening.ECO,
		OpeningName:   s.Opening.Name,
		CreatedAt:     s.CreatedAt,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
	}
	if !s.Ended() {
		v.SideToMove = string(s.SideToMove())
	}
	return v
}

func playerView(s *domain.GameSession, side domain.Color, now time.Time) arenadto.PlayerView {
	slot := s.Slot(side)
	remaining := slot.RemainingMillis
	if live, ok := game.Remaining(s, side, now); ok {
		remaining = live
	}
	return arenadto.PlayerView{
		Identity:       slot.Identity,
		DisplayName:    slot.DisplayName,
		RatingBefore:   slot.RatingBefore,
		RatingAfter:    slot.RatingAfter,
		RemainingMs:    remaining,
		Connected:      slot.Connected,
		DisconnectedAt: slot.DisconnectedAt,
	}
}

func MoveViewOf(m domain.Move) arenadto.MoveView {
	return arenadto.MoveView{
		Ply:       m.Ply,
		From:      m.From,
		To:        m.To,
		Piece:     m.Piece,
		Color:     string(m.Color),
		SAN:       m.SAN,
		UCI:       m.UCI,
		Capture:   m.Flags.Capture,
		Castle:    m.Flags.Castle,
		EnPassant: m.Flags.EnPassant,
		Check:     m.Flags.Check,
		Promotion: m.Promotion,
		At:        m.At,
	}
}

func ChatViewOf(c domain.ChatMessage) arenadto.ChatView {
	return arenadto.ChatView{Author: c.Author, Text: c.Text, Timestamp: c.At}
}
