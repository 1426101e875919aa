package game

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/park285/chess-arena/internal/domain"
)

// MaxChatRunes bounds a single chat message.
const MaxChatRunes = 500

// OfferResult tells the caller what an offer turned into.
type OfferResult int

const (
	OfferPending OfferResult = iota
	// OfferAccepted means the opponent had already offered the same thing.
	OfferAccepted
)

func playingPlayer(s *domain.GameSession, actor string) (domain.Color, error) {
	if s == nil {
		return "", domain.NotFound("session_not_found", "session not found")
	}
	side, ok := s.ColorOf(actor)
	if !ok {
		return "", domain.Permission("not_a_player", "only players can do that")
	}
	if s.Status != domain.StatusPlaying {
		return "", domain.IllegalState("session_not_playing", "session %s is %s", s.ID, s.Status)
	}
	return side, nil
}

// OfferDraw records a pending draw offer. A crossing offer counts as acceptance and the caller
// must end the session with DrawAgreement.
func OfferDraw(s *domain.GameSession, actor string) (domain.Color, OfferResult, error) {
	if s != nil && !s.Settings.AllowDrawOffers {
		return "", 0, domain.FeatureDisabled("draw_offers")
	}
	side, err := playingPlayer(s, actor)
	if err != nil {
		return "", 0, err
	}
	switch s.DrawOffer {
	case side:
		return "", 0, domain.IllegalState("draw_already_offered", "draw already offered")
	case side.Opponent():
		s.DrawOffer = ""
		s.Revision++
		return side, OfferAccepted, nil
	}
	s.DrawOffer = side
	s.Revision++
	return side, OfferPending, nil
}

// RespondDraw answers the opponent's pending offer and clears it.
func RespondDraw(s *domain.GameSession, actor string) (domain.Color, error) {
	side, err := playingPlayer(s, actor)
	if err != nil {
		return "", err
	}
	if s.DrawOffer != side.Opponent() {
		return "", domain.IllegalState("no_draw_offer", "there is no draw offer to answer")
	}
	s.DrawOffer = ""
	s.Revision++
	return side, nil
}

func OfferTakeback(s *domain.GameSession, actor string) (domain.Color, OfferResult, error) {
	if s != nil && !s.Settings.AllowTakebacks {
		return "", 0, domain.FeatureDisabled("takebacks")
	}
	side, err := playingPlayer(s, actor)
	if err != nil {
		return "", 0, err
	}
	if len(s.Moves) == 0 {
		return "", 0, domain.IllegalState("no_moves", "nothing to take back")
	}
	switch s.TakebackOffer {
	case side:
		return "", 0, domain.IllegalState("takeback_already_offered", "takeback already requested")
	case side.Opponent():
		s.TakebackOffer = ""
		return side, OfferAccepted, nil
	}
	s.TakebackOffer = side
	s.Revision++
	return side, OfferPending, nil
}

func RespondTakeback(s *domain.GameSession, actor string) (domain.Color, error) {
	side, err := playingPlayer(s, actor)
	if err != nil {
		return "", err
	}
	if s.TakebackOffer != side.Opponent() {
		return "", domain.IllegalState("no_takeback_offer", "there is no takeback request to answer")
	}
	s.TakebackOffer = ""
	s.Revision++
	return side, nil
}

// PostChat appends a chat message from a player or a spectator.
func PostChat(s *domain.GameSession, actor, text string, now time.Time) (domain.ChatMessage, error) {
	if s == nil {
		return domain.ChatMessage{}, domain.NotFound("session_not_found", "session not found")
	}
	if !s.Settings.AllowChat {
		return domain.ChatMessage{}, domain.FeatureDisabled("chat")
	}
	if !s.IsPlayer(actor) && !s.IsSpectator(actor) {
		return domain.ChatMessage{}, domain.Permission("not_in_session", "join the session before chatting")
	}
	if s.Ended() {
		return domain.ChatMessage{}, domain.IllegalState("session_ended", "session %s already ended", s.ID)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.Invalid("empty_chat", "chat message is empty")
	}
	if utf8.RuneCountInString(text) > MaxChatRunes {
		return domain.ChatMessage{}, domain.Invalid("chat_too_long", "chat message exceeds %d characters", MaxChatRunes)
	}
	msg := domain.ChatMessage{Author: actor, Text: text, At: now}
	s.Chat = append(s.Chat, msg)
	s.Revision++
	return msg, nil
}

// Spectate adds identity to the spectator set. Ended sessions can be watched but are not mutated.
func Spectate(s *domain.GameSession, identity string, now time.Time) (bool, error) {
	if s == nil {
		return false, domain.NotFound("session_not_found", "session not found")
	}
	if !s.Settings.AllowSpectators {
		return false, domain.FeatureDisabled("spectators")
	}
	if s.Ended() || s.IsSpectator(identity) {
		return false, nil
	}
	s.AddSpectator(identity, now)
	s.Revision++
	return true, nil
}

func Unspectate(s *domain.GameSession, identity string) bool {
	if s == nil || s.Ended() {
		return false
	}
	if s.RemoveSpectator(identity) {
		s.Revision++
		return true
	}
	return false
}
