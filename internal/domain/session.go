package domain

import (
	"slices"
	"time"
)

// SchemaVersion is bumped whenever the persisted GameSession layout changes.
const SchemaVersion = 1

// Color identifies chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// Status represents a session lifecycle state.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

type Result string

const (
	ResultNone     Result = ""
	ResultWhiteWin Result = "white_win"
	ResultBlackWin Result = "black_win"
	ResultDraw     Result = "draw"
)

// WinFor returns the result in which c wins.
func WinFor(c Color) Result {
	if c == White {
		return ResultWhiteWin
	}
	return ResultBlackWin
}

type EndReason string

const (
	ReasonNone                 EndReason = ""
	ReasonCheckmate            EndReason = "checkmate"
	ReasonStalemate            EndReason = "stalemate"
	ReasonInsufficientMaterial EndReason = "insufficient_material"
	ReasonThreefoldRepetition  EndReason = "threefold_repetition"
	ReasonFiftyMoveRule        EndReason = "fifty_move_rule"
	ReasonResignation          EndReason = "resignation"
	ReasonDrawAgreement        EndReason = "draw_agreement"
	ReasonTimeout              EndReason = "timeout"
	ReasonAbandoned            EndReason = "abandoned"
)

type GameType string

const (
	GameBullet    GameType = "bullet"
	GameBlitz     GameType = "blitz"
	GameRapid     GameType = "rapid"
	GameClassical GameType = "classical"
)

func ParseGameType(s string) (GameType, bool) {
	switch GameType(s) {
	case GameBullet, GameBlitz, GameRapid, GameClassical:
		return GameType(s), true
	}
	return "", false
}

type TimeControl struct {
	InitialSeconds   int `json:"initial_seconds"`
	IncrementSeconds int `json:"increment_seconds"`
}

// Untimed reports whether clocks are disabled.
func (tc TimeControl) Untimed() bool { return tc.InitialSeconds <= 0 }

// Class derives the game type from the estimated game duration (initial + 40 * increment).
func (tc TimeControl) Class() GameType {
	if tc.Untimed() {
		return GameClassical
	}
	est := tc.InitialSeconds + 40*tc.IncrementSeconds
	switch {
	case est < 180:
		return GameBullet
	case est < 480:
		return GameBlitz
	case est < 1500:
		return GameRapid
	default:
		return GameClassical
	}
}

type Settings struct {
	Rated           bool `json:"rated"`
	AllowSpectators bool `json:"allow_spectators"`
	AllowChat       bool `json:"allow_chat"`
	AllowDrawOffers bool `json:"allow_draw_offers"`
	AllowTakebacks  bool `json:"allow_takebacks"`
}

// DefaultSettings is what a session gets when the creator does not say otherwise.
func DefaultSettings() Settings {
	return Settings{Rated: true, AllowSpectators: true, AllowChat: true, AllowDrawOffers: true}
}

type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// PlayerSlot is one side of a session. Mutated only by the owning session's coordinator.
type PlayerSlot struct {
	Identity        string     `json:"identity,omitempty"`
	DisplayName     string     `json:"display_name,omitempty"`
	RatingBefore    int        `json:"rating_before"`
	GamesPlayed     int        `json:"games_played"`
	RatingAfter     *int       `json:"rating_after,omitempty"`
	RemainingMillis int64      `json:"remaining_ms"`
	Connected       bool       `json:"connected"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
}

func (p PlayerSlot) Occupied() bool { return p.Identity != "" }

type MoveFlags struct {
	Capture   bool `json:"capture,omitempty"`
	Castle    bool `json:"castle,omitempty"`
	EnPassant bool `json:"en_passant,omitempty"`
	Promotion bool `json:"promotion,omitempty"`
	Check     bool `json:"check,omitempty"`
}

// Move is immutable once appended to a session.
type Move struct {
	Ply       int       `json:"ply"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	Color     Color     `json:"color"`
	SAN       string    `json:"san"`
	UCI       string    `json:"uci"`
	Flags     MoveFlags `json:"flags"`
	Promotion string    `json:"promotion,omitempty"`
	At        time.Time `json:"at"`
}

type ChatMessage struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

type SpectatorRef struct {
	Identity string    `json:"identity"`
	JoinedAt time.Time `json:"joined_at"`
}

type Opening struct {
	ECO  string `json:"eco,omitempty"`
	Name string `json:"name,omitempty"`
}

// GameSession is the authoritative state of one two-player game.
type GameSession struct {
	SchemaVersion int    `json:"schema_version"`
	Revision      int64  `json:"revision"`
	ID            string `json:"id"`
	CreatedBy     string `json:"created_by"`

	White PlayerSlot `json:"white"`
	Black PlayerSlot `json:"black"`

	GameType    GameType    `json:"game_type"`
	TimeControl TimeControl `json:"time_control"`
	Settings    Settings    `json:"settings"`

	Status    Status    `json:"status"`
	Result    Result    `json:"result,omitempty"`
	EndReason EndReason `json:"end_reason,omitempty"`

	Position string  `json:"position"`
	FEN      string  `json:"fen"`
	Moves    []Move  `json:"moves"`
	Opening  Opening `json:"opening,omitempty"`

	Chat       []ChatMessage  `json:"chat"`
	Spectators []SpectatorRef `json:"spectators"`

	DrawOffer     Color `json:"draw_offer,omitempty"`
	TakebackOffer Color `json:"takeback_offer,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	LastMoveAt *time.Time `json:"last_move_at,omitempty"`
}

// Slot returns a pointer to the slot of the given color.
func (s *GameSession) Slot(c Color) *PlayerSlot {
	if c == White {
		return &s.White
	}
	return &s.Black
}

// ColorOf returns the side occupied by identity, if any.
func (s *GameSession) ColorOf(identity string) (Color, bool) {
	if identity == "" {
		return "", false
	}
	switch identity {
	case s.White.Identity:
		return White, true
	case s.Black.Identity:
		return Black, true
	}
	return "", false
}

func (s *GameSession) IsPlayer(identity string) bool {
	_, ok := s.ColorOf(identity)
	return ok
}

func (s *GameSession) IsSpectator(identity string) bool {
	for _, sp := range s.Spectators {
		if sp.Identity == identity {
			return true
		}
	}
	return false
}

func (s *GameSession) AddSpectator(identity string, at time.Time) {
	if s.IsSpectator(identity) {
		return
	}
	s.Spectators = append(s.Spectators, SpectatorRef{Identity: identity, JoinedAt: at})
}

func (s *GameSession) RemoveSpectator(identity string) bool {
	for i, sp := range s.Spectators {
		if sp.Identity == identity {
			s.Spectators = append(s.Spectators[:i], s.Spectators[i+1:]...)
			return true
		}
	}
	return false
}

// SideToMove follows ply parity; the rules engine remains the authority for legality.
func (s *GameSession) SideToMove() Color {
	if len(s.Moves)%2 == 0 {
		return White
	}
	return Black
}

func (s *GameSession) Ended() bool { return s.Status == StatusEnded }

// Clone returns a deep copy so a failed operation can be discarded without touching the original.
func (s *GameSession) Clone() *GameSession {
	if s == nil {
		return nil
	}
	c := *s
	c.White = s.White.clone()
	c.Black = s.Black.clone()
	c.Moves = slices.Clone(s.Moves)
	c.Chat = slices.Clone(s.Chat)
	c.Spectators = slices.Clone(s.Spectators)
	c.StartedAt = cloneTime(s.StartedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	c.LastMoveAt = cloneTime(s.LastMoveAt)
	return &c
}

func (p PlayerSlot) clone() PlayerSlot {
	c := p
	if p.RatingAfter != nil {
		v := *p.RatingAfter
		c.RatingAfter = &v
	}
	c.DisconnectedAt = cloneTime(p.DisconnectedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
