package arenadto

import "time"

type PlayerView struct {
	Identity       string     `json:"identity,omitempty"`
	DisplayName    string     `json:"displayName,omitempty"`
	RatingBefore   int        `json:"ratingBefore"`
	RatingAfter    *int       `json:"ratingAfter,omitempty"`
	RemainingMs    int64      `json:"remainingMs"`
	Connected      bool       `json:"connected"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

type MoveView struct {
	Ply       int       `json:"ply"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	Color     string    `json:"color"`
	SAN       string    `json:"san"`
	UCI       string    `json:"uci"`
	Capture   bool      `json:"capture,omitempty"`
	Castle    bool      `json:"castle,omitempty"`
	EnPassant bool      `json:"enPassant,omitempty"`
	Check     bool      `json:"check,omitempty"`
	Promotion string    `json:"promotion,omitempty"`
	At        time.Time `json:"at"`
}

type ChatView struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type SettingsView struct {
	Rated           bool `json:"rated"`
	AllowSpectators bool `json:"allowSpectators"`
	AllowChat       bool `json:"allowChat"`
	AllowDrawOffers bool `json:"allowDrawOffers"`
	AllowTakebacks  bool `json:"allowTakebacks"`
}

// SessionView is the canonical session state sent to clients.
type SessionView struct {
	ID               string       `json:"id"`
	Revision         int64        `json:"revision"`
	Status           string       `json:"status"`
	GameType         string       `json:"gameType"`
	InitialSeconds   int          `json:"initialSeconds"`
	IncrementSeconds int          `json:"incrementSeconds"`
	Settings         SettingsView `json:"settings"`
	White            PlayerView   `json:"white"`
	Black            PlayerView   `json:"black"`
	SideToMove       string       `json:"sideToMove"`
	FEN              string       `json:"fen"`
	Moves            []MoveView   `json:"moves"`
	Chat             []ChatView   `json:"chat"`
	Spectators       []string     `json:"spectators"`
	DrawOffer        string       `json:"drawOffer,omitempty"`
	TakebackOffer    string       `json:"takebackOffer,omitempty"`
	Result           string       `json:"result,omitempty"`
	EndReason        string       `json:"endReason,omitempty"`
	OpeningECO       string       `json:"openingEco,omitempty"`
	OpeningName      string       `json:"openingName,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	EndedAt          *time.Time   `json:"endedAt,omitempty"`
}
