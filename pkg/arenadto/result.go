package arenadto

import "time"

// ResultAdjustment is one side's rating change in a SessionResult.
type ResultAdjustment struct {
	Participant  string `json:"participant"`
	RatingBefore int    `json:"ratingBefore"`
	RatingAfter  int    `json:"ratingAfter"`
	Delta        int    `json:"delta"`
}

// SessionResult is the body POSTed to the result webhook when a session ends.
type SessionResult struct {
	SessionID   string             `json:"sessionId"`
	White       string             `json:"white"`
	Black       string             `json:"black"`
	GameType    string             `json:"gameType"`
	Rated       bool               `json:"rated"`
	Result      string             `json:"result"`
	EndReason   string             `json:"endReason"`
	Moves       int                `json:"moves"`
	PGN         string             `json:"pgn,omitempty"`
	EndedAt     time.Time          `json:"endedAt"`
	Adjustments []ResultAdjustment `json:"adjustments,omitempty"`
}
