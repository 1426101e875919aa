package arenadto

import "time"

// Server -> client event types.
const (
	EventJoined                  = "joined"
	EventMoveApplied             = "moveApplied"
	EventMoveRejected            = "moveRejected"
	EventChatPosted              = "chatPosted"
	EventDrawOffered             = "drawOffered"
	EventDrawDeclined            = "drawDeclined"
	EventTakebackOffered         = "takebackOffered"
	EventTakebackDeclined        = "takebackDeclined"
	EventTakebackApplied         = "takebackApplied"
	EventSessionEnded            = "sessionEnded"
	EventParticipantLeft         = "participantLeft"
	EventParticipantDisconnected = "participantDisconnected"
	EventParticipantJoined       = "participantJoined"
	EventError                   = "error"
)

// ServerEvent is the envelope of every server -> client frame.
type ServerEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type JoinedEvent struct {
	Session  SessionView `json:"session"`
	Role     string      `json:"role"`
	Identity string      `json:"identity"`
}

type ParticipantJoinedEvent struct {
	Identity string      `json:"identity"`
	Role     string      `json:"role"`
	Session  SessionView `json:"session"`
}

type MoveAppliedEvent struct {
	Move       MoveView    `json:"move"`
	Session    SessionView `json:"session"`
	IsTerminal bool        `json:"isTerminal"`
}

type MoveRejectedEvent struct {
	Reason     string   `json:"reason"`
	Message    string   `json:"message"`
	LegalMoves []string `json:"legalMoves,omitempty"`
}

type ChatPostedEvent struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// OfferEvent covers drawOffered, drawDeclined, takebackOffered and takebackDeclined.
type OfferEvent struct {
	By string `json:"by"`
}

type SessionEvent struct {
	Session SessionView `json:"session"`
}

type ParticipantEvent struct {
	Identity string `json:"identity"`
}
