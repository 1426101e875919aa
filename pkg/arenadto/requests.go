package arenadto

// Client -> server message types.
const (
	MsgJoin            = "join"
	MsgMove            = "move"
	MsgChat            = "chat"
	MsgResign          = "resign"
	MsgOfferDraw       = "offerDraw"
	MsgRespondDraw     = "respondDraw"
	MsgOfferTakeback   = "offerTakeback"
	MsgRespondTakeback = "respondTakeback"
	MsgLeave           = "leave"
)

// ClientMessage is one inbound websocket frame. Fields irrelevant to Type are ignored.
type ClientMessage struct {
	Type        string `json:"type" validate:"required,oneof=join move chat resign offerDraw respondDraw offerTakeback respondTakeback leave"`
	SessionID   string `json:"sessionId" validate:"omitempty,max=64"`
	As          string `json:"as" validate:"omitempty,oneof=auto player spectator"`
	Origin      string `json:"origin" validate:"omitempty,len=2"`
	Destination string `json:"destination" validate:"omitempty,len=2"`
	Promotion   string `json:"promotion" validate:"omitempty,oneof=q r b n Q R B N"`
	Text        string `json:"text" validate:"max=2000"`
	Accept      *bool  `json:"accept"`
}

type CreateSessionRequest struct {
	Color string `json:"color" validate:"omitempty,oneof=white black random w b"`
	// TimeControl is "minutes+increment"; InitialSeconds/IncrementSeconds win when set.
	TimeControl      string `json:"timeControl" validate:"omitempty,max=16"`
	InitialSeconds   *int   `json:"initialSeconds" validate:"omitempty,min=0,max=86400"`
	IncrementSeconds *int   `json:"incrementSeconds" validate:"omitempty,min=0,max=600"`
	GameType         string `json:"gameType" validate:"omitempty,oneof=bullet blitz rapid classical"`
	Rated            *bool  `json:"rated"`
	AllowSpectators  *bool  `json:"allowSpectators"`
	AllowChat        *bool  `json:"allowChat"`
	AllowDrawOffers  *bool  `json:"allowDrawOffers"`
	AllowTakebacks   *bool  `json:"allowTakebacks"`
}

type JoinRequest struct {
	As string `json:"as" validate:"omitempty,oneof=auto player spectator"`
}

type MoveRequest struct {
	Origin      string `json:"origin" validate:"required,len=2"`
	Destination string `json:"destination" validate:"required,len=2"`
	Promotion   string `json:"promotion" validate:"omitempty,oneof=q r b n Q R B N"`
}

type ChatRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

type RespondRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

type SessionResponse struct {
	Session SessionView `json:"session"`
	Role    string      `json:"role,omitempty"`
}
