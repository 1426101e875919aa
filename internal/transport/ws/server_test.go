package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/coordinator"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/arenadto"
)

type env struct {
	coord    *coordinator.Coordinator
	verifier *auth.Verifier
	srv      *Server
	url      string
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	reg := registry.New()
	hub := broadcast.NewHub(reg, nil)
	coord := coordinator.New(store.NewMemory(), game.NewPipeline(rules.NewChess()), reg, hub, coordinator.Options{
		PersistBackoff: time.Millisecond,
	})
	verifier := auth.NewVerifier("test-secret")
	srv := NewServer(coord, hub, reg, verifier, msgcat.MustDefault(), opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		coord.Close()
	})
	return &env{coord: coord, verifier: verifier, srv: srv, url: "ws" + strings.TrimPrefix(ts.URL, "http")}
}

func (e *env) dial(t *testing.T, who string) *websocket.Conn {
	t.Helper()
	tok, err := e.verifier.Issue(who, strings.ToUpper(who[:1])+who[1:], time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, e.url+"?token="+tok, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// expect reads frames until one of kind arrives.
func expect(t *testing.T, conn *websocket.Conn, kind string) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var f frame
		require.NoError(t, wsjson.Read(ctx, conn, &f), "waiting for %s", kind)
		if f.Type == kind {
			return f.Data
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg arenadto.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

func TestUpgradeWithoutTokenIsRejected(t *testing.T) {
	e := newEnv(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, e.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinMoveAndRejectOverWebsocket(t *testing.T) {
	e := newEnv(t, Options{})
	s, err := e.coord.Create(context.Background(), coordinator.Caller{Identity: "alice"}, game.CreateRequest{
		Color:    game.ColorWhite,
		Settings: domain.DefaultSettings(),
	})
	require.NoError(t, err)

	a := e.dial(t, "alice")
	send(t, a, arenadto.ClientMessage{Type: arenadto.MsgJoin, SessionID: s.ID})
	var joined arenadto.JoinedEvent
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventJoined), &joined))
	require.Equal(t, "player", joined.Role)
	require.Equal(t, "alice", joined.Identity)

	b := e.dial(t, "bob")
	send(t, b, arenadto.ClientMessage{Type: arenadto.MsgJoin, SessionID: s.ID})
	expect(t, b, arenadto.EventJoined)
	expect(t, a, arenadto.EventParticipantJoined)

	// session id is implied once joined
	send(t, a, arenadto.ClientMessage{Type: arenadto.MsgMove, Origin: "e2", Destination: "e4"})
	var applied arenadto.MoveAppliedEvent
	require.NoError(t, json.Unmarshal(expect(t, b, arenadto.EventMoveApplied), &applied))
	require.Equal(t, "e2e4", applied.Move.UCI)
	expect(t, a, arenadto.EventMoveApplied)

	send(t, a, arenadto.ClientMessage{Type: arenadto.MsgMove, Origin: "d2", Destination: "d4"})
	var rejected arenadto.MoveRejectedEvent
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventMoveRejected), &rejected))
	require.Equal(t, "not_your_turn", rejected.Reason)
	require.NotEmpty(t, rejected.Message)

	send(t, b, arenadto.ClientMessage{Type: arenadto.MsgMove, Origin: "e7", Destination: "e3"})
	require.NoError(t, json.Unmarshal(expect(t, b, arenadto.EventMoveRejected), &rejected))
	require.Equal(t, "illegal_move", rejected.Reason)
	require.NotEmpty(t, rejected.LegalMoves)

	snap, err := e.coord.Snapshot(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, snap.Moves, 1)
}

func TestMalformedFramesGetErrorEvents(t *testing.T) {
	e := newEnv(t, Options{})
	a := e.dial(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte("{not json")))
	var body arenadto.ErrorBody
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventError), &body))
	require.Equal(t, "bad_message", body.Code)

	send(t, a, arenadto.ClientMessage{Type: "teleport"})
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventError), &body))
	require.Equal(t, "bad_message", body.Code)

	send(t, a, arenadto.ClientMessage{Type: arenadto.MsgResign})
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventError), &body))
	require.Equal(t, "missing_session", body.Code)
}

func TestInboundRateLimit(t *testing.T) {
	e := newEnv(t, Options{Rate: 0.001, Burst: 1})
	a := e.dial(t, "alice")
	send(t, a, arenadto.ClientMessage{Type: arenadto.MsgResign, SessionID: "nope"})
	var body arenadto.ErrorBody
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventError), &body))
	require.Equal(t, "session_not_found", body.Code)

	send(t, a, arenadto.ClientMessage{Type: arenadto.MsgResign, SessionID: "nope"})
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventError), &body))
	require.Equal(t, "rate_limited", body.Code)
}

func TestClosingConnectionDisconnectsPlayer(t *testing.T) {
	e := newEnv(t, Options{})
	s, err := e.coord.Create(context.Background(), coordinator.Caller{Identity: "alice"}, game.CreateRequest{
		Color:    game.ColorWhite,
		Settings: domain.DefaultSettings(),
	})
	require.NoError(t, err)

	a := e.dial(t, "alice")
	send(t, a, arenadto.ClientMessage{Type: arenadto.MsgJoin, SessionID: s.ID})
	expect(t, a, arenadto.EventJoined)
	b := e.dial(t, "bob")
	send(t, b, arenadto.ClientMessage{Type: arenadto.MsgJoin, SessionID: s.ID})
	expect(t, b, arenadto.EventJoined)

	require.NoError(t, b.Close(websocket.StatusNormalClosure, "tab closed"))
	var ev arenadto.ParticipantEvent
	require.NoError(t, json.Unmarshal(expect(t, a, arenadto.EventParticipantDisconnected), &ev))
	require.Equal(t, "bob", ev.Identity)

	snap, err := e.coord.Snapshot(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status)
	require.False(t, snap.Black.Connected)
}

// stallingSessions never answers a join until the connection's context ends.
type stallingSessions struct {
	Sessions
	entered      chan struct{}
	disconnected chan []string
}

func (s *stallingSessions) Join(ctx context.Context, _ coordinator.Caller, _ string, _ coordinator.JoinAs) (coordinator.JoinResult, error) {
	s.entered <- struct{}{}
	<-ctx.Done()
	return coordinator.JoinResult{}, ctx.Err()
}

func (s *stallingSessions) Disconnect(_ context.Context, _ string, joined ...string) error {
	s.disconnected <- joined
	return nil
}

func TestDisconnectCarriesAbandonedJoin(t *testing.T) {
	reg := registry.New()
	fake := &stallingSessions{entered: make(chan struct{}, 1), disconnected: make(chan []string, 1)}
	verifier := auth.NewVerifier("test-secret")
	srv := NewServer(fake, broadcast.NewHub(reg, nil), reg, verifier, msgcat.MustDefault(), Options{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tok, err := verifier.Issue("bob", "Bob", time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"?token="+tok, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	send(t, conn, arenadto.ClientMessage{Type: arenadto.MsgJoin, SessionID: "s-1"})
	select {
	case <-fake.entered:
	case <-ctx.Done():
		t.Fatal("join never reached the coordinator")
	}
	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()

	select {
	case joined := <-fake.disconnected:
		require.Equal(t, []string{"s-1"}, joined)
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect after close")
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	<-closed
}
