package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/pkg/arenadto"
)

func TestPublishReachesSessionMembersOnly(t *testing.T) {
	reg := registry.New()
	hub := NewHub(reg, nil)
	a, b, c := NewOutbox("a", 4), NewOutbox("b", 4), NewOutbox("c", 4)
	for _, o := range []*Outbox{a, b, c} {
		hub.Attach(o)
	}
	reg.Register("a", "s1", "alice", domain.RolePlayer)
	reg.Register("b", "s1", "bob", domain.RoleSpectator)
	reg.Register("c", "s2", "carol", domain.RolePlayer)

	n := hub.Publish("s1", Event(arenadto.EventChatPosted, arenadto.ChatPostedEvent{Author: "alice", Text: "hi"}))
	require.Equal(t, 2, n)
	require.Equal(t, 1, a.Len())
	require.Equal(t, 1, b.Len())
	require.Equal(t, 0, c.Len())

	n = hub.PublishExcept("s1", "a", Event(arenadto.EventDrawOffered, arenadto.OfferEvent{By: "white"}))
	require.Equal(t, 1, n)
	require.Equal(t, 1, a.Len())
	require.Equal(t, 2, b.Len())
}

func TestSlowConsumerIsClosed(t *testing.T) {
	reg := registry.New()
	hub := NewHub(reg, nil)
	o := NewOutbox("a", 1)
	hub.Attach(o)
	reg.Register("a", "s1", "alice", domain.RolePlayer)

	require.True(t, hub.Send("a", Event(arenadto.EventError, nil)))
	require.False(t, hub.Send("a", Event(arenadto.EventError, nil)))

	select {
	case <-o.Done():
	default:
		t.Fatal("full outbox should be closed")
	}
	require.Equal(t, reasonSlowConsumer, o.Reason())
	require.False(t, o.TrySend(Event(arenadto.EventError, nil)))
}

func TestOutboxPreservesOrder(t *testing.T) {
	o := NewOutbox("x", 8)
	for _, kind := range []string{arenadto.EventMoveApplied, arenadto.EventSessionEnded} {
		require.True(t, o.TrySend(Event(kind, nil)))
	}
	require.Equal(t, arenadto.EventMoveApplied, (<-o.C()).Type)
	require.Equal(t, arenadto.EventSessionEnded, (<-o.C()).Type)
}

func TestViewOfShowsLiveClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &domain.GameSession{
		ID:          "s",
		Status:      domain.StatusPlaying,
		TimeControl: domain.TimeControl{InitialSeconds: 60},
		White:       domain.PlayerSlot{Identity: "w", RemainingMillis: 60000},
		Black:       domain.PlayerSlot{Identity: "b", RemainingMillis: 60000},
		Moves:       []domain.Move{},
		StartedAt:   &start,
	}
	v := ViewOf(s, start.Add(15*time.Second))
	require.Equal(t, int64(45000), v.White.RemainingMs)
	require.Equal(t, int64(60000), v.Black.RemainingMs)
	require.Equal(t, "white", v.SideToMove)
	require.NotNil(t, v.Moves)
}
