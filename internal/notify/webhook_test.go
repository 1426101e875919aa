package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/arenadto"
)

func noBackoff(int) time.Duration { return time.Millisecond }

func terminal() store.Terminal {
	end := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &domain.GameSession{
		ID:        "s1",
		GameType:  domain.GameBlitz,
		Settings:  domain.Settings{Rated: true},
		Status:    domain.StatusEnded,
		Result:    domain.ResultBlackWin,
		EndReason: domain.ReasonResignation,
		White:     domain.PlayerSlot{Identity: "alice"},
		Black:     domain.PlayerSlot{Identity: "bob"},
		Moves:     []domain.Move{{Ply: 1, UCI: "e2e4", SAN: "e4"}},
		EndedAt:   &end,
	}
	return store.Terminal{
		Session: s,
		Record:  domain.NewGameRecord(s, ""),
		Adjustments: []domain.RatingAdjustment{
			{Participant: "alice", RatingBefore: 1500, RatingAfter: 1484, Delta: -16},
			{Participant: "bob", RatingBefore: 1500, RatingAfter: 1516, Delta: 16},
		},
	}
}

func TestPostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan arenadto.SessionResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var res arenadto.SessionResult
		_ = json.NewDecoder(r.Body).Decode(&res)
		bodies <- res
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithBackoff(noBackoff))
	require.NoError(t, w.Post(context.Background(), ResultOf(terminal())))
	require.EqualValues(t, 2, calls.Load())
	got := <-bodies
	require.Equal(t, "s1", got.SessionID)
	require.Equal(t, "black_win", got.Result)
	require.Len(t, got.Adjustments, 2)
	require.Equal(t, 1, got.Moves)
}

func TestPostDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithBackoff(noBackoff))
	require.Error(t, w.Post(context.Background(), ResultOf(terminal())))
	require.EqualValues(t, 1, calls.Load())
}

func TestEnqueueDeliversBeforeClose(t *testing.T) {
	delivered := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var res arenadto.SessionResult
		_ = json.NewDecoder(r.Body).Decode(&res)
		delivered <- res.SessionID
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithBackoff(noBackoff))
	w.Start()
	w.Enqueue(terminal())
	w.Close()

	select {
	case id := <-delivered:
		require.Equal(t, "s1", id)
	default:
		t.Fatal("result not delivered before Close returned")
	}
}
