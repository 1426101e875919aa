package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/arenadto"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type recordingScheduler struct {
	mu     sync.Mutex
	synced []string
}

func (r *recordingScheduler) Sync(s *domain.GameSession) {
	r.mu.Lock()
	r.synced = append(r.synced, s.ID)
	r.mu.Unlock()
}

type fixture struct {
	c     *Coordinator
	st    *store.Memory
	reg   *registry.Registry
	hub   *broadcast.Hub
	clock *fakeClock
	ended []store.Terminal
	endMu sync.Mutex
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()
	mem := store.NewMemory()
	return newFixtureOn(t, mem, mem, tweak)
}

// newFixtureOn runs the coordinator on backend; mem is the memory store behind it.
func newFixtureOn(t *testing.T, mem *store.Memory, backend store.Store, tweak func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		st:    mem,
		reg:   registry.New(),
		clock: &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.hub = broadcast.NewHub(f.reg, nil)
	opts := Options{
		PersistRetries: 3,
		PersistBackoff: time.Millisecond,
		AbandonGrace:   time.Minute,
		Now:            f.clock.Now,
		Clock:          &recordingScheduler{},
		OnEnded: func(term store.Terminal) {
			f.endMu.Lock()
			f.ended = append(f.ended, term)
			f.endMu.Unlock()
		},
	}
	if tweak != nil {
		tweak(&opts)
	}
	f.c = New(backend, game.NewPipeline(rules.NewChess()), f.reg, f.hub, opts)
	t.Cleanup(f.c.Close)
	return f
}

func (f *fixture) conn(id string) *broadcast.Outbox {
	o := broadcast.NewOutbox(id, 64)
	f.hub.Attach(o)
	return o
}

func drain(o *broadcast.Outbox) []string {
	var kinds []string
	for {
		select {
		case ev := <-o.C():
			kinds = append(kinds, ev.Type)
		default:
			return kinds
		}
	}
}

var (
	alice = Caller{Identity: "alice", DisplayName: "Alice"}
	bob   = Caller{Identity: "bob", DisplayName: "Bob"}
	carol = Caller{Identity: "carol", DisplayName: "Carol"}
)

func withConn(c Caller, connID string) Caller {
	c.ConnID = connID
	return c
}

func mv(uci string) rules.MoveRequest {
	return rules.MoveRequest{Origin: uci[:2], Destination: uci[2:4]}
}

// startGame creates a session for alice as white and seats bob; both are connected.
func (f *fixture) startGame(t *testing.T, tc domain.TimeControl, settings domain.Settings) (string, *broadcast.Outbox, *broadcast.Outbox) {
	t.Helper()
	ctx := context.Background()
	s, err := f.c.Create(ctx, alice, game.CreateRequest{Color: game.ColorWhite, TimeControl: tc, Settings: settings})
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaiting, s.Status)

	wa, wb := f.conn("conn-a"), f.conn("conn-b")
	res, err := f.c.Join(ctx, withConn(alice, "conn-a"), s.ID, JoinAuto)
	require.NoError(t, err)
	require.Equal(t, domain.RolePlayer, res.Role)
	require.Equal(t, domain.White, res.Color)

	res, err = f.c.Join(ctx, withConn(bob, "conn-b"), s.ID, JoinAuto)
	require.NoError(t, err)
	require.Equal(t, domain.Black, res.Color)
	require.Equal(t, domain.StatusPlaying, res.Session.Status)
	require.True(t, res.Session.White.Connected)
	require.True(t, res.Session.Black.Connected)
	drain(wa)
	drain(wb)
	return s.ID, wa, wb
}

func blitz() domain.TimeControl { return domain.TimeControl{InitialSeconds: 300} }

func TestMovesAlternateAndFanOut(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, wa, wb := f.startGame(t, blitz(), domain.DefaultSettings())

	_, err := f.c.SubmitMove(ctx, bob, id, mv("e7e5"))
	require.True(t, domain.IsKind(err, domain.KindNotYourTurn), "got %v", err)

	res, err := f.c.SubmitMove(ctx, alice, id, mv("e2e4"))
	require.NoError(t, err)
	require.Equal(t, "e4", res.Move.SAN)
	require.Equal(t, 1, res.Move.Ply)

	_, err = f.c.SubmitMove(ctx, alice, id, mv("d2d4"))
	require.True(t, domain.IsKind(err, domain.KindNotYourTurn), "got %v", err)

	_, err = f.c.SubmitMove(ctx, bob, id, mv("e7e4"))
	de, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, domain.KindIllegalMove, de.Kind)
	require.Contains(t, de.LegalMoves, "e7e5")

	_, err = f.c.SubmitMove(ctx, bob, id, mv("e7e5"))
	require.NoError(t, err)

	require.Equal(t, []string{arenadto.EventMoveApplied, arenadto.EventMoveApplied}, drain(wa))
	require.Equal(t, []string{arenadto.EventMoveApplied, arenadto.EventMoveApplied}, drain(wb))

	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Moves, 2)
	require.Equal(t, domain.White, snap.SideToMove())
}

func TestCheckmateEndsOnceWithTwoAdjustments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, wa, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	for i, step := range []struct {
		who Caller
		uci string
	}{{alice, "f2f3"}, {bob, "e7e5"}, {alice, "g2g4"}, {bob, "d8h4"}} {
		res, err := f.c.SubmitMove(ctx, step.who, id, mv(step.uci))
		require.NoError(t, err, "ply %d", i+1)
		require.Equal(t, i == 3, res.Terminal)
	}

	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusEnded, snap.Status)
	require.Equal(t, domain.ResultBlackWin, snap.Result)
	require.Equal(t, domain.ReasonCheckmate, snap.EndReason)
	require.Equal(t, 1468, *snap.White.RatingAfter)
	require.Equal(t, 1532, *snap.Black.RatingAfter)

	kinds := drain(wa)
	require.Equal(t, arenadto.EventSessionEnded, kinds[len(kinds)-1])

	_, err = f.c.Resign(ctx, alice, id)
	require.True(t, domain.IsKind(err, domain.KindIllegalState), "got %v", err)
	_, err = f.c.OfferDraw(ctx, bob, id)
	require.True(t, domain.IsKind(err, domain.KindIllegalState), "got %v", err)

	for _, who := range []string{"alice", "bob"} {
		adjs, err := f.st.RatingAdjustments(ctx, who)
		require.NoError(t, err)
		require.Len(t, adjs, 1, who)
	}
	prof, err := f.st.LoadRating(ctx, "bob", domain.GameBlitz)
	require.NoError(t, err)
	require.Equal(t, 1532, prof.Rating)
	require.Equal(t, 1, prof.Wins)

	rec, ok := f.st.Record(id)
	require.True(t, ok)
	require.Contains(t, rec.PGN, "0-1")

	f.endMu.Lock()
	require.Len(t, f.ended, 1)
	f.endMu.Unlock()
}

func TestResignOnWaitingSessionIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.c.Create(ctx, alice, game.CreateRequest{Color: game.ColorBlack, TimeControl: blitz(), Settings: domain.DefaultSettings()})
	require.NoError(t, err)

	_, err = f.c.Resign(ctx, alice, s.ID)
	require.True(t, domain.IsKind(err, domain.KindIllegalState), "got %v", err)

	snap, err := f.c.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.Revision, snap.Revision)
	require.Equal(t, domain.StatusWaiting, snap.Status)
}

func TestJoinRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.c.Create(ctx, alice, game.CreateRequest{Color: game.ColorWhite, Settings: domain.DefaultSettings()})
	require.NoError(t, err)

	_, err = f.c.Join(ctx, alice, s.ID, JoinPlayer)
	require.True(t, domain.IsKind(err, domain.KindPermission), "got %v", err)

	res, err := f.c.Join(ctx, alice, s.ID, JoinAuto)
	require.NoError(t, err)
	require.Equal(t, domain.RolePlayer, res.Role)
	require.Equal(t, domain.StatusWaiting, res.Session.Status)

	res, err = f.c.Join(ctx, bob, s.ID, JoinPlayer)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, res.Session.Status)

	_, err = f.c.Join(ctx, carol, s.ID, JoinPlayer)
	require.True(t, domain.IsKind(err, domain.KindIllegalState), "got %v", err)

	res, err = f.c.Join(ctx, carol, s.ID, JoinAuto)
	require.NoError(t, err)
	require.Equal(t, domain.RoleSpectator, res.Role)
	require.True(t, res.Session.IsSpectator("carol"))

	_, err = f.c.Join(ctx, alice, "nope", JoinAuto)
	require.True(t, domain.IsKind(err, domain.KindNotFound), "got %v", err)
}

func TestSpectatingAndChatFollowSettings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	settings := domain.DefaultSettings()
	settings.AllowSpectators = false
	id, wa, _ := f.startGame(t, blitz(), settings)

	_, err := f.c.Join(ctx, carol, id, JoinSpectator)
	require.True(t, domain.IsKind(err, domain.KindFeatureDisabled), "got %v", err)

	_, err = f.c.SendChat(ctx, carol, id, "hello")
	require.True(t, domain.IsKind(err, domain.KindPermission), "got %v", err)

	msg, err := f.c.SendChat(ctx, bob, id, "  good luck ")
	require.NoError(t, err)
	require.Equal(t, "good luck", msg.Text)
	require.Equal(t, []string{arenadto.EventChatPosted}, drain(wa))
}

func TestDisconnectKeepsGameAndReconnectRestores(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, wa, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	_, err := f.c.SubmitMove(ctx, alice, id, mv("d2d4"))
	require.NoError(t, err)
	drain(wa)

	require.NoError(t, f.c.Disconnect(ctx, "conn-b"))
	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status)
	require.False(t, snap.Black.Connected)
	require.NotNil(t, snap.Black.DisconnectedAt)
	require.Len(t, snap.Moves, 1)
	pos := snap.Position
	require.Equal(t, []string{arenadto.EventParticipantDisconnected}, drain(wa))

	// a second disconnect of the same connection is a no-op
	require.NoError(t, f.c.Disconnect(ctx, "conn-b"))

	wb2 := f.conn("conn-b2")
	res, err := f.c.Join(ctx, withConn(bob, "conn-b2"), id, JoinAuto)
	require.NoError(t, err)
	require.Equal(t, domain.RolePlayer, res.Role)
	require.True(t, res.Session.Black.Connected)
	require.Nil(t, res.Session.Black.DisconnectedAt)
	require.Equal(t, pos, res.Session.Position)
	require.Len(t, res.Session.Moves, 1)
	require.Equal(t, []string{arenadto.EventJoined}, drain(wb2))
	require.Equal(t, []string{arenadto.EventParticipantJoined}, drain(wa))
}

func TestSecondTabKeepsPlayerConnected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	f.conn("conn-b2")
	_, err := f.c.Join(ctx, withConn(bob, "conn-b2"), id, JoinAuto)
	require.NoError(t, err)
	require.NoError(t, f.c.Disconnect(ctx, "conn-b"))

	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.True(t, snap.Black.Connected)
}

func TestConcurrentMovesApplyExactlyOne(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, uci := range []string{"e2e4", "d2d4"} {
		wg.Add(1)
		go func(i int, uci string) {
			defer wg.Done()
			_, errs[i] = f.c.SubmitMove(ctx, alice, id, mv(uci))
		}(i, uci)
	}
	wg.Wait()

	applied, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case domain.IsKind(err, domain.KindNotYourTurn):
			rejected++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	require.Equal(t, 1, applied)
	require.Equal(t, 1, rejected)

	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Moves, 1)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, wa, _ := f.startGame(t, blitz(), domain.DefaultSettings())
	boom := errors.New("store unavailable")

	f.st.FailWrites(3, boom)
	_, err := f.c.SubmitMove(ctx, alice, id, mv("e2e4"))
	require.ErrorIs(t, err, boom)
	require.Empty(t, drain(wa))

	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Empty(t, snap.Moves)

	f.st.FailWrites(2, boom)
	_, err = f.c.SubmitMove(ctx, alice, id, mv("e2e4"))
	require.NoError(t, err)
}

func TestTerminalCommitFailureLeavesSessionPlaying(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())
	boom := errors.New("disk full")

	f.st.FailWrites(3, boom)
	_, err := f.c.Resign(ctx, alice, id)
	require.ErrorIs(t, err, boom)

	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status)
	require.Nil(t, snap.White.RatingAfter)
	adjs, err := f.st.RatingAdjustments(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, adjs)

	s, err := f.c.Resign(ctx, alice, id)
	require.NoError(t, err)
	require.Equal(t, domain.ResultBlackWin, s.Result)
	require.Equal(t, domain.ReasonResignation, s.EndReason)
}

func TestDrawOfferFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, wa, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	_, err := f.c.OfferDraw(ctx, alice, id)
	require.NoError(t, err)
	_, err = f.c.RespondDraw(ctx, bob, id, false)
	require.NoError(t, err)
	require.Equal(t, []string{arenadto.EventDrawOffered, arenadto.EventDrawDeclined}, drain(wa))

	_, err = f.c.RespondDraw(ctx, bob, id, true)
	require.True(t, domain.IsKind(err, domain.KindIllegalState), "got %v", err)

	_, err = f.c.OfferDraw(ctx, bob, id)
	require.NoError(t, err)
	s, err := f.c.RespondDraw(ctx, alice, id, true)
	require.NoError(t, err)
	require.Equal(t, domain.ResultDraw, s.Result)
	require.Equal(t, domain.ReasonDrawAgreement, s.EndReason)
	require.Equal(t, 1500, *s.White.RatingAfter)
}

func TestDrawOffersDisabled(t *testing.T) {
	f := newFixture(t, nil)
	settings := domain.DefaultSettings()
	settings.AllowDrawOffers = false
	id, _, _ := f.startGame(t, blitz(), settings)
	_, err := f.c.OfferDraw(context.Background(), alice, id)
	require.True(t, domain.IsKind(err, domain.KindFeatureDisabled), "got %v", err)
}

func TestTakeback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	settings := domain.DefaultSettings()
	settings.AllowTakebacks = true
	id, wa, _ := f.startGame(t, blitz(), settings)

	_, err := f.c.SubmitMove(ctx, alice, id, mv("e2e4"))
	require.NoError(t, err)
	_, err = f.c.OfferTakeback(ctx, alice, id)
	require.NoError(t, err)
	s, err := f.c.RespondTakeback(ctx, bob, id, true)
	require.NoError(t, err)
	require.Empty(t, s.Moves)
	require.Equal(t, domain.White, s.SideToMove())
	require.Equal(t, []string{
		arenadto.EventMoveApplied,
		arenadto.EventTakebackOffered,
		arenadto.EventTakebackApplied,
	}, drain(wa))
}

func TestTimeoutAfterFlagFall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, domain.TimeControl{InitialSeconds: 60}, domain.DefaultSettings())

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.c.Timeout(ctx, id))
	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status, "early timeout must be ignored")

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.c.Timeout(ctx, id))
	snap, err = f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ResultBlackWin, snap.Result)
	require.Equal(t, domain.ReasonTimeout, snap.EndReason)
	require.Equal(t, int64(0), snap.White.RemainingMillis)

	require.NoError(t, f.c.Timeout(ctx, id))
}

func TestAbandonAfterGrace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	require.NoError(t, f.c.Disconnect(ctx, "conn-b"))
	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.c.Abandon(ctx, id))
	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status)

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.c.Abandon(ctx, id))
	snap, err = f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ResultWhiteWin, snap.Result)
	require.Equal(t, domain.ReasonAbandoned, snap.EndReason)
}

func TestRestartReloadsFromStore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())
	_, err := f.c.SubmitMove(ctx, alice, id, mv("g1f3"))
	require.NoError(t, err)
	f.c.Close()

	_, err = f.c.Snapshot(ctx, id)
	require.ErrorIs(t, err, ErrClosed)

	again := New(f.st, game.NewPipeline(rules.NewChess()), registry.New(), f.hub, Options{Now: f.clock.Now})
	t.Cleanup(again.Close)
	snap, err := again.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Moves, 1)
	_, err = again.SubmitMove(ctx, bob, id, mv("g8f6"))
	require.NoError(t, err)
}

func TestResumeMarksPlayersAwayAndArmsTimers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())
	_, err := f.c.SubmitMove(ctx, alice, id, mv("e2e4"))
	require.NoError(t, err)
	f.c.Close()

	sched := &recordingScheduler{}
	again := New(f.st, game.NewPipeline(rules.NewChess()), registry.New(), f.hub, Options{Now: f.clock.Now, Clock: sched})
	t.Cleanup(again.Close)
	n, err := again.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	snap, err := again.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status)
	require.False(t, snap.White.Connected)
	require.False(t, snap.Black.Connected)
	require.NotNil(t, snap.White.DisconnectedAt)

	sched.mu.Lock()
	defer sched.mu.Unlock()
	require.Contains(t, sched.synced, id)
}

func TestIdleActorsAreEvicted(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.IdleTTL = 10 * time.Millisecond })
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	require.Eventually(t, func() bool { return f.c.ActiveActors() == 0 }, time.Second, 5*time.Millisecond)

	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status)

	_, err = f.c.Snapshot(ctx, "missing")
	require.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestCallerCancellationDoesNotAbortOperation(t *testing.T) {
	f := newFixture(t, nil)
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = f.c.SubmitMove(ctx, alice, id, mv("e2e4"))

	snap, err := f.c.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.LessOrEqual(t, len(snap.Moves), 1)
}

// gatedStore parks writes while held so a test can line operations up behind a busy actor.
type gatedStore struct {
	*store.Memory
	mu      sync.Mutex
	gate    chan struct{}
	arrived chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{Memory: store.NewMemory(), arrived: make(chan struct{}, 16)}
}

func (g *gatedStore) hold() {
	g.mu.Lock()
	g.gate = make(chan struct{})
	g.mu.Unlock()
}

func (g *gatedStore) release() {
	g.mu.Lock()
	close(g.gate)
	g.gate = nil
	g.mu.Unlock()
}

func (g *gatedStore) wait() {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate == nil {
		return
	}
	g.arrived <- struct{}{}
	<-gate
}

func (g *gatedStore) SaveSession(ctx context.Context, s *domain.GameSession) error {
	g.wait()
	return g.Memory.SaveSession(ctx, s)
}

func (g *gatedStore) CommitTerminal(ctx context.Context, t store.Terminal) error {
	g.wait()
	return g.Memory.CommitTerminal(ctx, t)
}

func awaitArrivals(t *testing.T, g *gatedStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-g.arrived:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d writes reached the store", i, n)
		}
	}
}

func queued(c *Coordinator, sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.actors[sessionID]
	if !ok {
		return 0
	}
	return len(a.ops)
}

func TestOverlappingEndsBothCountOnProfile(t *testing.T) {
	g := newGatedStore()
	f := newFixtureOn(t, g.Memory, g, nil)
	ctx := context.Background()

	var ids []string
	for _, opp := range []Caller{bob, carol} {
		s, err := f.c.Create(ctx, alice, game.CreateRequest{Color: game.ColorWhite, TimeControl: blitz(), Settings: domain.DefaultSettings()})
		require.NoError(t, err)
		_, err = f.c.Join(ctx, opp, s.ID, JoinAuto)
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	g.hold()
	var wg sync.WaitGroup
	for i, opp := range []Caller{bob, carol} {
		wg.Add(1)
		go func(id string, who Caller) {
			defer wg.Done()
			_, err := f.c.Resign(ctx, who, id)
			assert.NoError(t, err)
		}(ids[i], opp)
	}
	awaitArrivals(t, g, 2)
	g.release()
	wg.Wait()

	adjs, err := f.st.RatingAdjustments(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, adjs, 2)
	profile, err := f.st.LoadRating(ctx, "alice", domain.GameBlitz)
	require.NoError(t, err)
	require.Equal(t, 2, profile.GamesPlayed)
	require.Equal(t, 2, profile.Wins)
	require.Equal(t, domain.DefaultRating+adjs[0].Delta+adjs[1].Delta, profile.Rating)
}

func TestDisconnectFollowsAbandonedJoin(t *testing.T) {
	g := newGatedStore()
	f := newFixtureOn(t, g.Memory, g, nil)
	ctx := context.Background()
	id, _, _ := f.startGame(t, blitz(), domain.DefaultSettings())

	require.NoError(t, f.c.Disconnect(ctx, "conn-b"))
	snap, err := f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.False(t, snap.Black.Connected)

	// keep the actor busy on a chat write
	g.hold()
	chatDone := make(chan error, 1)
	go func() {
		_, err := f.c.SendChat(ctx, alice, id, "still there?")
		chatDone <- err
	}()
	awaitArrivals(t, g, 1)

	// bob's new tab joins and goes away before the join is served
	f.conn("conn-b2")
	jctx, jcancel := context.WithCancel(ctx)
	joinDone := make(chan error, 1)
	go func() {
		_, err := f.c.Join(jctx, withConn(bob, "conn-b2"), id, JoinAuto)
		joinDone <- err
	}()
	require.Eventually(t, func() bool { return queued(f.c, id) == 1 }, 2*time.Second, 5*time.Millisecond)
	jcancel()
	require.ErrorIs(t, <-joinDone, context.Canceled)
	f.hub.Detach("conn-b2")

	discDone := make(chan error, 1)
	go func() { discDone <- f.c.Disconnect(ctx, "conn-b2", id) }()
	require.Eventually(t, func() bool { return queued(f.c, id) == 2 }, 2*time.Second, 5*time.Millisecond)

	g.release()
	require.NoError(t, <-chatDone)
	require.NoError(t, <-discDone)

	_, registered := f.reg.Lookup("conn-b2")
	require.False(t, registered)
	snap, err = f.c.Snapshot(ctx, id)
	require.NoError(t, err)
	require.False(t, snap.Black.Connected)
	require.NotNil(t, snap.Black.DisconnectedAt)
}
