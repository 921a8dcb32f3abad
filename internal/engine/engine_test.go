// internal/engine/engine_test.go
package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoroyale/server/internal/clock"
	"github.com/ludoroyale/server/internal/events"
	"github.com/ludoroyale/server/internal/ledger"
	"github.com/ludoroyale/server/internal/models"
	"github.com/ludoroyale/server/internal/store"
)

type recordedEvent struct {
	sessionID uuid.UUID
	eventType events.Type
	payload   map[string]interface{}
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingSink) Publish(sessionID uuid.UUID, eventType events.Type, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{sessionID, eventType, payload})
}

func (r *recordingSink) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.eventType == t {
			n++
		}
	}
	return n
}

func (r *recordingSink) last(t events.Type) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].eventType == t {
			return r.events[i], true
		}
	}
	return recordedEvent{}, false
}

type harness struct {
	eng    *Engine
	store  *store.MemoryStore
	clocks *clock.Manager
	money  *ledger.MemoryLedger
	sink   *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemoryStore(),
		clocks: clock.NewManager(nil),
		money:  ledger.NewMemoryLedger(),
		sink:   &recordingSink{},
	}
	cfg := Config{
		StartCountdown:     20 * time.Millisecond,
		FillGrace:          0,
		ReconnectWindow:    80 * time.Millisecond,
		IdleWaitingTimeout: time.Minute,
	}
	h.eng = New(h.store, h.clocks, h.money, h.sink, cfg, nil)
	t.Cleanup(h.eng.Cleanup)
	return h
}

// seedInProgress drops a running two-player session straight into the
// store, bypassing the lobby flow, for tests that exercise mid-game logic.
func (h *harness) seedInProgress(t *testing.T, variant models.Variant, entryFee int64) (*models.Session, uuid.UUID, uuid.UUID) {
	t.Helper()
	p0, p1 := uuid.New(), uuid.New()
	s := &models.Session{
		ID:       uuid.New(),
		RoomCode: "TEST42",
		Status:   models.StatusInProgress,
		Config: models.SessionConfig{
			Variant:          variant,
			MaxPlayers:       2,
			MinPlayers:       2,
			EntryFee:         entryFee,
			TurnTimeLimitSec: 30,
			GameTypeID:       "ludo-2p",
			PointThreshold:   100,
		},
		Players: []models.PlayerSlot{
			{UserID: p0, SeatPosition: 0, Color: "red", IsActive: true, Lives: 3},
			{UserID: p1, SeatPosition: 1, Color: "green", IsActive: true, Lives: 3},
		},
		TurnOrder:       []uuid.UUID{p0, p1},
		CurrentPlayerID: p0,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, h.store.Save(context.Background(), s))
	return s, p0, p1
}

// seedThreeKill drops a running three-player kill session into the store,
// for tests that need a mid-order elimination.
func (h *harness) seedThreeKill(t *testing.T) (*models.Session, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	p0, p1, p2 := uuid.New(), uuid.New(), uuid.New()
	s := &models.Session{
		ID:       uuid.New(),
		RoomCode: "TEST43",
		Status:   models.StatusInProgress,
		Config: models.SessionConfig{
			Variant:          models.VariantKill,
			MaxPlayers:       3,
			MinPlayers:       2,
			TurnTimeLimitSec: 30,
			GameTypeID:       "ludo-3p",
			InitialLives:     3,
		},
		Players: []models.PlayerSlot{
			{UserID: p0, SeatPosition: 0, Color: "red", IsActive: true, Lives: 3},
			{UserID: p1, SeatPosition: 1, Color: "green", IsActive: true, Lives: 3},
			{UserID: p2, SeatPosition: 2, Color: "yellow", IsActive: true, Lives: 3},
		},
		TurnOrder:       []uuid.UUID{p0, p1, p2},
		CurrentPlayerID: p0,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, h.store.Save(context.Background(), s))
	return s, p0, p1, p2
}

func (h *harness) session(t *testing.T, id uuid.UUID) *models.Session {
	t.Helper()
	s, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLobbyFlowToInProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0, p1 := uuid.New(), uuid.New()
	h.money.Deposit(p0, 500)
	h.money.Deposit(p1, 500)

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 2, MinPlayers: 2, EntryFee: 100,
	})
	require.NoError(t, err)
	assert.Len(t, s.RoomCode, roomCodeLen)
	assert.Equal(t, models.StatusWaiting, s.Status)

	require.NoError(t, h.eng.Join(ctx, s.ID, p1, ""))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p0, true))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p1, true))

	assert.Equal(t, models.StatusStarting, h.session(t, s.ID).Status)
	assert.Equal(t, 1, h.sink.count(events.EventGameStarting))

	waitFor(t, func() bool {
		return h.session(t, s.ID).Status == models.StatusInProgress
	}, "countdown never started the game")

	got := h.session(t, s.ID)
	require.Equal(t, []uuid.UUID{p0, p1}, got.TurnOrder, "turn order follows seat order")
	assert.Equal(t, p0, got.CurrentPlayerID)
	assert.True(t, h.clocks.Active(s.ID, p0), "first turn clock is live")
	assert.Equal(t, int64(400), h.money.Balance(p0), "entry fee debited at start")
	assert.Equal(t, int64(400), h.money.Balance(p1))
}

func TestUnreadyAbortsCountdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0, p1 := uuid.New(), uuid.New()

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 2, MinPlayers: 2,
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.Join(ctx, s.ID, p1, ""))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p0, true))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p1, true))
	require.Equal(t, models.StatusStarting, h.session(t, s.ID).Status)

	require.NoError(t, h.eng.SetReady(ctx, s.ID, p1, false))
	assert.Equal(t, models.StatusWaiting, h.session(t, s.ID).Status)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.StatusWaiting, h.session(t, s.ID).Status,
		"aborted countdown must not start the game later")
}

func TestEntryFeeFailureRevertsRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0, p1 := uuid.New(), uuid.New()
	h.money.Deposit(p0, 500)
	// p1 cannot afford the fee.

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 2, MinPlayers: 2, EntryFee: 100,
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.Join(ctx, s.ID, p1, ""))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p0, true))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p1, true))

	waitFor(t, func() bool {
		got := h.session(t, s.ID)
		return got.Status == models.StatusWaiting && len(got.Players) == 1
	}, "short-funded start should revert to waiting and kick the broke player")

	assert.Equal(t, int64(500), h.money.Balance(p0), "charged players are refunded")
}

func TestJoinValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0, p1, p2 := uuid.New(), uuid.New(), uuid.New()

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 2, MinPlayers: 2,
		IsPrivate: true, Password: "hunter2",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, h.eng.Join(ctx, s.ID, p1, "wrong"), ErrBadPassword)
	assert.ErrorIs(t, h.eng.Join(ctx, s.ID, p0, "hunter2"), ErrAlreadyJoined)
	require.NoError(t, h.eng.Join(ctx, s.ID, p1, "hunter2"))
	assert.ErrorIs(t, h.eng.Join(ctx, s.ID, p2, "hunter2"), ErrRoomFull)
}

func TestRollDiceValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantClassic, 0)

	_, err := h.eng.RollDice(ctx, s.ID, p1)
	assert.ErrorIs(t, err, ErrNotYourTurn)

	h.eng.RollFn = func() int { return 6 }
	_, err = h.eng.RollDice(ctx, s.ID, p0)
	require.NoError(t, err)

	_, err = h.eng.RollDice(ctx, s.ID, p0)
	assert.ErrorIs(t, err, ErrDiceAlreadyRolled)

	err = h.eng.MovePiece(ctx, s.ID, p1, 0)
	assert.ErrorIs(t, err, ErrNotYourTurn)
}

func TestRollWithoutLegalMovePassesTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantClassic, 0)

	// All pieces at home and not a six: nothing can move.
	h.eng.RollFn = func() int { return 3 }
	_, err := h.eng.RollDice(ctx, s.ID, p0)
	require.NoError(t, err)

	got := h.session(t, s.ID)
	assert.Equal(t, p1, got.CurrentPlayerID, "turn passes immediately")
	assert.Zero(t, got.DiceValue)
	assert.Equal(t, 1, h.sink.count(events.EventTurnChanged))
	assert.True(t, h.clocks.Active(s.ID, p1), "next player's clock is live")
}

func TestSixEntersPieceAndRetainsTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, _ := h.seedInProgress(t, models.VariantClassic, 0)
	h.clocks.Start(s.ID, p0, 30*time.Second, nil, nil)

	h.eng.RollFn = func() int { return 6 }
	_, err := h.eng.RollDice(ctx, s.ID, p0)
	require.NoError(t, err)
	require.NoError(t, h.eng.MovePiece(ctx, s.ID, p0, 0))

	got := h.session(t, s.ID)
	slot := got.Slot(p0)
	assert.Equal(t, 1, slot.Pieces[0], "piece entered the ring")
	assert.Equal(t, p0, got.CurrentPlayerID, "six retains the turn")
	assert.Zero(t, got.DiceValue, "dice resets for the bonus action")
	assert.Equal(t, 1, h.sink.count(events.EventTurnTimeReset))
	assert.Equal(t, 0, h.sink.count(events.EventTurnChanged),
		"a bonus turn must not read as a turn change")
}

func TestCaptureResetsVictimAndRetainsTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantClassic, 0)

	// Seat 0 at progress 10 lands on progress 13 (ring square 12). Seat 1
	// enters at ring 26, so its progress 39 sits on the same square.
	s.Players[0].Pieces = [4]int{10, 0, 0, 0}
	s.Players[1].Pieces = [4]int{39, 0, 0, 0}
	require.NoError(t, h.store.Save(ctx, s))
	h.clocks.Start(s.ID, p0, 30*time.Second, nil, nil)

	h.eng.RollFn = func() int { return 3 }
	_, err := h.eng.RollDice(ctx, s.ID, p0)
	require.NoError(t, err)
	require.NoError(t, h.eng.MovePiece(ctx, s.ID, p0, 0))

	got := h.session(t, s.ID)
	assert.Equal(t, models.PieceHome, got.Slot(p1).Pieces[0], "captured piece resets to home")
	assert.Equal(t, 1, got.Slot(p0).Kills)
	assert.Equal(t, 13, got.Slot(p0).Points, "distance plus capture bonus")
	assert.Equal(t, p0, got.CurrentPlayerID, "capture retains the turn")
	assert.Equal(t, 1, h.sink.count(events.EventPlayerCaptured))
	assert.Equal(t, 1, h.sink.count(events.EventTurnTimeReset))
}

func TestWinningMoveCompletesAndSettles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantClassic, 100)

	s.Players[0].Pieces = [4]int{57, 57, 57, 54}
	require.NoError(t, h.store.Save(ctx, s))

	h.eng.RollFn = func() int { return 3 }
	_, err := h.eng.RollDice(ctx, s.ID, p0)
	require.NoError(t, err)
	require.NoError(t, h.eng.MovePiece(ctx, s.ID, p0, 3))

	got := h.session(t, s.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, p0, got.WinnerID)
	assert.False(t, got.SettlementPending)
	assert.Equal(t, 0, h.clocks.Count(), "all clocks cleared on completion")

	// 2 players, fee 100: winner takes 180 after rake.
	assert.Equal(t, int64(180), h.money.Balance(p0))
	assert.Equal(t, int64(0), h.money.Balance(p1))
	assert.Equal(t, 1, h.sink.count(events.EventGameCompleted))
}

func TestCompleteSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, _ := h.seedInProgress(t, models.VariantClassic, 100)

	require.NoError(t, h.eng.CompleteSession(ctx, s.ID, "test"))
	require.NoError(t, h.eng.CompleteSession(ctx, s.ID, "racing_path"))

	assert.Equal(t, 1, h.sink.count(events.EventGameCompleted),
		"double completion emits one terminal event")
	got := h.session(t, s.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)

	// Paid exactly once despite the second call.
	total := h.money.Balance(p0)
	for _, p := range got.Players {
		if p.UserID != p0 {
			total += h.money.Balance(p.UserID)
		}
	}
	assert.Equal(t, int64(180), total)
}

func TestKillTimeoutBurnsLifeAndEliminates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantKill, 0)

	s.Players[0].Lives = 1
	require.NoError(t, h.store.Save(ctx, s))

	require.NoError(t, h.eng.handleTurnTimeout(ctx, s.ID, p0))

	got := h.session(t, s.ID)
	slot := got.Slot(p0)
	assert.Zero(t, slot.Lives)
	assert.False(t, slot.IsActive, "out of lives means eliminated")
	assert.True(t, slot.IsEliminated)
	assert.NotContains(t, got.TurnOrder, p0)
	assert.Equal(t, models.StatusCompleted, got.Status, "one player left ends the game")
	assert.Equal(t, p1, got.WinnerID)
}

func TestKillTimeoutWithLivesLeftAdvancesTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantKill, 0)

	require.NoError(t, h.eng.handleTurnTimeout(ctx, s.ID, p0))

	got := h.session(t, s.ID)
	assert.Equal(t, 2, got.Slot(p0).Lives)
	assert.True(t, got.Slot(p0).IsActive)
	assert.Equal(t, p1, got.CurrentPlayerID)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestClassicTimeoutOnlyForfeitsTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantClassic, 0)

	require.NoError(t, h.eng.handleTurnTimeout(ctx, s.ID, p0))

	got := h.session(t, s.ID)
	assert.True(t, got.Slot(p0).IsActive, "no lives burn outside the kill variant")
	assert.Equal(t, p1, got.CurrentPlayerID)
	assert.Equal(t, 1, h.sink.count(events.EventTurnTimeout))
}

func TestStaleTimeoutIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantClassic, 0)

	// Expiry for a player whose turn already passed must change nothing.
	require.NoError(t, h.eng.handleTurnTimeout(ctx, s.ID, p1))
	got := h.session(t, s.ID)
	assert.Equal(t, p0, got.CurrentPlayerID)
	assert.Equal(t, 0, h.sink.count(events.EventTurnTimeout))

	// And a timeout for a vanished session only logs.
	require.NoError(t, h.eng.handleTurnTimeout(ctx, uuid.New(), p1))
}

func TestDisconnectPausesAndReconnectResumes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantClassic, 0)
	h.clocks.Start(s.ID, p0, 30*time.Second, nil, nil)

	require.NoError(t, h.eng.Disconnect(ctx, s.ID, p1))

	got := h.session(t, s.ID)
	assert.Equal(t, models.StatusPaused, got.Status, "below min players pauses")
	assert.False(t, got.Slot(p1).IsActive)
	assert.Equal(t, 0, h.clocks.Count(), "no countdown runs while paused")

	require.NoError(t, h.eng.Reconnect(ctx, s.ID, p1))

	got = h.session(t, s.ID)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.True(t, got.Slot(p1).IsActive)
	assert.Equal(t, p0, got.CurrentPlayerID, "the still-current player keeps the turn")
	assert.True(t, h.clocks.Active(s.ID, p0), "resume restarts the turn clock")
}

func TestReconnectWindowExpiryForfeits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, _, p1 := h.seedInProgress(t, models.VariantClassic, 0)

	require.NoError(t, h.eng.Disconnect(ctx, s.ID, p1))

	waitFor(t, func() bool {
		return h.session(t, s.ID).Status == models.StatusCompleted
	}, "unreturned disconnector should be forfeited, ending a 2p game")

	assert.GreaterOrEqual(t, h.sink.count(events.EventPlayerForfeited), 1)
}

func TestWaitingDisconnectFreesSeat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0, p1 := uuid.New(), uuid.New()

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 2, MinPlayers: 2,
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.Join(ctx, s.ID, p1, ""))
	require.NoError(t, h.eng.Disconnect(ctx, s.ID, p1))

	got := h.session(t, s.ID)
	assert.Len(t, got.Players, 1, "pre-start disconnect frees the seat")
	assert.Equal(t, models.StatusWaiting, got.Status)
}

func TestQuickRankingTieBreaksByKills(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantQuick, 100)

	s.Players[0].Points = 40
	s.Players[0].Kills = 2
	s.Players[1].Points = 40
	s.Players[1].Kills = 1
	require.NoError(t, h.store.Save(ctx, s))

	require.NoError(t, h.eng.CompleteSession(ctx, s.ID, "wall_clock_expired"))

	got := h.session(t, s.ID)
	assert.Equal(t, p0, got.WinnerID, "tied points rank by kills")
	assert.Equal(t, int64(180), h.money.Balance(p0))
	assert.Equal(t, int64(0), h.money.Balance(p1))
}

func TestQuickPointThresholdWinsMidGame(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, _ := h.seedInProgress(t, models.VariantQuick, 0)

	s.Players[0].Pieces = [4]int{20, 1, 1, 1}
	s.Players[0].Points = 98
	require.NoError(t, h.store.Save(ctx, s))

	h.eng.RollFn = func() int { return 4 }
	_, err := h.eng.RollDice(ctx, s.ID, p0)
	require.NoError(t, err)
	require.NoError(t, h.eng.MovePiece(ctx, s.ID, p0, 0))

	got := h.session(t, s.ID)
	assert.Equal(t, models.StatusCompleted, got.Status, "point threshold ends a quick game")
	assert.Equal(t, p0, got.WinnerID)
}

func TestSettlementFailureFlagsPendingThenRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, _ := h.seedInProgress(t, models.VariantClassic, 100)

	h.money.FailSettlements = assert.AnError
	require.NoError(t, h.eng.CompleteSession(ctx, s.ID, "test"))

	got := h.session(t, s.ID)
	assert.Equal(t, models.StatusCompleted, got.Status, "session completes even when payout fails")
	assert.True(t, got.SettlementPending)
	assert.Equal(t, int64(0), h.money.Balance(p0))

	h.money.FailSettlements = nil
	h.eng.RetryPendingSettlements(ctx)

	got = h.session(t, s.ID)
	assert.False(t, got.SettlementPending)
	assert.Equal(t, int64(180), h.money.Balance(p0), "sweep pays exactly once")

	// A second sweep changes nothing.
	h.eng.RetryPendingSettlements(ctx)
	assert.Equal(t, int64(180), h.money.Balance(p0))
}

func TestSweepIdleWaitingClosesStaleRooms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0 := uuid.New()

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 2, MinPlayers: 2,
	})
	require.NoError(t, err)
	h.store.Touch(s.ID, time.Now().Add(-2*time.Hour))

	h.eng.SweepIdleWaiting(ctx)

	assert.Equal(t, models.StatusCompleted, h.session(t, s.ID).Status)
}

func TestCreateMatchedSessionStartsCountdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0, p1 := uuid.New(), uuid.New()
	h.money.Deposit(p0, 500)
	h.money.Deposit(p1, 500)

	entries := []models.MatchmakingEntry{
		{UserID: p0, PreferredVariant: models.VariantClassic, GameTypeID: "ludo-2p", MaxPlayers: 2, MinPlayers: 2, EntryFee: 100},
		{UserID: p1, PreferredVariant: models.VariantClassic, GameTypeID: "ludo-2p", MaxPlayers: 2, MinPlayers: 2, EntryFee: 100},
	}
	s, err := h.eng.CreateMatchedSession(ctx, entries)
	require.NoError(t, err)
	require.Len(t, s.Players, 2)

	waitFor(t, func() bool {
		return h.session(t, s.ID).Status == models.StatusInProgress
	}, "matched rooms should start without a ready dance")
}

func TestForfeitActiveSessionForRequeue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, _ := h.seedInProgress(t, models.VariantClassic, 0)

	require.NoError(t, h.eng.ForfeitActiveSession(ctx, p0))

	got := h.session(t, s.ID)
	assert.False(t, got.Slot(p0).IsActive)
	assert.Equal(t, models.StatusCompleted, got.Status, "2p game ends when one forfeits")

	// No active session is a no-op.
	assert.NoError(t, h.eng.ForfeitActiveSession(ctx, uuid.New()))
}

func TestEliminatedPlayerCannotRejoinPlay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, _, _ := h.seedThreeKill(t)

	s.Players[0].Lives = 1
	require.NoError(t, h.store.Save(ctx, s))
	require.NoError(t, h.eng.handleTurnTimeout(ctx, s.ID, p0))

	got := h.session(t, s.ID)
	require.True(t, got.Slot(p0).IsEliminated)
	require.Equal(t, 2, got.ActiveCount())
	require.Equal(t, models.StatusInProgress, got.Status)

	// A fresh socket must not bring an eliminated player back to life.
	assert.ErrorIs(t, h.eng.Reconnect(ctx, s.ID, p0), ErrEliminated)

	got = h.session(t, s.ID)
	assert.False(t, got.Slot(p0).IsActive, "elimination is final")
	assert.Equal(t, 2, got.ActiveCount())
	assert.NotContains(t, got.TurnOrder, p0)
}

func TestMinQuorumStartsAfterFillGrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.eng.cfg.FillGrace = 30 * time.Millisecond
	p0, p1 := uuid.New(), uuid.New()

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 4, MinPlayers: 2,
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.Join(ctx, s.ID, p1, ""))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p0, true))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p1, true))

	assert.Equal(t, models.StatusWaiting, h.session(t, s.ID).Status,
		"a below-capacity room holds for stragglers inside the grace")

	waitFor(t, func() bool {
		return h.session(t, s.ID).Status == models.StatusInProgress
	}, "all-ready min-quorum room must start once the fill grace elapses")
}

func TestUnreadyDuringFillGraceHoldsRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.eng.cfg.FillGrace = 30 * time.Millisecond
	p0, p1 := uuid.New(), uuid.New()

	s, err := h.eng.CreateSession(ctx, p0, models.SessionConfig{
		Variant: models.VariantClassic, MaxPlayers: 4, MinPlayers: 2,
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.Join(ctx, s.ID, p1, ""))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p0, true))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p1, true))
	require.NoError(t, h.eng.SetReady(ctx, s.ID, p1, false))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.StatusWaiting, h.session(t, s.ID).Status,
		"the grace re-check must re-validate readiness, not start blindly")
}

func TestEliminatingMidOrderPlayerAdvancesToNextSeat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1, p2 := h.seedThreeKill(t)

	s.CurrentPlayerID = p1
	s.Players[1].Lives = 1
	require.NoError(t, h.store.Save(ctx, s))

	require.NoError(t, h.eng.handleTurnTimeout(ctx, s.ID, p1))

	got := h.session(t, s.ID)
	assert.Equal(t, []uuid.UUID{p0, p2}, got.TurnOrder)
	assert.Equal(t, p2, got.CurrentPlayerID,
		"play continues around the table, not back to seat zero")
	assert.True(t, h.clocks.Active(s.ID, p2))
}

func TestFailedMatchedSessionLeavesNoOrphanRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p0, p1 := uuid.New(), uuid.New()

	// The duplicate entry makes the second seating fail mid-assembly.
	entries := []models.MatchmakingEntry{
		{UserID: p0, PreferredVariant: models.VariantClassic, GameTypeID: "ludo-3p", MaxPlayers: 3, MinPlayers: 2},
		{UserID: p1, PreferredVariant: models.VariantClassic, GameTypeID: "ludo-3p", MaxPlayers: 3, MinPlayers: 2},
		{UserID: p1, PreferredVariant: models.VariantClassic, GameTypeID: "ludo-3p", MaxPlayers: 3, MinPlayers: 2},
	}
	_, err := h.eng.CreateMatchedSession(ctx, entries)
	require.Error(t, err)

	_, err = h.store.ActiveSessionFor(ctx, p0)
	assert.ErrorIs(t, err, store.ErrNotFound,
		"a failed match must not leave its players seated anywhere")
	_, err = h.store.ActiveSessionFor(ctx, p1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNoResetEventWhenTurnClockAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, _ := h.seedInProgress(t, models.VariantClassic, 0)

	// No clock is running for p0, as after an expiry that already fired.
	h.eng.RollFn = func() int { return 6 }
	_, err := h.eng.RollDice(ctx, s.ID, p0)
	require.NoError(t, err)
	require.NoError(t, h.eng.MovePiece(ctx, s.ID, p0, 0))

	assert.Equal(t, 0, h.sink.count(events.EventTurnTimeReset),
		"no reset announcement when there was no clock to reset")
	got := h.session(t, s.ID)
	assert.Zero(t, got.DiceValue)
	assert.Equal(t, p0, got.CurrentPlayerID)
}

func TestQuickWallClockPauseResumePreservesRemaining(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, p0, p1 := h.seedInProgress(t, models.VariantQuick, 0)
	s.Config.QuickGameClockSec = 300
	require.NoError(t, h.store.Save(ctx, s))

	h.eng.startWallClock(s.ID, 300*time.Second)
	h.clocks.Start(s.ID, p0, 30*time.Second, nil, nil)

	require.NoError(t, h.eng.Disconnect(ctx, s.ID, p1))
	got := h.session(t, s.ID)
	require.Equal(t, models.StatusPaused, got.Status)
	assert.InDelta(t, 300, got.QuickRemainingSec, 2, "wall clock remainder is preserved")
	assert.Equal(t, 0, h.clocks.Count())

	require.NoError(t, h.eng.Reconnect(ctx, s.ID, p1))
	got = h.session(t, s.ID)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.True(t, h.clocks.Active(s.ID, uuid.Nil), "wall clock restarted on resume")
	assert.Zero(t, got.QuickRemainingSec)
}
