// internal/matchmaking/queue_test.go
package matchmaking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoroyale/server/internal/models"
)

// stubCreator records created sessions and can be told to fail.
type stubCreator struct {
	created    [][]models.MatchmakingEntry
	failCreate error
	forfeited  []uuid.UUID
}

func (s *stubCreator) CreateMatchedSession(ctx context.Context, entries []models.MatchmakingEntry) (*models.Session, error) {
	if s.failCreate != nil {
		return nil, s.failCreate
	}
	s.created = append(s.created, entries)
	return &models.Session{ID: uuid.New()}, nil
}

func (s *stubCreator) ForfeitActiveSession(ctx context.Context, userID uuid.UUID) error {
	s.forfeited = append(s.forfeited, userID)
	return nil
}

func entry(rating int, joinedAgo time.Duration) models.MatchmakingEntry {
	return models.MatchmakingEntry{
		UserID:           uuid.New(),
		SkillRating:      rating,
		PreferredVariant: models.VariantClassic,
		Region:           "eu",
		GameTypeID:       "ludo-classic-2p",
		MaxPlayers:       2,
		MinPlayers:       2,
		EntryFee:         100,
		JoinedAt:         time.Now().Add(-joinedAgo),
	}
}

func TestEnqueueReplacesExistingEntry(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{}
	q := NewQueue(c, nil, nil)

	e := entry(1200, 0)
	require.NoError(t, q.Enqueue(ctx, e))

	e.SkillRating = 1300
	require.NoError(t, q.Enqueue(ctx, e))

	assert.Equal(t, 1, q.Len(), "re-queueing must replace, not duplicate")
	got, ok := q.Entry(e.UserID)
	require.True(t, ok)
	assert.Equal(t, 1300, got.SkillRating)
	assert.Len(t, c.forfeited, 2, "every enqueue forfeits any active session first")
}

func TestTryMatchWithinWindow(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{}
	q := NewQueue(c, nil, nil)

	a := entry(1200, 0)
	b := entry(1250, 0)
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	s := q.TryMatch(ctx, a.UserID)
	require.NotNil(t, s)
	assert.Equal(t, 0, q.Len(), "matched entries are dequeued atomically")
	require.Len(t, c.created, 1)
	assert.Len(t, c.created[0], 2)
}

func TestTryMatchRespectsSkillWindow(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{}
	q := NewQueue(c, nil, nil)

	a := entry(1200, 0)
	far := entry(1200+InitialWindow+1, 0)
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, far))

	assert.Nil(t, q.TryMatch(ctx, a.UserID), "fresh entry must not match outside its window")
	assert.Equal(t, 2, q.Len())
}

func TestWindowWidensWithWait(t *testing.T) {
	assert.Equal(t, InitialWindow, windowFor(0))
	assert.Equal(t, InitialWindow+5*WindowStep, windowFor(5*time.Second))
	assert.Equal(t, WindowCeiling, windowFor(time.Hour), "widening is capped")
}

func TestTryMatchRelaxedAfterMaxWait(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{}
	q := NewQueue(c, nil, nil)

	stale := entry(1200, RelaxAfter+time.Second)
	far := entry(9000, 0)
	require.NoError(t, q.Enqueue(ctx, stale))
	require.NoError(t, q.Enqueue(ctx, far))

	s := q.TryMatch(ctx, stale.UserID)
	require.NotNil(t, s, "after the max wait, any skill gap is accepted")
}

func TestTryMatchIncompatibleNeverPairs(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{}
	q := NewQueue(c, nil, nil)

	a := entry(1200, RelaxAfter+time.Second)
	b := entry(1200, RelaxAfter+time.Second)
	b.Region = "us"
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	assert.Nil(t, q.TryMatch(ctx, a.UserID), "regions never mix, even relaxed")
}

func TestTryMatchPrefersBestScore(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{}
	q := NewQueue(c, nil, nil)

	a := entry(1200, 0)
	close1 := entry(1210, 0)
	close2 := entry(1290, 0)
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, close1))
	require.NoError(t, q.Enqueue(ctx, close2))

	s := q.TryMatch(ctx, a.UserID)
	require.NotNil(t, s)
	require.Len(t, c.created, 1)

	matchedIDs := map[uuid.UUID]bool{}
	for _, m := range c.created[0] {
		matchedIDs[m.UserID] = true
	}
	assert.True(t, matchedIDs[close1.UserID], "the closer-rated candidate wins the seat")
	assert.False(t, matchedIDs[close2.UserID])
	assert.Equal(t, 1, q.Len(), "the loser stays queued")
}

func TestFourPlayerFallsBackToMinimum(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{}
	q := NewQueue(c, nil, nil)

	mk := func(ago time.Duration) models.MatchmakingEntry {
		e := entry(1200, ago)
		e.GameTypeID = "ludo-classic-4p"
		e.MaxPlayers = 4
		e.MinPlayers = 2
		return e
	}

	fresh := mk(0)
	other := mk(0)
	require.NoError(t, q.Enqueue(ctx, fresh))
	require.NoError(t, q.Enqueue(ctx, other))

	assert.Nil(t, q.TryMatch(ctx, fresh.UserID), "a fresh seeker holds out for a full room")

	stale := mk(RelaxAfter + time.Second)
	require.NoError(t, q.Enqueue(ctx, stale))
	s := q.TryMatch(ctx, stale.UserID)
	require.NotNil(t, s, "a long-waiting seeker settles for min players")
	require.Len(t, c.created, 1)
	assert.Len(t, c.created[0], 3)
}

func TestFailedSessionCreationRollsBack(t *testing.T) {
	ctx := context.Background()
	c := &stubCreator{failCreate: errors.New("db down")}
	q := NewQueue(c, nil, nil)

	a := entry(1200, 0)
	b := entry(1220, 0)
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	assert.Nil(t, q.TryMatch(ctx, a.UserID))
	assert.Equal(t, 2, q.Len(), "a failed match re-enqueues everyone")
	_, okA := q.Entry(a.UserID)
	_, okB := q.Entry(b.UserID)
	assert.True(t, okA)
	assert.True(t, okB)
}

func TestMatchScoreOrdering(t *testing.T) {
	seeker := entry(1200, 0)
	near := entry(1210, 0)
	far := entry(1600, 0)

	sNear := matchScore(&seeker, &near, 0)
	sFar := matchScore(&seeker, &far, 0)
	assert.Greater(t, sNear, sFar)

	// Waiting longer raises a candidate's score.
	sWaited := matchScore(&seeker, &far, waitNorm)
	assert.Greater(t, sWaited, sFar)
	assert.LessOrEqual(t, sWaited, sFar+weightWait+1e-9)
}
