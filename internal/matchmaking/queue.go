// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/models"
)

const (
	// InitialWindow is the starting skill-rating half-width of the search.
	InitialWindow = 100
	// WindowStep widens the search each poll iteration.
	WindowStep = 50
	// WindowCeiling caps the widening.
	WindowCeiling = 1000

	// PollBackoff is the matcher loop interval.
	PollBackoff = time.Second

	// RelaxAfter is how long a player waits before the skill window is
	// abandoned and the best available candidates are accepted.
	RelaxAfter = 2 * time.Minute

	// waitNorm normalizes wait time in the match score; waits at or beyond
	// it contribute the full weight.
	waitNorm = 2 * time.Minute

	// maxExperienceGap normalizes the games-played component.
	maxExperienceGap = 500.0

	// maxPerfGap normalizes the recent-performance component.
	maxPerfGap = 20.0
)

// Score weights. They sum to 1.
const (
	weightSkill      = 0.4
	weightExperience = 0.2
	weightPerf       = 0.2
	weightWait       = 0.2
)

// redisQueueKey is the hash mirroring the in-memory queue for restarts.
const redisQueueKey = "ludo_mm_queue"

// SessionCreator is the slice of the session engine the matcher needs.
type SessionCreator interface {
	// CreateMatchedSession seats every entry in a fresh session.
	CreateMatchedSession(ctx context.Context, entries []models.MatchmakingEntry) (*models.Session, error)
	// ForfeitActiveSession removes the user from any non-terminal session
	// so they can requeue. Returns nil if the user has no active session.
	ForfeitActiveSession(ctx context.Context, userID uuid.UUID) error
}

// Queue is the skill-based matchmaking queue. The in-memory map is the
// matching structure; every mutation is mirrored to a Redis hash so entries
// survive a restart. A user holds at most one entry at a time.
type Queue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.MatchmakingEntry

	creator SessionCreator
	rdb     *redis.Client // optional; nil disables the durable mirror
	log     *logrus.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewQueue(creator SessionCreator, rdb *redis.Client, log *logrus.Logger) *Queue {
	if log == nil {
		log = logrus.New()
	}
	return &Queue{
		entries: make(map[uuid.UUID]*models.MatchmakingEntry),
		creator: creator,
		rdb:     rdb,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Restore reloads persisted entries from Redis. Call once at startup,
// before Run.
func (q *Queue) Restore(ctx context.Context) error {
	if q.rdb == nil {
		return nil
	}
	vals, err := q.rdb.HGetAll(ctx, redisQueueKey).Result()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, raw := range vals {
		var e models.MatchmakingEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			q.log.Warnf("matchmaking: dropping unreadable persisted entry: %v", err)
			continue
		}
		q.entries[e.UserID] = &e
	}
	q.log.Infof("matchmaking: restored %d queued entries", len(q.entries))
	return nil
}

// Enqueue adds the user to the queue. If the user is seated in an active
// session it is forfeited first, and any pre-existing queue entry is
// replaced, so the user never holds two memberships at once.
func (q *Queue) Enqueue(ctx context.Context, entry models.MatchmakingEntry) error {
	if err := q.creator.ForfeitActiveSession(ctx, entry.UserID); err != nil {
		return err
	}
	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = time.Now()
	}

	q.mu.Lock()
	q.entries[entry.UserID] = &entry
	q.mu.Unlock()

	q.persist(ctx, &entry)
	return nil
}

// Dequeue removes the user's entry, reporting whether one existed.
func (q *Queue) Dequeue(ctx context.Context, userID uuid.UUID) bool {
	q.mu.Lock()
	_, ok := q.entries[userID]
	delete(q.entries, userID)
	q.mu.Unlock()

	if ok {
		q.unpersist(ctx, userID)
	}
	return ok
}

// Entry returns a copy of the user's queue entry, if queued.
func (q *Queue) Entry(userID uuid.UUID) (models.MatchmakingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[userID]
	if !ok {
		return models.MatchmakingEntry{}, false
	}
	return *e, true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run drives the matcher loop until ctx is cancelled or Stop is called.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(PollBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			q.matchPass(ctx)
		}
	}
}

// Stop terminates Run.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// matchPass walks waiting entries oldest-first and tries to seat each one.
func (q *Queue) matchPass(ctx context.Context) {
	q.mu.Lock()
	waiting := make([]*models.MatchmakingEntry, 0, len(q.entries))
	for _, e := range q.entries {
		waiting = append(waiting, e)
	}
	q.mu.Unlock()

	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].JoinedAt.Before(waiting[j].JoinedAt)
	})

	for _, e := range waiting {
		q.TryMatch(ctx, e.UserID)
	}
}

// windowFor returns the skill half-width for a given wait.
func windowFor(wait time.Duration) int {
	w := InitialWindow + WindowStep*int(wait/time.Second)
	if w > WindowCeiling {
		w = WindowCeiling
	}
	return w
}

// matchScore ranks candidate b for seeker a. Higher is better.
func matchScore(a, b *models.MatchmakingEntry, wait time.Duration) float64 {
	skillGap := float64(abs(a.SkillRating - b.SkillRating))
	if skillGap > float64(WindowCeiling) {
		skillGap = float64(WindowCeiling)
	}
	expGap := float64(abs(a.GamesPlayed - b.GamesPlayed))
	if expGap > maxExperienceGap {
		expGap = maxExperienceGap
	}
	perfGap := a.RecentPerfScore - b.RecentPerfScore
	if perfGap < 0 {
		perfGap = -perfGap
	}
	if perfGap > maxPerfGap {
		perfGap = maxPerfGap
	}
	waitFrac := float64(wait) / float64(waitNorm)
	if waitFrac > 1 {
		waitFrac = 1
	}

	return weightSkill*(1-skillGap/float64(WindowCeiling)) +
		weightExperience*(1-expGap/maxExperienceGap) +
		weightPerf*(1-perfGap/maxPerfGap) +
		weightWait*waitFrac
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// compatible reports whether b can share a table with a.
func compatible(a, b *models.MatchmakingEntry) bool {
	return a.UserID != b.UserID &&
		a.PreferredVariant == b.PreferredVariant &&
		a.Region == b.Region &&
		a.GameTypeID == b.GameTypeID &&
		a.EntryFee == b.EntryFee
}

type scoredCandidate struct {
	entry *models.MatchmakingEntry
	score float64
}

// TryMatch attempts to seat the user right now. It returns the created
// session, or nil when there are not enough compatible candidates yet.
// Matched entries are dequeued atomically before session creation; if
// creation fails every entry is put back.
func (q *Queue) TryMatch(ctx context.Context, userID uuid.UUID) *models.Session {
	now := time.Now()

	q.mu.Lock()
	seeker, ok := q.entries[userID]
	if !ok {
		q.mu.Unlock()
		return nil
	}

	wait := now.Sub(seeker.JoinedAt)
	window := windowFor(wait)
	relaxed := wait >= RelaxAfter

	var candidates []scoredCandidate
	for _, e := range q.entries {
		if !compatible(seeker, e) {
			continue
		}
		if !relaxed && abs(seeker.SkillRating-e.SkillRating) > window {
			continue
		}
		candidates = append(candidates, scoredCandidate{
			entry: e,
			score: matchScore(seeker, e, now.Sub(e.JoinedAt)),
		})
	}

	need := seeker.MaxPlayers - 1
	minNeed := seeker.MinPlayers - 1
	if len(candidates) < minNeed {
		q.mu.Unlock()
		return nil
	}
	// Prefer a full room; settle for the minimum only when the queue
	// cannot fill one.
	if len(candidates) < need {
		if !relaxed {
			q.mu.Unlock()
			return nil
		}
		need = len(candidates)
		if need > seeker.MaxPlayers-1 {
			need = seeker.MaxPlayers - 1
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].entry.JoinedAt.Before(candidates[j].entry.JoinedAt)
		}
		return candidates[i].score > candidates[j].score
	})

	matched := []models.MatchmakingEntry{*seeker}
	for _, c := range candidates[:need] {
		matched = append(matched, *c.entry)
	}
	for _, m := range matched {
		delete(q.entries, m.UserID)
	}
	q.mu.Unlock()

	for _, m := range matched {
		q.unpersist(ctx, m.UserID)
	}

	session, err := q.creator.CreateMatchedSession(ctx, matched)
	if err != nil {
		q.log.Warnf("matchmaking: session creation failed, re-enqueueing %d players: %v", len(matched), err)
		q.mu.Lock()
		for i := range matched {
			e := matched[i]
			q.entries[e.UserID] = &e
		}
		q.mu.Unlock()
		for i := range matched {
			q.persist(ctx, &matched[i])
		}
		return nil
	}

	q.log.Infof("matchmaking: matched %d players into session %v", len(matched), session.ID)
	return session
}

func (q *Queue) persist(ctx context.Context, e *models.MatchmakingEntry) {
	if q.rdb == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		q.log.Warnf("matchmaking: failed to marshal entry for %v: %v", e.UserID, err)
		return
	}
	if err := q.rdb.HSet(ctx, redisQueueKey, e.UserID.String(), data).Err(); err != nil {
		q.log.Warnf("matchmaking: failed to persist entry for %v: %v", e.UserID, err)
	}
}

func (q *Queue) unpersist(ctx context.Context, userID uuid.UUID) {
	if q.rdb == nil {
		return
	}
	if err := q.rdb.HDel(ctx, redisQueueKey, userID.String()).Err(); err != nil {
		q.log.Warnf("matchmaking: failed to remove persisted entry for %v: %v", userID, err)
	}
}
