// internal/engine/engine.go
//
// The session engine owns the room/turn state machine. Every mutating
// operation on a session runs under that session's mutex and persists
// through the store's optimistic save, so a move landing at the same
// instant as a timeout for the same player is resolved by lock order, not
// luck. Cross-session operations run fully in parallel.
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/board"
	"github.com/ludoroyale/server/internal/clock"
	"github.com/ludoroyale/server/internal/events"
	"github.com/ludoroyale/server/internal/ledger"
	"github.com/ludoroyale/server/internal/models"
	"github.com/ludoroyale/server/internal/store"
)

// Validation errors: surfaced to the acting client, no state mutated.
var (
	ErrNotJoinable       = errors.New("session is not accepting players")
	ErrRoomFull          = errors.New("room is full")
	ErrAlreadyJoined     = errors.New("player already seated")
	ErrBadPassword       = errors.New("wrong room password")
	ErrNotSeated         = errors.New("player is not in this session")
	ErrEliminated        = errors.New("player was eliminated from this session")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrDiceAlreadyRolled = errors.New("dice already rolled this turn")
	ErrDiceNotRolled     = errors.New("dice not yet rolled")
	ErrIllegalMove       = errors.New("illegal move")
	ErrNotInProgress     = errors.New("session is not in progress")
)

// Defaults applied when a session config leaves a knob unset.
const (
	DefaultTurnTimeLimit  = 30 * time.Second
	DefaultQuickGameClock = 5 * time.Minute
	DefaultMaxPlayers     = 4
)

// Config tunes engine-wide timing behavior.
type Config struct {
	// StartCountdown is the fixed delay between all-ready and game start.
	StartCountdown time.Duration
	// FillGrace is how long a below-capacity room waits for more players
	// before an all-ready minimum quorum is allowed to start.
	FillGrace time.Duration
	// ReconnectWindow is how long a mid-game disconnector has before being
	// forfeited.
	ReconnectWindow time.Duration
	// IdleWaitingTimeout closes rooms that never got going.
	IdleWaitingTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartCountdown:     5 * time.Second,
		FillGrace:          15 * time.Second,
		ReconnectWindow:    60 * time.Second,
		IdleWaitingTimeout: 10 * time.Minute,
	}
}

// ArchiveFunc persists a finished session's record durably. Optional.
type ArchiveFunc func(ctx context.Context, s *models.Session) error

// RatingService applies post-game rating updates. Optional.
type RatingService interface {
	// ApplyMatchResult receives user ids ordered by final rank, best first.
	ApplyMatchResult(ctx context.Context, rankedUserIDs []uuid.UUID) error
}

// Engine coordinates sessions, clocks, money movement, and events.
type Engine struct {
	store   store.SessionStore
	clocks  *clock.Manager
	ledger  ledger.Ledger
	sink    events.Sink
	ratings RatingService // may be nil
	archive ArchiveFunc   // may be nil
	cfg     Config
	log     *logrus.Logger

	// RollFn produces die rolls; swapped out in tests for determinism.
	RollFn func() int

	mu          sync.Mutex
	sessionMus  map[uuid.UUID]*sync.Mutex
	countdowns  map[uuid.UUID]*time.Timer // pending start countdowns
	graceChecks map[uuid.UUID]*time.Timer // pending fill-grace re-evaluations
	forfeits    map[uuid.UUID]*time.Timer // pending reconnect-window forfeits, by user
	disconnects map[uuid.UUID]models.DisconnectionRecord
}

func New(st store.SessionStore, clocks *clock.Manager, lg ledger.Ledger, sink events.Sink, cfg Config, log *logrus.Logger) *Engine {
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		store:       st,
		clocks:      clocks,
		ledger:      lg,
		sink:        sink,
		cfg:         cfg,
		log:         log,
		RollFn:      rollDie,
		sessionMus:  make(map[uuid.UUID]*sync.Mutex),
		countdowns:  make(map[uuid.UUID]*time.Timer),
		graceChecks: make(map[uuid.UUID]*time.Timer),
		forfeits:    make(map[uuid.UUID]*time.Timer),
		disconnects: make(map[uuid.UUID]models.DisconnectionRecord),
	}
}

// SetRatingService wires an optional post-game rating updater.
func (e *Engine) SetRatingService(rs RatingService) { e.ratings = rs }

// SetArchiveFunc wires durable archival of completed sessions.
func (e *Engine) SetArchiveFunc(fn ArchiveFunc) { e.archive = fn }

// Store exposes the session store for read-side callers; writes still go
// through engine operations.
func (e *Engine) Store() store.SessionStore { return e.store }

// rollDie returns a uniform 1..6 from crypto/rand; bias matters when money
// rides on the result.
func rollDie() int {
	n, err := rand.Int(rand.Reader, big.NewInt(board.MaxDie))
	if err != nil {
		// Extremely unlikely; fall back to a time-derived value rather
		// than halting play.
		return int(time.Now().UnixNano()%board.MaxDie) + 1
	}
	return int(n.Int64()) + 1
}

// sessionMu returns the serialization mutex for a session, creating it on
// first use.
func (e *Engine) sessionMu(id uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.sessionMus[id]
	if !ok {
		mu = &sync.Mutex{}
		e.sessionMus[id] = mu
	}
	return mu
}

// withSession runs fn on the loaded session under the session's mutex and
// persists the result. A save that loses an optimistic race is retried once
// against a fresh load; with in-process serialization that only happens
// when an external writer touched the record.
func (e *Engine) withSession(ctx context.Context, id uuid.UUID, fn func(s *models.Session) error) error {
	mu := e.sessionMu(id)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; ; attempt++ {
		s, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		err = e.store.Save(ctx, s)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrVersionConflict) && attempt == 0 {
			e.log.WithField("session", id).Warn("optimistic save lost a race, retrying")
			continue
		}
		return err
	}
}

// roomCodeLen is the length of generated human-shareable room codes.
const roomCodeLen = 6

const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateRoomCode() string {
	code := make([]byte, roomCodeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			n = big.NewInt(int64(time.Now().UnixNano() % int64(len(roomCodeAlphabet))))
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code)
}

// normalizeConfig fills unset knobs with variant-appropriate defaults.
func normalizeConfig(cfg *models.SessionConfig) {
	if cfg.MaxPlayers < 2 || cfg.MaxPlayers > 4 {
		cfg.MaxPlayers = DefaultMaxPlayers
	}
	if cfg.MinPlayers < 2 || cfg.MinPlayers > cfg.MaxPlayers {
		cfg.MinPlayers = 2
	}
	if cfg.TurnTimeLimitSec <= 0 {
		cfg.TurnTimeLimitSec = int(DefaultTurnTimeLimit.Seconds())
	}
	if cfg.Variant == "" {
		cfg.Variant = models.VariantClassic
	}
	if cfg.Variant == models.VariantQuick {
		if cfg.QuickGameClockSec <= 0 {
			cfg.QuickGameClockSec = int(DefaultQuickGameClock.Seconds())
		}
		if cfg.PointThreshold <= 0 {
			cfg.PointThreshold = board.DefaultPointThreshold
		}
	}
	if cfg.Variant == models.VariantKill && cfg.InitialLives <= 0 {
		cfg.InitialLives = board.DefaultLives
	}
}

// CreateSession opens a WAITING room and seats the creator. Room codes are
// retried on collision.
func (e *Engine) CreateSession(ctx context.Context, creatorID uuid.UUID, cfg models.SessionConfig) (*models.Session, error) {
	normalizeConfig(&cfg)

	s := &models.Session{
		ID:        uuid.New(),
		Status:    models.StatusWaiting,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	seatPlayer(s, creatorID)

	for attempt := 0; attempt < 10; attempt++ {
		s.RoomCode = generateRoomCode()
		if _, err := e.store.LoadByCode(ctx, s.RoomCode); errors.Is(err, store.ErrNotFound) {
			break
		}
		if attempt == 9 {
			return nil, fmt.Errorf("failed to allocate a unique room code")
		}
	}

	if err := e.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	e.sink.Publish(s.ID, events.EventRoomCreated, map[string]interface{}{
		"room_code":   s.RoomCode,
		"variant":     s.Config.Variant,
		"max_players": s.Config.MaxPlayers,
		"entry_fee":   s.Config.EntryFee,
		"creator_id":  creatorID,
	})
	e.log.WithFields(logrus.Fields{
		"session": s.ID, "room_code": s.RoomCode, "variant": s.Config.Variant,
	}).Info("session created")
	return s, nil
}

// seatPlayer assigns the next free seat and its color. Caller validated
// capacity.
func seatPlayer(s *models.Session, userID uuid.UUID) *models.PlayerSlot {
	taken := make(map[int]bool, len(s.Players))
	for i := range s.Players {
		taken[s.Players[i].SeatPosition] = true
	}
	seat := 0
	for taken[seat] {
		seat++
	}
	s.Players = append(s.Players, models.PlayerSlot{
		UserID:       userID,
		SeatPosition: seat,
		Color:        models.SeatColors[seat%len(models.SeatColors)],
		IsActive:     true,
		JoinedAt:     time.Now(),
	})
	return &s.Players[len(s.Players)-1]
}

// Join seats a player in a WAITING room.
func (e *Engine) Join(ctx context.Context, sessionID, userID uuid.UUID, password string) error {
	return e.withSession(ctx, sessionID, func(s *models.Session) error {
		if s.Status != models.StatusWaiting {
			return ErrNotJoinable
		}
		if s.IsFull() {
			return ErrRoomFull
		}
		if s.Slot(userID) != nil {
			return ErrAlreadyJoined
		}
		if s.Config.IsPrivate && s.Config.Password != password {
			return ErrBadPassword
		}
		slot := seatPlayer(s, userID)

		e.sink.Publish(s.ID, events.EventPlayerJoined, map[string]interface{}{
			"user_id": userID,
			"seat":    slot.SeatPosition,
			"color":   slot.Color,
		})
		return nil
	})
}

// SetReady flips a player's ready flag and, when the start condition is
// met, kicks off the fixed start countdown. Un-readying during the
// countdown aborts it and reverts the session to WAITING.
func (e *Engine) SetReady(ctx context.Context, sessionID, userID uuid.UUID, ready bool) error {
	var beginCountdown bool
	err := e.withSession(ctx, sessionID, func(s *models.Session) error {
		switch s.Status {
		case models.StatusWaiting:
		case models.StatusStarting:
			if ready {
				return nil // already counting down
			}
		default:
			return ErrNotJoinable
		}
		slot := s.Slot(userID)
		if slot == nil {
			return ErrNotSeated
		}
		slot.IsReady = ready
		slot.LastActionAt = time.Now()

		e.sink.Publish(s.ID, events.EventPlayerReady, map[string]interface{}{
			"user_id": userID,
			"ready":   ready,
		})

		if !ready && s.Status == models.StatusStarting {
			s.Status = models.StatusWaiting
			e.abortCountdown(s.ID)
			return nil
		}

		if s.Status == models.StatusWaiting && e.startConditionMet(s) {
			s.Status = models.StatusStarting
			beginCountdown = true
		} else if s.Status == models.StatusWaiting {
			// A min-quorum room that is all-ready but still inside the fill
			// grace has no further ready event coming; re-check when the
			// grace runs out.
			if wait, ok := e.graceWait(s); ok {
				e.scheduleGraceCheck(s.ID, wait)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if beginCountdown {
		e.beginCountdown(sessionID)
	}
	return nil
}

// roomReadiness summarizes the active seats for the start decision.
type roomReadiness struct {
	active     int
	ready      int
	oldestJoin time.Time
}

func readinessOf(s *models.Session) roomReadiness {
	r := roomReadiness{oldestJoin: time.Now()}
	for i := range s.Players {
		p := &s.Players[i]
		if !p.IsActive {
			continue
		}
		r.active++
		if p.IsReady {
			r.ready++
		}
		if p.JoinedAt.Before(r.oldestJoin) {
			r.oldestJoin = p.JoinedAt
		}
	}
	return r
}

// startConditionMet: at least two ready actives, all actives ready, and
// either the room is full or a minimum quorum has outwaited the fill grace.
func (e *Engine) startConditionMet(s *models.Session) bool {
	r := readinessOf(s)
	if r.active < 2 || r.ready != r.active {
		return false
	}
	if r.active == s.Config.MaxPlayers {
		return true
	}
	return r.active >= s.Config.MinPlayers && time.Since(r.oldestJoin) >= e.cfg.FillGrace
}

// graceWait reports how long until the fill grace would let the room start,
// when the grace is the only unmet start condition.
func (e *Engine) graceWait(s *models.Session) (time.Duration, bool) {
	r := readinessOf(s)
	if r.active < 2 || r.ready != r.active ||
		r.active < s.Config.MinPlayers || r.active >= s.Config.MaxPlayers {
		return 0, false
	}
	wait := e.cfg.FillGrace - time.Since(r.oldestJoin)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// scheduleGraceCheck arms a one-shot re-evaluation of the start condition.
// A stale fire is harmless: the re-check validates everything again under
// the session lock.
func (e *Engine) scheduleGraceCheck(sessionID uuid.UUID, wait time.Duration) {
	e.mu.Lock()
	if t, ok := e.graceChecks[sessionID]; ok {
		t.Stop()
	}
	e.graceChecks[sessionID] = time.AfterFunc(wait, func() {
		e.mu.Lock()
		delete(e.graceChecks, sessionID)
		e.mu.Unlock()
		e.recheckStart(context.Background(), sessionID)
	})
	e.mu.Unlock()
}

func (e *Engine) abortGraceCheck(sessionID uuid.UUID) {
	e.mu.Lock()
	if t, ok := e.graceChecks[sessionID]; ok {
		t.Stop()
		delete(e.graceChecks, sessionID)
	}
	e.mu.Unlock()
}

// recheckStart re-runs the WAITING -> STARTING decision after the fill
// grace has elapsed.
func (e *Engine) recheckStart(ctx context.Context, sessionID uuid.UUID) {
	var begin bool
	err := e.withSession(ctx, sessionID, func(s *models.Session) error {
		if s.Status == models.StatusWaiting && e.startConditionMet(s) {
			s.Status = models.StatusStarting
			begin = true
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.WithField("session", sessionID).Warnf("fill grace recheck failed: %v", err)
	}
	if begin {
		e.beginCountdown(sessionID)
	}
}

// beginCountdown schedules the STARTING -> IN_PROGRESS transition.
func (e *Engine) beginCountdown(sessionID uuid.UUID) {
	e.sink.Publish(sessionID, events.EventGameStarting, map[string]interface{}{
		"countdown_sec": int(e.cfg.StartCountdown.Seconds()),
	})
	e.mu.Lock()
	if t, ok := e.countdowns[sessionID]; ok {
		t.Stop()
	}
	e.countdowns[sessionID] = time.AfterFunc(e.cfg.StartCountdown, func() {
		e.mu.Lock()
		delete(e.countdowns, sessionID)
		e.mu.Unlock()
		if err := e.startSession(context.Background(), sessionID); err != nil {
			e.log.WithField("session", sessionID).Warnf("start after countdown failed: %v", err)
		}
	})
	e.mu.Unlock()
}

func (e *Engine) abortCountdown(sessionID uuid.UUID) {
	e.mu.Lock()
	if t, ok := e.countdowns[sessionID]; ok {
		t.Stop()
		delete(e.countdowns, sessionID)
	}
	e.mu.Unlock()
}

// startSession performs the STARTING -> IN_PROGRESS transition: entry-fee
// debits, turn order by seat, variant-specific piece placement, first turn
// clock, and for quick games the session wall clock.
func (e *Engine) startSession(ctx context.Context, sessionID uuid.UUID) error {
	return e.withSession(ctx, sessionID, func(s *models.Session) error {
		if s.Status != models.StatusStarting {
			return nil // aborted or already running
		}
		if !allActiveReady(s) {
			s.Status = models.StatusWaiting
			return nil
		}

		if err := e.collectEntryFees(ctx, s); err != nil {
			// collectEntryFees already reverted the room; persist that.
			e.log.WithField("session", s.ID).Warnf("start aborted: %v", err)
			return nil
		}

		rules := board.RulesFor(s.Config.Variant)
		total := len(s.Players)
		s.TurnOrder = s.TurnOrder[:0]
		for seat := 0; seat < 4; seat++ {
			slot := s.SlotBySeat(seat)
			if slot == nil || !slot.IsActive {
				continue
			}
			slot.Pieces = rules.StartingPieces(slot.SeatPosition, total)
			if s.Config.Variant == models.VariantKill {
				slot.Lives = s.Config.InitialLives
			}
			s.TurnOrder = append(s.TurnOrder, slot.UserID)
		}
		s.Status = models.StatusInProgress
		s.CurrentPlayerID = s.TurnOrder[0]
		s.DiceValue = 0

		e.startTurnClock(s)
		if rules.WallClockLimited() {
			e.startWallClock(s.ID, time.Duration(s.Config.QuickGameClockSec)*time.Second)
		}

		e.sink.Publish(s.ID, events.EventGameStarted, map[string]interface{}{
			"turn_order":     s.TurnOrder,
			"current_player": s.CurrentPlayerID,
			"variant":        s.Config.Variant,
		})
		e.log.WithFields(logrus.Fields{
			"session": s.ID, "players": len(s.TurnOrder),
		}).Info("game started")
		return nil
	})
}

func allActiveReady(s *models.Session) bool {
	active := 0
	for i := range s.Players {
		p := &s.Players[i]
		if !p.IsActive {
			continue
		}
		active++
		if !p.IsReady {
			return false
		}
	}
	return active >= 2
}

// collectEntryFees debits every seated player. A failed debit kicks the
// player from the room, refunds everyone already charged, and reverts the
// session to WAITING rather than starting short-funded.
func (e *Engine) collectEntryFees(ctx context.Context, s *models.Session) error {
	if s.Config.EntryFee <= 0 {
		return nil
	}
	reason := fmt.Sprintf("entry_fee:%s", s.ID)
	var charged []uuid.UUID
	for i := range s.Players {
		broke := s.Players[i].UserID
		if err := e.ledger.Debit(ctx, broke, s.Config.EntryFee, reason); err != nil {
			for _, uid := range charged {
				if cerr := e.ledger.Credit(ctx, uid, s.Config.EntryFee, "entry_fee_refund:"+s.ID.String()); cerr != nil {
					e.log.WithField("user", uid).Errorf("entry fee refund failed: %v", cerr)
				}
			}
			removePlayer(s, broke)
			s.Status = models.StatusWaiting
			for j := range s.Players {
				s.Players[j].IsReady = false
			}
			e.sink.Publish(s.ID, events.EventPlayerLeft, map[string]interface{}{
				"user_id": broke,
				"reason":  "entry_fee_failed",
			})
			return fmt.Errorf("entry fee debit for %s: %w", broke, err)
		}
		charged = append(charged, broke)
	}
	return nil
}

// removePlayer frees a seat pre-start. Never used once the game is live.
func removePlayer(s *models.Session, userID uuid.UUID) {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			s.Players = append(s.Players[:i], s.Players[i+1:]...)
			return
		}
	}
}

// CreateMatchedSession seats a matched group and rolls straight into the
// start countdown; matched players have already committed by queueing.
func (e *Engine) CreateMatchedSession(ctx context.Context, entries []models.MatchmakingEntry) (*models.Session, error) {
	if len(entries) < 2 {
		return nil, fmt.Errorf("a match needs at least two players")
	}
	first := entries[0]
	cfg := models.SessionConfig{
		Variant:    first.PreferredVariant,
		MaxPlayers: first.MaxPlayers,
		MinPlayers: first.MinPlayers,
		EntryFee:   first.EntryFee,
		GameTypeID: first.GameTypeID,
	}
	normalizeConfig(&cfg)

	s, err := e.CreateSession(ctx, first.UserID, cfg)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries[1:] {
		if err := e.Join(ctx, s.ID, entry.UserID, ""); err != nil {
			e.discardPartialMatch(ctx, s.ID)
			return nil, fmt.Errorf("failed to seat matched player %s: %w", entry.UserID, err)
		}
	}

	// Matched rooms skip the ready dance.
	err = e.withSession(ctx, s.ID, func(s *models.Session) error {
		for i := range s.Players {
			s.Players[i].IsReady = true
		}
		s.Status = models.StatusStarting
		return nil
	})
	if err != nil {
		e.discardPartialMatch(ctx, s.ID)
		return nil, err
	}
	e.beginCountdown(s.ID)

	return e.store.Load(ctx, s.ID)
}

// discardPartialMatch tears down a half-assembled matched room. Whoever got
// seated must be free to requeue and match again, not left in an orphaned
// WAITING session.
func (e *Engine) discardPartialMatch(ctx context.Context, sessionID uuid.UUID) {
	e.abortCountdown(sessionID)
	e.abortGraceCheck(sessionID)
	if err := e.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.WithField("session", sessionID).Warnf("failed to discard partial matched room: %v", err)
	}
}

// ForfeitActiveSession removes the user from whatever non-terminal session
// they are seated in. Satisfies the matchmaking queue's requeue contract;
// returns nil when the user has no active session.
func (e *Engine) ForfeitActiveSession(ctx context.Context, userID uuid.UUID) error {
	s, err := e.store.ActiveSessionFor(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.forfeit(ctx, s.ID, userID, "requeued")
}
