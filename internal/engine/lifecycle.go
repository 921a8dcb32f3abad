// internal/engine/lifecycle.go
//
// Disconnects, reconnects, pausing, completion, settlement, and the
// background sweeps.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/board"
	"github.com/ludoroyale/server/internal/events"
	"github.com/ludoroyale/server/internal/ledger"
	"github.com/ludoroyale/server/internal/models"
	"github.com/ludoroyale/server/internal/store"
)

// Disconnect handles a player dropping. Pre-start the seat is freed
// outright; mid-game the player goes inactive with a reconnect window, and
// the whole session pauses when the table falls below its minimum.
func (e *Engine) Disconnect(ctx context.Context, sessionID, userID uuid.UUID) error {
	return e.withSession(ctx, sessionID, func(s *models.Session) error {
		slot := s.Slot(userID)
		if slot == nil {
			return ErrNotSeated
		}

		switch s.Status {
		case models.StatusWaiting, models.StatusStarting:
			removePlayer(s, userID)
			if s.Status == models.StatusStarting {
				s.Status = models.StatusWaiting
				e.abortCountdown(s.ID)
			}
			e.sink.Publish(s.ID, events.EventPlayerLeft, map[string]interface{}{
				"user_id": userID,
			})
			return nil

		case models.StatusInProgress:
			if slot.IsEliminated {
				return nil // already out; nothing to track
			}
			slot.IsActive = false
			rec := models.DisconnectionRecord{
				UserID:             userID,
				SessionID:          s.ID,
				DisconnectedAt:     time.Now(),
				ReconnectWindowSec: int(e.cfg.ReconnectWindow.Seconds()),
			}
			e.trackDisconnect(rec)
			e.sink.Publish(s.ID, events.EventPlayerDisconnected, map[string]interface{}{
				"user_id":              userID,
				"reconnect_window_sec": rec.ReconnectWindowSec,
			})

			if s.ActiveCount() < s.Config.MinPlayers {
				e.pause(s)
			} else if s.CurrentPlayerID == userID {
				e.advanceTurn(s)
			}
			return nil

		case models.StatusPaused:
			if slot.IsEliminated {
				return nil
			}
			slot.IsActive = false
			e.trackDisconnect(models.DisconnectionRecord{
				UserID:             userID,
				SessionID:          s.ID,
				DisconnectedAt:     time.Now(),
				ReconnectWindowSec: int(e.cfg.ReconnectWindow.Seconds()),
			})
			return nil

		default:
			return nil
		}
	})
}

// trackDisconnect records the drop and schedules the deferred forfeit
// check for when the reconnect window closes.
func (e *Engine) trackDisconnect(rec models.DisconnectionRecord) {
	e.mu.Lock()
	e.disconnects[rec.UserID] = rec
	if t, ok := e.forfeits[rec.UserID]; ok {
		t.Stop()
	}
	e.forfeits[rec.UserID] = time.AfterFunc(e.cfg.ReconnectWindow, func() {
		e.mu.Lock()
		still, ok := e.disconnects[rec.UserID]
		if ok && still.SessionID == rec.SessionID {
			delete(e.disconnects, rec.UserID)
			delete(e.forfeits, rec.UserID)
		}
		e.mu.Unlock()
		if !ok || still.SessionID != rec.SessionID {
			return
		}
		if err := e.forfeit(context.Background(), rec.SessionID, rec.UserID, "reconnect_window_expired"); err != nil {
			e.log.WithFields(logrus.Fields{
				"session": rec.SessionID, "user": rec.UserID,
			}).Warnf("deferred forfeit failed: %v", err)
		}
	})
	e.mu.Unlock()
}

// clearDisconnect cancels any pending forfeit for the user. Reports whether
// a record existed.
func (e *Engine) clearDisconnect(userID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.disconnects[userID]
	delete(e.disconnects, userID)
	if t, exists := e.forfeits[userID]; exists {
		t.Stop()
		delete(e.forfeits, userID)
	}
	return ok
}

// pause freezes an in-progress session: every clock is cancelled
// synchronously, and the quick wall clock's remainder is preserved for the
// resume.
func (e *Engine) pause(s *models.Session) {
	if rem, ok := e.clocks.Remaining(s.ID, uuid.Nil); ok {
		s.QuickRemainingSec = rem
	}
	e.clocks.ClearAll(s.ID)
	s.Status = models.StatusPaused
	s.DiceValue = 0
	e.sink.Publish(s.ID, events.EventGamePaused, map[string]interface{}{
		"active_players": s.ActiveCount(),
	})
}

// Reconnect brings a dropped player back and resumes the session if the
// table is viable again.
func (e *Engine) Reconnect(ctx context.Context, sessionID, userID uuid.UUID) error {
	return e.withSession(ctx, sessionID, func(s *models.Session) error {
		slot := s.Slot(userID)
		if slot == nil {
			return ErrNotSeated
		}
		if slot.IsEliminated {
			// Out of lives or forfeited: the socket may come back, the
			// player does not.
			return ErrEliminated
		}
		e.clearDisconnect(userID)
		slot.IsActive = true
		slot.LastActionAt = time.Now()

		e.sink.Publish(s.ID, events.EventPlayerReconnected, map[string]interface{}{
			"user_id": userID,
		})

		if s.Status == models.StatusPaused && s.ActiveCount() >= s.Config.MinPlayers {
			s.Status = models.StatusInProgress
			if s.Slot(s.CurrentPlayerID) == nil || !s.Slot(s.CurrentPlayerID).IsActive {
				e.advanceTurn(s)
			} else {
				e.startTurnClock(s)
			}
			if board.RulesFor(s.Config.Variant).WallClockLimited() && s.QuickRemainingSec > 0 {
				e.startWallClock(s.ID, time.Duration(s.QuickRemainingSec)*time.Second)
				s.QuickRemainingSec = 0
			}
			e.sink.Publish(s.ID, events.EventGameResumed, map[string]interface{}{
				"current_player": s.CurrentPlayerID,
			})
		}
		return nil
	})
}

// forfeit removes a player for good: seat freed pre-start, eliminated
// mid-game. Ends the game if at most one active player remains.
func (e *Engine) forfeit(ctx context.Context, sessionID, userID uuid.UUID, reason string) error {
	return e.withSession(ctx, sessionID, func(s *models.Session) error {
		slot := s.Slot(userID)
		if slot == nil {
			return nil
		}
		e.clearDisconnect(userID)

		switch s.Status {
		case models.StatusWaiting, models.StatusStarting:
			removePlayer(s, userID)
			if s.Status == models.StatusStarting {
				s.Status = models.StatusWaiting
				e.abortCountdown(s.ID)
			}
			e.sink.Publish(s.ID, events.EventPlayerLeft, map[string]interface{}{
				"user_id": userID, "reason": reason,
			})
			return nil

		case models.StatusInProgress, models.StatusPaused:
			if slot.IsEliminated {
				return nil // cannot forfeit twice
			}
			wasCurrent := s.CurrentPlayerID == userID
			idx := turnIndexOf(s, userID)
			e.eliminate(s, slot, reason)
			if s.ActiveCount() <= 1 {
				s.WinnerID = lastActivePlayer(s)
				return e.completeLocked(ctx, s, "last_player_standing")
			}
			if s.Status == models.StatusInProgress && wasCurrent {
				e.advanceTurnFrom(s, idx-1)
			}
			return nil

		default:
			return nil
		}
	})
}

// CompleteSession drives a session to its terminal state. Idempotent:
// completion can race in from a winning move, an elimination, and the
// quick wall clock, and only the first runs settlement.
func (e *Engine) CompleteSession(ctx context.Context, sessionID uuid.UUID, reason string) error {
	return e.withSession(ctx, sessionID, func(s *models.Session) error {
		return e.completeLocked(ctx, s, reason)
	})
}

// completeLocked is the single completion path; the caller holds the
// session lock via withSession.
func (e *Engine) completeLocked(ctx context.Context, s *models.Session, reason string) error {
	if s.Status == models.StatusCompleted {
		return nil
	}

	// All clocks die with the session, synchronously, so no stale expiry
	// can act on a session that has moved on.
	e.clocks.ClearAll(s.ID)
	e.abortCountdown(s.ID)
	e.abortGraceCheck(s.ID)

	s.Status = models.StatusCompleted
	s.EndedAt = time.Now()

	ranking := e.rank(s)
	if s.WinnerID == uuid.Nil && len(ranking) > 0 {
		s.WinnerID = ranking[0]
	}

	settlements := e.settle(ctx, s, ranking)

	e.sink.Publish(s.ID, events.EventGameCompleted, map[string]interface{}{
		"reason":      reason,
		"ranking":     ranking,
		"winner_id":   s.WinnerID,
		"settlements": settlements,
	})
	e.log.WithFields(logrus.Fields{
		"session": s.ID, "reason": reason, "winner": s.WinnerID,
	}).Info("session completed")

	if e.ratings != nil && len(ranking) > 1 {
		if err := e.ratings.ApplyMatchResult(ctx, ranking); err != nil {
			e.log.WithField("session", s.ID).Warnf("rating update failed: %v", err)
		}
	}
	if e.archive != nil {
		if err := e.archive(ctx, s); err != nil {
			e.log.WithField("session", s.ID).Warnf("archival failed: %v", err)
		}
	}
	return nil
}

// rank orders players best-first per the variant: point variants rank by
// points with kills then tokens-home tie-breaks; piece variants rank by
// tokens home with fewest moves breaking ties.
func (e *Engine) rank(s *models.Session) []uuid.UUID {
	players := make([]*models.PlayerSlot, len(s.Players))
	for i := range s.Players {
		players[i] = &s.Players[i]
	}
	byPoints := board.RulesFor(s.Config.Variant).RanksByPoints()

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if s.WinnerID != uuid.Nil {
			if a.UserID == s.WinnerID {
				return true
			}
			if b.UserID == s.WinnerID {
				return false
			}
		}
		if byPoints {
			if a.Points != b.Points {
				return a.Points > b.Points
			}
			if a.Kills != b.Kills {
				return a.Kills > b.Kills
			}
			return a.TokensHome() > b.TokensHome()
		}
		if a.TokensHome() != b.TokensHome() {
			return a.TokensHome() > b.TokensHome()
		}
		return s.MovesBy(a.UserID) < s.MovesBy(b.UserID)
	})

	out := make([]uuid.UUID, len(players))
	for i, p := range players {
		out[i] = p.UserID
	}
	return out
}

// settle pays prizes exactly once per session. A ledger failure leaves the
// session COMPLETED but flagged for the retry sweep; it is never paid
// twice and never silently lost.
func (e *Engine) settle(ctx context.Context, s *models.Session, ranking []uuid.UUID) []ledger.Settlement {
	if s.Config.EntryFee <= 0 {
		return nil
	}

	exists, err := e.ledger.SettlementExists(ctx, s.ID)
	if err != nil {
		e.log.WithField("session", s.ID).Warnf("settlement lookup failed: %v", err)
		s.SettlementPending = true
		return nil
	}
	if exists {
		return nil
	}

	prizes := ledger.ComputePrizes(s.Config.EntryFee, len(s.Players))
	var settlements []ledger.Settlement
	for i, amount := range prizes {
		if i >= len(ranking) {
			break
		}
		settlements = append(settlements, ledger.Settlement{
			SessionID: s.ID,
			UserID:    ranking[i],
			Rank:      i + 1,
			Amount:    amount,
		})
	}
	if len(settlements) == 0 {
		return nil
	}

	if err := e.ledger.RecordSettlements(ctx, settlements); err != nil {
		e.log.WithField("session", s.ID).Errorf("settlement failed, flagged for retry: %v", err)
		s.SettlementPending = true
		return nil
	}
	s.SettlementPending = false
	return settlements
}

// SweepIdleWaiting closes WAITING rooms older than the idle timeout. Those
// sessions go straight to COMPLETED without passing through play, and with
// no fees taken there is nothing to settle.
func (e *Engine) SweepIdleWaiting(ctx context.Context) {
	sessions, err := e.store.FindByStatus(ctx, models.StatusWaiting)
	if err != nil {
		e.log.Warnf("idle sweep: listing waiting sessions failed: %v", err)
		return
	}
	cutoff := time.Now().Add(-e.cfg.IdleWaitingTimeout)
	for _, s := range sessions {
		if s.CreatedAt.After(cutoff) {
			continue
		}
		if err := e.CompleteSession(ctx, s.ID, "idle_timeout"); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.log.WithField("session", s.ID).Warnf("idle sweep completion failed: %v", err)
		}
	}
}

// RetryPendingSettlements re-runs settlement for completed sessions whose
// payout previously failed.
func (e *Engine) RetryPendingSettlements(ctx context.Context) {
	sessions, err := e.store.FindByStatus(ctx, models.StatusCompleted)
	if err != nil {
		e.log.Warnf("settlement sweep: listing completed sessions failed: %v", err)
		return
	}
	for _, snapshot := range sessions {
		if !snapshot.SettlementPending {
			continue
		}
		err := e.withSession(ctx, snapshot.ID, func(s *models.Session) error {
			if !s.SettlementPending {
				return nil
			}
			ranking := e.rank(s)
			e.settle(ctx, s, ranking)
			return nil
		})
		if err != nil {
			e.log.WithField("session", snapshot.ID).Warnf("settlement retry failed: %v", err)
		}
	}
}

// RunSweeps drives the background maintenance loops until ctx is done.
func (e *Engine) RunSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepIdleWaiting(ctx)
			e.RetryPendingSettlements(ctx)
		}
	}
}

// Cleanup cancels every engine-owned timer. Called at shutdown.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	for id, t := range e.countdowns {
		t.Stop()
		delete(e.countdowns, id)
	}
	for id, t := range e.graceChecks {
		t.Stop()
		delete(e.graceChecks, id)
	}
	for id, t := range e.forfeits {
		t.Stop()
		delete(e.forfeits, id)
	}
	e.disconnects = make(map[uuid.UUID]models.DisconnectionRecord)
	e.mu.Unlock()
	e.clocks.Cleanup()
}
