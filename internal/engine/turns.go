// internal/engine/turns.go
//
// Turn progression: rolling, moving, bonus turns, and timeout handling.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/board"
	"github.com/ludoroyale/server/internal/clock"
	"github.com/ludoroyale/server/internal/events"
	"github.com/ludoroyale/server/internal/models"
	"github.com/ludoroyale/server/internal/store"
)

// startTurnClock arms the countdown for the session's current player.
func (e *Engine) startTurnClock(s *models.Session) {
	duration := time.Duration(s.Config.TurnTimeLimitSec) * time.Second
	e.clocks.Start(s.ID, s.CurrentPlayerID, duration, e.onTick, e.onTurnExpiry)
}

func (e *Engine) onTick(key clock.Key, remainingSec int) {
	e.sink.Publish(key.SessionID, events.EventTurnTimeTick, map[string]interface{}{
		"player_id":     key.PlayerID,
		"remaining_sec": remainingSec,
	})
}

func (e *Engine) onTurnExpiry(key clock.Key) {
	if err := e.handleTurnTimeout(context.Background(), key.SessionID, key.PlayerID); err != nil {
		// The handler boundary: log, never propagate into the scheduler.
		e.log.WithFields(logrus.Fields{
			"session": key.SessionID, "player": key.PlayerID,
		}).Warnf("turn timeout handling failed: %v", err)
	}
}

// startWallClock arms the quick variant's whole-game countdown. It shares
// the clock manager under the nil player id, so ClearAll covers it.
func (e *Engine) startWallClock(sessionID uuid.UUID, duration time.Duration) {
	e.clocks.Start(sessionID, uuid.Nil, duration, nil, func(key clock.Key) {
		if err := e.CompleteSession(context.Background(), key.SessionID, "wall_clock_expired"); err != nil {
			e.log.WithField("session", key.SessionID).Warnf("wall clock completion failed: %v", err)
		}
	})
}

// RollDice rolls for the current player. A roll with no legal move passes
// the turn immediately; otherwise the turn clock keeps running unchanged,
// since roll and move share one countdown.
func (e *Engine) RollDice(ctx context.Context, sessionID, playerID uuid.UUID) (int, error) {
	var rolled int
	err := e.withSession(ctx, sessionID, func(s *models.Session) error {
		if s.Status != models.StatusInProgress {
			return ErrNotInProgress
		}
		if s.CurrentPlayerID != playerID {
			return ErrNotYourTurn
		}
		if s.DiceValue != 0 {
			return ErrDiceAlreadyRolled
		}
		slot := s.Slot(playerID)
		if slot == nil || !slot.IsActive {
			return ErrNotSeated
		}

		rolled = e.RollFn()
		s.DiceValue = rolled
		slot.LastActionAt = time.Now()

		movable := board.EnumerateLegalMoves(slot.Pieces, rolled, slot.SeatPosition, len(s.Players))
		e.sink.Publish(s.ID, events.EventDiceRolled, map[string]interface{}{
			"player_id":  playerID,
			"dice_value": rolled,
			"movable":    movable,
		})

		if len(movable) == 0 {
			e.advanceTurn(s)
		}
		return nil
	})
	return rolled, err
}

// MovePiece applies the pending roll to one of the player's pieces:
// position update, captures, scoring, win check, and the keep-or-pass turn
// decision.
func (e *Engine) MovePiece(ctx context.Context, sessionID, playerID uuid.UUID, pieceIndex int) error {
	return e.withSession(ctx, sessionID, func(s *models.Session) error {
		if s.Status != models.StatusInProgress {
			return ErrNotInProgress
		}
		if s.CurrentPlayerID != playerID {
			return ErrNotYourTurn
		}
		if s.DiceValue == 0 {
			return ErrDiceNotRolled
		}
		slot := s.Slot(playerID)
		if slot == nil || !slot.IsActive {
			return ErrNotSeated
		}
		if pieceIndex < 0 || pieceIndex > 3 {
			return ErrIllegalMove
		}

		total := len(s.Players)
		from := slot.Pieces[pieceIndex]
		next, ok := board.NextPosition(from, s.DiceValue, slot.SeatPosition, total)
		if !ok {
			return ErrIllegalMove
		}

		dice := s.DiceValue
		slot.Pieces[pieceIndex] = next
		slot.LastActionAt = time.Now()

		captures := board.ResolveCaptures(s.Players, next, slot.SeatPosition, total)
		for _, c := range captures {
			victim := s.Slot(c.UserID)
			victim.Pieces[c.PieceIndex] = models.PieceHome
			e.sink.Publish(s.ID, events.EventPlayerCaptured, map[string]interface{}{
				"captured_user": c.UserID,
				"piece_index":   c.PieceIndex,
				"by":            playerID,
			})
		}
		slot.Kills += len(captures)

		rules := board.RulesFor(s.Config.Variant)
		slot.Points += rules.ScoreMove(from, next, len(captures))

		s.MoveHistory = append(s.MoveHistory, models.MoveRecord{
			PlayerID:   playerID,
			PieceIndex: pieceIndex,
			DiceValue:  dice,
			FromPos:    from,
			ToPos:      next,
			Captures:   len(captures),
			AppliedAt:  time.Now(),
		})

		reachedHome := next == models.PieceFinished
		e.sink.Publish(s.ID, events.EventPieceMoved, map[string]interface{}{
			"player_id":   playerID,
			"piece_index": pieceIndex,
			"from":        from,
			"to":          next,
			"captures":    len(captures),
			"points":      slot.Points,
		})

		if rules.HasWon(slot, s.Config.PointThreshold) {
			s.WinnerID = playerID
			return e.completeLocked(ctx, s, "won")
		}

		// Bonus turn: the trigger must be earned this move and the player
		// must still have something to do with a fresh max roll.
		earned := dice == board.MaxDie || len(captures) > 0 || reachedHome
		canAct := len(board.EnumerateLegalMoves(slot.Pieces, board.MaxDie, slot.SeatPosition, total)) > 0
		if earned && canAct {
			s.DiceValue = 0
			// No live clock means the expiry already fired and its handler
			// will pass the turn; announcing a reset would contradict it.
			if e.clocks.ResetForBonus(s.ID, playerID) {
				e.sink.Publish(s.ID, events.EventTurnTimeReset, map[string]interface{}{
					"player_id": playerID,
				})
			}
			return nil
		}

		e.advanceTurn(s)
		return nil
	})
}

// advanceTurn passes play to the next active player in turn order, swapping
// the live clock over. Emits turn_changed; never called for bonus turns.
func (e *Engine) advanceTurn(s *models.Session) {
	e.advanceTurnFrom(s, turnIndexOf(s, s.CurrentPlayerID))
}

// advanceTurnFrom starts the scan for the next player at position cur in
// turn order. Callers that eliminate the current player pass the position
// they vacated (their old index minus one, since removal shifted the tail
// left), so the turn continues around the table instead of snapping back to
// seat zero.
func (e *Engine) advanceTurnFrom(s *models.Session, cur int) {
	next := nextActivePlayerFrom(s, cur)
	if next == uuid.Nil {
		return
	}
	prev := s.CurrentPlayerID
	s.DiceValue = 0
	s.CurrentPlayerID = next

	e.clocks.Clear(s.ID, prev)
	e.startTurnClock(s)

	e.sink.Publish(s.ID, events.EventTurnChanged, map[string]interface{}{
		"current_player": next,
		"previous":       prev,
	})
}

// turnIndexOf returns the player's position in the turn order, or -1.
func turnIndexOf(s *models.Session, id uuid.UUID) int {
	for i, v := range s.TurnOrder {
		if v == id {
			return i
		}
	}
	return -1
}

// nextActivePlayerFrom finds the next turn-order entry after position cur
// whose slot is still active.
func nextActivePlayerFrom(s *models.Session, cur int) uuid.UUID {
	n := len(s.TurnOrder)
	if n == 0 {
		return uuid.Nil
	}
	if cur < -1 {
		cur = -1
	}
	for step := 1; step <= n; step++ {
		candidate := s.TurnOrder[(cur+step)%n]
		slot := s.Slot(candidate)
		if slot != nil && slot.IsActive && candidate != s.CurrentPlayerID {
			return candidate
		}
	}
	return uuid.Nil
}

// handleTurnTimeout runs when a turn clock expires. The clock has already
// removed itself, so this only mutates game state: forfeit the turn, and in
// the kill variant burn a life, eliminating at zero.
func (e *Engine) handleTurnTimeout(ctx context.Context, sessionID, playerID uuid.UUID) error {
	err := e.withSession(ctx, sessionID, func(s *models.Session) error {
		if s.Status != models.StatusInProgress || s.CurrentPlayerID != playerID {
			// A move or pause won the race against this expiry.
			return nil
		}
		slot := s.Slot(playerID)
		if slot == nil {
			return nil
		}

		rules := board.RulesFor(s.Config.Variant)
		payload := map[string]interface{}{"player_id": playerID}
		if rules.TimeoutCostsLife() {
			slot.Lives--
			payload["lives_left"] = slot.Lives
		}
		e.sink.Publish(s.ID, events.EventTurnTimeout, payload)

		if rules.TimeoutCostsLife() && slot.Lives <= 0 {
			idx := turnIndexOf(s, playerID)
			e.eliminate(s, slot, "out_of_lives")
			if s.ActiveCount() <= 1 {
				s.WinnerID = lastActivePlayer(s)
				return e.completeLocked(ctx, s, "last_player_standing")
			}
			e.advanceTurnFrom(s, idx-1)
			return nil
		}

		e.advanceTurn(s)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// Session vanished before the expiry ran; nothing left to clean,
		// the clock removed itself already.
		e.log.WithField("session", sessionID).Debug("timeout fired for a missing session")
		return nil
	}
	return err
}

// lastActivePlayer returns the sole remaining active player, or Nil.
func lastActivePlayer(s *models.Session) uuid.UUID {
	for i := range s.Players {
		if s.Players[i].IsActive {
			return s.Players[i].UserID
		}
	}
	return uuid.Nil
}

// eliminate marks a player out of the game and drops them from turn order.
// Elimination is final: Reconnect refuses to reactivate the slot.
func (e *Engine) eliminate(s *models.Session, slot *models.PlayerSlot, reason string) {
	slot.IsActive = false
	slot.IsEliminated = true
	for i, id := range s.TurnOrder {
		if id == slot.UserID {
			s.TurnOrder = append(s.TurnOrder[:i], s.TurnOrder[i+1:]...)
			break
		}
	}
	e.clocks.Clear(s.ID, slot.UserID)
	e.sink.Publish(s.ID, events.EventPlayerForfeited, map[string]interface{}{
		"player_id": slot.UserID,
		"reason":    reason,
	})
}
