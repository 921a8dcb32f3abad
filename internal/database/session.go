package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ludoroyale/server/internal/ledger"
	"github.com/ludoroyale/server/internal/models"
)

// ArchiveSession upserts a completed session record, including its final
// player slots and move history as JSON. Safe to call again on retry.
func ArchiveSession(ctx context.Context, s *models.Session) error {
	players, err := json.Marshal(s.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal players: %w", err)
	}
	moves, err := json.Marshal(s.MoveHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal move history: %w", err)
	}

	q := `
	INSERT INTO sessions (id, room_code, status, variant, game_type_id, entry_fee,
	                      winner_id, players, move_history, created_at, ended_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE
	SET status=EXCLUDED.status,
	    winner_id=EXCLUDED.winner_id,
	    players=EXCLUDED.players,
	    move_history=EXCLUDED.move_history,
	    ended_at=EXCLUDED.ended_at
	`
	var winner interface{}
	if s.WinnerID != uuid.Nil {
		winner = s.WinnerID
	}

	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			s.ID, s.RoomCode, s.Status, s.Config.Variant, s.Config.GameTypeID, s.Config.EntryFee,
			winner, players, moves, s.CreatedAt, s.EndedAt,
		)
		return execErr
	})
}

// InsertSettlements records payouts for a completed session. The unique
// constraint on (session_id, rank) plus DO NOTHING makes replays harmless,
// so a retried completion never double-pays.
func InsertSettlements(ctx context.Context, settlements []ledger.Settlement) error {
	q := `
	INSERT INTO settlements (session_id, user_id, rank, amount)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (session_id, rank) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, st := range settlements {
			tag, err := tx.Exec(ctx, q, st.SessionID, st.UserID, st.Rank, st.Amount)
			if err != nil {
				return fmt.Errorf("failed to insert settlement rank %d: %w", st.Rank, err)
			}
			if tag.RowsAffected() == 0 {
				continue // already settled
			}
			_, err = tx.Exec(ctx, `UPDATE users SET balance = balance + $1 WHERE id=$2`, st.Amount, st.UserID)
			if err != nil {
				return fmt.Errorf("failed to credit settlement rank %d: %w", st.Rank, err)
			}
		}
		return nil
	})
}

// SettlementExists reports whether any payout row exists for the session.
func SettlementExists(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM settlements WHERE session_id=$1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query settlements: %w", err)
	}
	return exists, nil
}
