package database

import (
	"context"

	"github.com/google/uuid"

	"github.com/ludoroyale/server/internal/ledger"
)

// Ledger is the pgx-backed implementation of ledger.Ledger, using the
// global pool.
type Ledger struct{}

var _ ledger.Ledger = Ledger{}

func (Ledger) Debit(ctx context.Context, userID uuid.UUID, amount int64, reason string) error {
	return AdjustBalance(ctx, userID, -amount, reason)
}

func (Ledger) Credit(ctx context.Context, userID uuid.UUID, amount int64, reason string) error {
	return AdjustBalance(ctx, userID, amount, reason)
}

func (Ledger) RecordSettlements(ctx context.Context, settlements []ledger.Settlement) error {
	return InsertSettlements(ctx, settlements)
}

func (Ledger) SettlementExists(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	return SettlementExists(ctx, sessionID)
}
