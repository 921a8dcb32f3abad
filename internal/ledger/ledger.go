// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrInsufficientFunds means a debit would push a balance negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Settlement is one rank's payout for a completed session.
type Settlement struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Rank      int       `json:"rank"`
	Amount    int64     `json:"amount"`
}

// Ledger moves money. Debits are all-or-nothing per call; RecordSettlements
// must be idempotent per (session, rank) so a retried completion never pays
// twice.
type Ledger interface {
	Debit(ctx context.Context, userID uuid.UUID, amount int64, reason string) error
	Credit(ctx context.Context, userID uuid.UUID, amount int64, reason string) error
	RecordSettlements(ctx context.Context, settlements []Settlement) error
	SettlementExists(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// MemoryLedger is an in-process Ledger for tests and standalone runs.
type MemoryLedger struct {
	mu          sync.Mutex
	balances    map[uuid.UUID]int64
	settlements map[uuid.UUID]map[int]Settlement // sessionID -> rank -> settlement

	// FailSettlements forces RecordSettlements to error, for exercising the
	// settlement retry path.
	FailSettlements error
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:    make(map[uuid.UUID]int64),
		settlements: make(map[uuid.UUID]map[int]Settlement),
	}
}

// Deposit seeds a balance.
func (m *MemoryLedger) Deposit(userID uuid.UUID, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
}

func (m *MemoryLedger) Balance(userID uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *MemoryLedger) Debit(ctx context.Context, userID uuid.UUID, amount int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return ErrInsufficientFunds
	}
	m.balances[userID] -= amount
	return nil
}

func (m *MemoryLedger) Credit(ctx context.Context, userID uuid.UUID, amount int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return nil
}

// RecordSettlements credits each payout and records it, skipping any
// (session, rank) pair already recorded.
func (m *MemoryLedger) RecordSettlements(ctx context.Context, settlements []Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSettlements != nil {
		return m.FailSettlements
	}
	for _, st := range settlements {
		byRank, ok := m.settlements[st.SessionID]
		if !ok {
			byRank = make(map[int]Settlement)
			m.settlements[st.SessionID] = byRank
		}
		if _, dup := byRank[st.Rank]; dup {
			continue
		}
		byRank[st.Rank] = st
		m.balances[st.UserID] += st.Amount
	}
	return nil
}

func (m *MemoryLedger) SettlementExists(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.settlements[sessionID]) > 0, nil
}
