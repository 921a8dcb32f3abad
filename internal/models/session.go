// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a game room.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusStarting   SessionStatus = "starting"
	StatusInProgress SessionStatus = "in_progress"
	StatusPaused     SessionStatus = "paused"
	StatusCompleted  SessionStatus = "completed"
)

// Variant is the ruleset family a session plays under.
type Variant string

const (
	VariantClassic Variant = "classic" // win by bringing all four pieces home
	VariantQuick   Variant = "quick"   // win by points within a wall-clock limit
	VariantKill    Variant = "kill"    // elimination by lives
)

// PieceFinished is the progress value of a piece that has reached the end of
// its path. PieceHome (0) means the piece has not entered the board yet.
const (
	PieceHome     = 0
	PieceFinished = 57
)

// SeatColors maps seat position to the fixed color for that seat.
var SeatColors = [4]string{"red", "green", "yellow", "blue"}

// PlayerSlot is one seated player inside a Session.
type PlayerSlot struct {
	UserID       uuid.UUID `json:"user_id"`
	SeatPosition int       `json:"seat_position"`
	Color        string    `json:"color"`
	Pieces       [4]int    `json:"pieces"` // per-piece path progress, 0..57
	Points       int       `json:"points"`
	Kills        int       `json:"kills"`
	Lives        int       `json:"lives"` // only meaningful for the kill variant
	IsReady      bool      `json:"is_ready"`
	IsActive     bool      `json:"is_active"`     // false while disconnected or eliminated
	IsEliminated bool      `json:"is_eliminated"` // permanently out; never reactivated
	JoinedAt     time.Time `json:"joined_at"`
	LastActionAt time.Time `json:"last_action_at"`
}

// TokensHome counts pieces that have finished the full path.
func (p *PlayerSlot) TokensHome() int {
	n := 0
	for _, pos := range p.Pieces {
		if pos == PieceFinished {
			n++
		}
	}
	return n
}

// MoveRecord is one applied move in a session's append-only history.
type MoveRecord struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PieceIndex int       `json:"piece_index"`
	DiceValue  int       `json:"dice_value"`
	FromPos    int       `json:"from_pos"`
	ToPos      int       `json:"to_pos"`
	Captures   int       `json:"captures"`
	AppliedAt  time.Time `json:"applied_at"`
}

// SessionConfig is the immutable per-room configuration chosen at creation.
type SessionConfig struct {
	Variant            Variant   `json:"variant"`
	MaxPlayers         int       `json:"max_players"` // 2..4
	MinPlayers         int       `json:"min_players"` // >=2, <= MaxPlayers
	EntryFee           int64     `json:"entry_fee"`   // smallest currency unit
	TurnTimeLimitSec   int       `json:"turn_time_limit_sec"`
	IsPrivate          bool      `json:"is_private"`
	Password           string    `json:"-"`
	GameTypeID         string    `json:"game_type_id"`
	PointThreshold     int       `json:"point_threshold,omitempty"`      // quick variant
	QuickGameClockSec  int       `json:"quick_game_clock_sec,omitempty"` // quick variant wall clock
	InitialLives       int       `json:"initial_lives,omitempty"`        // kill variant
}

// Session is a single game room and its full authoritative state.
type Session struct {
	ID       uuid.UUID     `json:"id"`
	RoomCode string        `json:"room_code"`
	Status   SessionStatus `json:"status"`
	Config   SessionConfig `json:"config"`

	Players []PlayerSlot `json:"players"`

	TurnOrder       []uuid.UUID `json:"turn_order"` // active players only, seat order
	CurrentPlayerID uuid.UUID   `json:"current_player_id"`
	DiceValue       int         `json:"dice_value"` // 0 => not yet rolled this turn
	WinnerID        uuid.UUID   `json:"winner_id"`  // Nil until completion

	MoveHistory []MoveRecord `json:"move_history"`

	SettlementPending bool `json:"settlement_pending"`

	// QuickRemainingSec preserves the quick variant's wall clock across a
	// pause. Zero while the clock is running or for other variants.
	QuickRemainingSec int `json:"quick_remaining_sec,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// Version supports optimistic concurrency in the session store.
	Version int64 `json:"version"`
}

// Slot returns the player slot for userID, or nil if not seated.
func (s *Session) Slot(userID uuid.UUID) *PlayerSlot {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			return &s.Players[i]
		}
	}
	return nil
}

// SlotBySeat returns the slot occupying seat, or nil.
func (s *Session) SlotBySeat(seat int) *PlayerSlot {
	for i := range s.Players {
		if s.Players[i].SeatPosition == seat {
			return &s.Players[i]
		}
	}
	return nil
}

// ActiveCount counts players currently marked active.
func (s *Session) ActiveCount() int {
	n := 0
	for i := range s.Players {
		if s.Players[i].IsActive {
			n++
		}
	}
	return n
}

// IsFull reports whether every seat is taken.
func (s *Session) IsFull() bool {
	return len(s.Players) >= s.Config.MaxPlayers
}

// Clone returns a deep copy, so stores can hand out snapshots that callers
// may mutate freely before saving.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Players = append([]PlayerSlot(nil), s.Players...)
	cp.TurnOrder = append([]uuid.UUID(nil), s.TurnOrder...)
	cp.MoveHistory = append([]MoveRecord(nil), s.MoveHistory...)
	return &cp
}

// MovesBy counts history entries applied by userID. Used for ranking
// tie-breaks in piece-based variants.
func (s *Session) MovesBy(userID uuid.UUID) int {
	n := 0
	for i := range s.MoveHistory {
		if s.MoveHistory[i].PlayerID == userID {
			n++
		}
	}
	return n
}
