// internal/models/matchmaking.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchmakingEntry is one player waiting in the matchmaking queue.
// A user holds at most one entry at a time; re-queueing replaces the old one.
type MatchmakingEntry struct {
	UserID           uuid.UUID `json:"user_id"`
	SkillRating      int       `json:"skill_rating"`
	GamesPlayed      int       `json:"games_played"`
	RecentPerfScore  float64   `json:"recent_perf_score"` // 0..20
	PreferredVariant Variant   `json:"preferred_variant"`
	Region           string    `json:"region"`
	GameTypeID       string    `json:"game_type_id"`
	MaxPlayers       int       `json:"max_players"`
	MinPlayers       int       `json:"min_players"`
	EntryFee         int64     `json:"entry_fee"`
	JoinedAt         time.Time `json:"joined_at"`
}

// DisconnectionRecord tracks a player who dropped mid-game and the window
// they have to reconnect before being forfeited.
type DisconnectionRecord struct {
	UserID             uuid.UUID `json:"user_id"`
	SessionID          uuid.UUID `json:"session_id"`
	DisconnectedAt     time.Time `json:"disconnected_at"`
	ReconnectWindowSec int       `json:"reconnect_window_sec"`
}
