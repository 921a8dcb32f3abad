package models

import "github.com/google/uuid"

type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Password string    `json:"password,omitempty"`
	Region   string    `json:"region"`

	// Balance is the wallet balance in the smallest currency unit.
	Balance int64 `json:"balance"`

	SkillRating int `json:"skill_rating"`
	GamesPlayed int `json:"games_played"`

	// RecentPerfScore is a 0..20 rolling score of recent results, consumed
	// by the matchmaking scorer.
	RecentPerfScore float64 `json:"recent_perf_score"`
}
