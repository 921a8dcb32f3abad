// internal/rating/elo.go
package rating

import (
	"math"

	"github.com/ludoroyale/server/internal/models"
)

const (
	// KFactor is the maximum rating movement per pairwise comparison.
	KFactor = 32

	// perfScoreMax caps the rolling recent-performance score consumed by
	// matchmaking.
	perfScoreMax = 20.0

	// perfScoreDecay is how much of the previous rolling score survives each
	// game.
	perfScoreDecay = 0.8
)

// expectedScore is the standard Elo expectation of a beating b.
func expectedScore(a, b int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
}

// ApplyRanked updates ratings for a finished game. Users must be ordered by
// final rank, best first. Every pair is treated as a decided head-to-head:
// the better-ranked player scored 1, the worse-ranked 0, so a four-player
// game is three pairwise comparisons for each player. Updates are computed
// against pre-game ratings, then applied at once.
func ApplyRanked(ranked []models.User) []models.User {
	n := len(ranked)
	if n < 2 {
		return ranked
	}

	deltas := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			exp := expectedScore(ranked[i].SkillRating, ranked[j].SkillRating)
			deltas[i] += KFactor * (1 - exp)
			deltas[j] += KFactor * (0 - (1 - exp))
		}
	}

	out := make([]models.User, n)
	for i, u := range ranked {
		u.SkillRating += int(math.Round(deltas[i]))
		if u.SkillRating < 0 {
			u.SkillRating = 0
		}
		u.GamesPlayed++
		u.RecentPerfScore = rollPerfScore(u.RecentPerfScore, i+1, n)
		out[i] = u
	}
	return out
}

// rollPerfScore folds this game's placement into the rolling 0..20 score.
// Winning a full table is worth the maximum; last place is worth zero.
func rollPerfScore(prev float64, rank, players int) float64 {
	gameScore := perfScoreMax * float64(players-rank) / float64(players-1)
	next := prev*perfScoreDecay + gameScore*(1-perfScoreDecay)
	if next > perfScoreMax {
		next = perfScoreMax
	}
	if next < 0 {
		next = 0
	}
	return next
}
