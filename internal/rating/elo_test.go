// internal/rating/elo_test.go
package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoroyale/server/internal/models"
)

func TestApplyRankedHeadToHead(t *testing.T) {
	out := ApplyRanked([]models.User{
		{SkillRating: 1200},
		{SkillRating: 1200},
	})
	require.Len(t, out, 2)
	assert.Equal(t, 1216, out[0].SkillRating, "even-odds winner gains K/2")
	assert.Equal(t, 1184, out[1].SkillRating)
	assert.Equal(t, 1, out[0].GamesPlayed)
}

func TestApplyRankedUpsetMovesMore(t *testing.T) {
	// A much lower-rated player finishing first gains more than an
	// even-odds winner would.
	out := ApplyRanked([]models.User{
		{SkillRating: 1000},
		{SkillRating: 1400},
	})
	assert.Greater(t, out[0].SkillRating-1000, 16)
	assert.Less(t, out[1].SkillRating, 1400)
}

func TestApplyRankedFourPlayerMonotone(t *testing.T) {
	out := ApplyRanked([]models.User{
		{SkillRating: 1200},
		{SkillRating: 1200},
		{SkillRating: 1200},
		{SkillRating: 1200},
	})
	require.Len(t, out, 4)
	// Equal ratings: rank order fully determines the rating order.
	for i := 1; i < 4; i++ {
		assert.Greater(t, out[i-1].SkillRating, out[i].SkillRating)
	}
	// Zero-sum across the table.
	total := 0
	for _, u := range out {
		total += u.SkillRating
	}
	assert.Equal(t, 4800, total)
}

func TestApplyRankedRatingFloor(t *testing.T) {
	out := ApplyRanked([]models.User{
		{SkillRating: 1400},
		{SkillRating: 5},
	})
	assert.GreaterOrEqual(t, out[1].SkillRating, 0)
}

func TestRollPerfScore(t *testing.T) {
	// Winning a 4p table from zero history.
	s := rollPerfScore(0, 1, 4)
	assert.InDelta(t, 4.0, s, 0.001)

	// Last place decays the score toward zero.
	s = rollPerfScore(10, 4, 4)
	assert.InDelta(t, 8.0, s, 0.001)

	// The rolling score never exceeds the cap.
	s = perfScoreMax
	for i := 0; i < 50; i++ {
		s = rollPerfScore(s, 1, 2)
	}
	assert.LessOrEqual(t, s, perfScoreMax)
}
