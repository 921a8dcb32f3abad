// internal/board/board_test.go
package board

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoroyale/server/internal/models"
)

func TestNextPositionFromHome(t *testing.T) {
	// Only the max roll enters a piece from the home yard.
	for die := 1; die < MaxDie; die++ {
		_, ok := NextPosition(models.PieceHome, die, 0, 4)
		assert.False(t, ok, "die %d should not enter from home", die)
	}
	next, ok := NextPosition(models.PieceHome, MaxDie, 0, 4)
	require.True(t, ok)
	assert.Equal(t, 1, next)
}

func TestNextPositionOvershoot(t *testing.T) {
	// 55 + 2 = 57 lands exactly; 55 + 3 overshoots and is no move.
	next, ok := NextPosition(55, 2, 1, 4)
	require.True(t, ok)
	assert.Equal(t, models.PieceFinished, next)

	_, ok = NextPosition(55, 3, 1, 4)
	assert.False(t, ok)

	_, ok = NextPosition(models.PieceFinished, 1, 1, 4)
	assert.False(t, ok, "finished piece never moves")
}

func TestEnumerateLegalMoves(t *testing.T) {
	pieces := [4]int{models.PieceHome, 10, 56, models.PieceFinished}

	// With a 3: piece 0 can't enter, piece 2 overshoots, piece 3 finished.
	assert.Equal(t, []int{1}, EnumerateLegalMoves(pieces, 3, 0, 4))

	// With a 6: piece 0 enters, piece 1 advances; 56+6 overshoots.
	assert.Equal(t, []int{0, 1}, EnumerateLegalMoves(pieces, 6, 0, 4))

	// 56+1 finishes.
	assert.Equal(t, []int{1, 2}, EnumerateLegalMoves(pieces, 1, 0, 4))
}

func TestRingPositionSeatOffsets(t *testing.T) {
	// Progress 1 is the seat's own entry square.
	assert.Equal(t, 0, RingPosition(1, 0, 4))
	assert.Equal(t, 13, RingPosition(1, 1, 4))
	assert.Equal(t, 26, RingPosition(1, 2, 4))
	assert.Equal(t, 39, RingPosition(1, 3, 4))

	// Two-player boards seat the second player opposite.
	assert.Equal(t, 26, RingPosition(1, 1, 2))

	// Ring wraps.
	assert.Equal(t, 0, RingPosition(14, 3, 4))

	// Off-ring positions have no shared coordinate.
	assert.Equal(t, -1, RingPosition(models.PieceHome, 0, 4))
	assert.Equal(t, -1, RingPosition(52, 0, 4))
	assert.Equal(t, -1, RingPosition(models.PieceFinished, 0, 4))
}

func TestResolveCaptures(t *testing.T) {
	mover := models.PlayerSlot{UserID: uuid.New(), SeatPosition: 0}
	victim := models.PlayerSlot{UserID: uuid.New(), SeatPosition: 1}

	// Seat 1 progress 3 sits at ring 15; seat 0 reaches ring 15 at progress 16.
	victim.Pieces = [4]int{3, models.PieceHome, models.PieceHome, models.PieceHome}
	players := []models.PlayerSlot{mover, victim}

	caps := ResolveCaptures(players, 16, 0, 4)
	require.Len(t, caps, 1)
	assert.Equal(t, victim.UserID, caps[0].UserID)
	assert.Equal(t, 0, caps[0].PieceIndex)
}

func TestResolveCapturesSafeSquare(t *testing.T) {
	mover := models.PlayerSlot{UserID: uuid.New(), SeatPosition: 0}
	victim := models.PlayerSlot{UserID: uuid.New(), SeatPosition: 1}

	// Ring 13 is seat 1's entry square and is safe. Seat 0 reaches it at
	// progress 14; seat 1 sits on it at progress 1.
	victim.Pieces = [4]int{1, models.PieceHome, models.PieceHome, models.PieceHome}
	players := []models.PlayerSlot{mover, victim}

	assert.Empty(t, ResolveCaptures(players, 14, 0, 4))
}

func TestResolveCapturesNeverOwnPieces(t *testing.T) {
	mover := models.PlayerSlot{UserID: uuid.New(), SeatPosition: 0}
	mover.Pieces = [4]int{16, models.PieceHome, models.PieceHome, models.PieceHome}
	players := []models.PlayerSlot{mover}

	assert.Empty(t, ResolveCaptures(players, 16, 0, 4))
}

func TestHasWonIgnoresPoints(t *testing.T) {
	all := [4]int{models.PieceFinished, models.PieceFinished, models.PieceFinished, models.PieceFinished}
	assert.True(t, HasWon(all))

	almost := all
	almost[3] = 56
	assert.False(t, HasWon(almost))
}

func TestScoreMove(t *testing.T) {
	// Plain advance: distance only.
	assert.Equal(t, 4, ScoreMove(10, 14, 0))
	// Capture bonus.
	assert.Equal(t, 4+capturePointsBonus, ScoreMove(10, 14, 1))
	// Home arrival bonus.
	assert.Equal(t, 2+homeArrivalBonus, ScoreMove(55, models.PieceFinished, 0))
}

func TestVariantRulesWinConditions(t *testing.T) {
	finished := models.PlayerSlot{
		Pieces: [4]int{models.PieceFinished, models.PieceFinished, models.PieceFinished, models.PieceFinished},
	}
	rich := models.PlayerSlot{Points: 500}

	classic := RulesFor(models.VariantClassic)
	assert.True(t, classic.HasWon(&finished, 100))
	assert.False(t, classic.HasWon(&rich, 100), "classic never ends by points")

	quick := RulesFor(models.VariantQuick)
	assert.True(t, quick.HasWon(&rich, 100))
	assert.False(t, quick.HasWon(&finished, 100), "quick never ends by pieces")

	kill := RulesFor(models.VariantKill)
	assert.True(t, kill.TimeoutCostsLife())
	assert.True(t, kill.HasWon(&finished, 0))
}

func TestQuickVariantStartsOnRing(t *testing.T) {
	quick := RulesFor(models.VariantQuick)
	assert.Equal(t, [4]int{1, 1, 1, 1}, quick.StartingPieces(2, 4))

	classic := RulesFor(models.VariantClassic)
	assert.Equal(t, [4]int{0, 0, 0, 0}, classic.StartingPieces(2, 4))
}
