// internal/board/board.go
//
// Pure path arithmetic for the shared board. A piece's progress is its
// logical distance along its own path: 0 = home yard, 1..51 = shared ring,
// 52..56 = private home column, 57 = finished. Different seats enter the
// ring at different physical squares, so capture resolution maps progress
// onto a shared ring coordinate first.
package board

import (
	"github.com/google/uuid"

	"github.com/ludoroyale/server/internal/models"
)

const (
	// RingSize is the number of squares on the shared outer ring.
	RingSize = 52

	// MaxDie is the highest die face; rolling it enters a piece from home
	// and grants a bonus turn.
	MaxDie = 6

	// ringEnd is the last progress value still on the shared ring.
	ringEnd = 51
)

// Scoring bonuses for ScoreMove.
const (
	pointsPerSquare    = 1
	capturePointsBonus = 10
	homeArrivalBonus   = 25
)

// safeSquares are ring coordinates where pieces cannot be captured:
// the four entry squares and the four star squares.
var safeSquares = map[int]bool{
	0: true, 8: true, 13: true, 21: true,
	26: true, 34: true, 39: true, 47: true,
}

// StartOffset returns the ring coordinate of a seat's entry square.
// Two-player boards seat players on opposite arms.
func StartOffset(seat, totalPlayers int) int {
	if totalPlayers == 2 && seat == 1 {
		return 26
	}
	return seat * 13
}

// RingPosition maps a piece's progress onto the shared ring coordinate
// space, or -1 if the piece is off the ring (home yard, home column, or
// finished). Pieces off the ring can neither capture nor be captured.
func RingPosition(progress, seat, totalPlayers int) int {
	if progress < 1 || progress > ringEnd {
		return -1
	}
	return (StartOffset(seat, totalPlayers) + progress - 1) % RingSize
}

// IsSafeSquare reports whether the given ring coordinate is capture-proof.
func IsSafeSquare(ringPos int) bool {
	return safeSquares[ringPos]
}

// NextPosition computes where a piece at current progress lands with the
// given die value. ok is false when the piece has no legal advance: a
// home-yard piece without the max roll, a finished piece, or a move that
// would overshoot the finish.
func NextPosition(current, diceValue, seat, totalPlayers int) (next int, ok bool) {
	if diceValue < 1 || diceValue > MaxDie {
		return current, false
	}
	switch {
	case current == models.PieceHome:
		if diceValue != MaxDie {
			return current, false
		}
		return 1, true
	case current >= models.PieceFinished:
		return current, false
	default:
		target := current + diceValue
		if target > models.PieceFinished {
			return current, false
		}
		return target, true
	}
}

// IsLegalMove reports whether the piece can advance at all with diceValue.
func IsLegalMove(current, diceValue, seat, totalPlayers int) bool {
	_, ok := NextPosition(current, diceValue, seat, totalPlayers)
	return ok
}

// EnumerateLegalMoves returns the indices of pieces that have a legal move
// for the rolled value, in piece order.
func EnumerateLegalMoves(pieces [4]int, diceValue, seat, totalPlayers int) []int {
	var movable []int
	for i, pos := range pieces {
		if IsLegalMove(pos, diceValue, seat, totalPlayers) {
			movable = append(movable, i)
		}
	}
	return movable
}

// Capture identifies one opponent piece removed by a landing.
type Capture struct {
	UserID     uuid.UUID
	PieceIndex int
}

// ResolveCaptures returns every opponent piece occupying the mover's
// landing square. Captures never apply on safe squares, in the home
// column, or against the mover's own pieces.
func ResolveCaptures(players []models.PlayerSlot, landingProgress, movingSeat, totalPlayers int) []Capture {
	landing := RingPosition(landingProgress, movingSeat, totalPlayers)
	if landing < 0 || IsSafeSquare(landing) {
		return nil
	}
	var captured []Capture
	for i := range players {
		p := &players[i]
		if p.SeatPosition == movingSeat {
			continue
		}
		for idx, pos := range p.Pieces {
			if RingPosition(pos, p.SeatPosition, totalPlayers) == landing {
				captured = append(captured, Capture{UserID: p.UserID, PieceIndex: idx})
			}
		}
	}
	return captured
}

// HasWon reports the piece-based win condition: all four pieces finished.
// Accumulated points never end a piece-based game.
func HasWon(pieces [4]int) bool {
	for _, pos := range pieces {
		if pos != models.PieceFinished {
			return false
		}
	}
	return true
}

// HasWonByPoints reports the point-based win condition for point variants.
func HasWonByPoints(points, threshold int) bool {
	return threshold > 0 && points >= threshold
}

// ScoreMove computes the points delta for an applied move: distance
// travelled plus capture and home-arrival bonuses. Deterministic in its
// inputs.
func ScoreMove(fromPos, toPos, capturedCount int) int {
	points := (toPos - fromPos) * pointsPerSquare
	points += capturedCount * capturePointsBonus
	if toPos == models.PieceFinished {
		points += homeArrivalBonus
	}
	return points
}
