// internal/board/variant.go
package board

import "github.com/ludoroyale/server/internal/models"

// DefaultLives is the starting life count for the kill variant.
const DefaultLives = 3

// DefaultPointThreshold ends a quick game early if a player reaches it
// before the wall clock expires.
const DefaultPointThreshold = 100

// Rules is the single dispatch point for variant-specific behavior. Each
// variant implements it once; callers never branch on the variant enum.
type Rules interface {
	Variant() models.Variant

	// StartingPieces seeds a seat's pieces when the game enters play.
	StartingPieces(seat, totalPlayers int) [4]int

	// HasWon checks the variant's win condition for one player. The two
	// win conditions are mutually exclusive: piece variants ignore the
	// point threshold entirely, the quick variant ignores piece state.
	HasWon(slot *models.PlayerSlot, pointThreshold int) bool

	// ScoreMove computes the points delta for a move.
	ScoreMove(fromPos, toPos, capturedCount int) int

	// TimeoutCostsLife reports whether a turn timeout deducts a life
	// rather than merely forfeiting the turn.
	TimeoutCostsLife() bool

	// RanksByPoints selects the final-ranking comparator: points (with
	// kills then tokens-home tie-breaks) versus tokens-home (with
	// fewest-moves tie-break).
	RanksByPoints() bool

	// WallClockLimited reports whether the session runs a fixed-duration
	// game clock that forces completion on expiry.
	WallClockLimited() bool
}

// RulesFor returns the rules implementation for a variant. Unknown
// variants fall back to classic.
func RulesFor(v models.Variant) Rules {
	switch v {
	case models.VariantQuick:
		return quickRules{}
	case models.VariantKill:
		return killRules{}
	default:
		return classicRules{}
	}
}

type classicRules struct{}

func (classicRules) Variant() models.Variant { return models.VariantClassic }

func (classicRules) StartingPieces(seat, totalPlayers int) [4]int {
	return [4]int{models.PieceHome, models.PieceHome, models.PieceHome, models.PieceHome}
}

func (classicRules) HasWon(slot *models.PlayerSlot, pointThreshold int) bool {
	return HasWon(slot.Pieces)
}

func (classicRules) ScoreMove(fromPos, toPos, capturedCount int) int {
	return ScoreMove(fromPos, toPos, capturedCount)
}

func (classicRules) TimeoutCostsLife() bool { return false }
func (classicRules) RanksByPoints() bool    { return false }
func (classicRules) WallClockLimited() bool { return false }

// quickRules pre-positions every piece on the seat's entry square and ends
// the game by points, either at the threshold or when the wall clock runs
// out.
type quickRules struct{}

func (quickRules) Variant() models.Variant { return models.VariantQuick }

func (quickRules) StartingPieces(seat, totalPlayers int) [4]int {
	return [4]int{1, 1, 1, 1}
}

func (quickRules) HasWon(slot *models.PlayerSlot, pointThreshold int) bool {
	if pointThreshold <= 0 {
		pointThreshold = DefaultPointThreshold
	}
	return HasWonByPoints(slot.Points, pointThreshold)
}

func (quickRules) ScoreMove(fromPos, toPos, capturedCount int) int {
	return ScoreMove(fromPos, toPos, capturedCount)
}

func (quickRules) TimeoutCostsLife() bool { return false }
func (quickRules) RanksByPoints() bool    { return true }
func (quickRules) WallClockLimited() bool { return true }

// killRules plays the classic piece race but each turn timeout burns a
// life; at zero lives the player is eliminated.
type killRules struct{}

func (killRules) Variant() models.Variant { return models.VariantKill }

func (killRules) StartingPieces(seat, totalPlayers int) [4]int {
	return [4]int{models.PieceHome, models.PieceHome, models.PieceHome, models.PieceHome}
}

func (killRules) HasWon(slot *models.PlayerSlot, pointThreshold int) bool {
	return HasWon(slot.Pieces)
}

func (killRules) ScoreMove(fromPos, toPos, capturedCount int) int {
	return ScoreMove(fromPos, toPos, capturedCount)
}

func (killRules) TimeoutCostsLife() bool { return true }
func (killRules) RanksByPoints() bool    { return false }
func (killRules) WallClockLimited() bool { return false }
