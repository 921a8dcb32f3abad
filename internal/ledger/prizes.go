// internal/ledger/prizes.go
package ledger

// RakeBasisPoints is the house cut taken from every prize pool.
const RakeBasisPoints = 1000 // 10%

// prizeSplits maps starting player count to per-rank fractions of the pool
// after rake. Ranks beyond the split receive nothing.
var prizeSplits = map[int][]float64{
	2: {1.0},
	3: {0.70, 0.30},
	4: {0.60, 0.30, 0.10},
}

// ComputePrizes returns the payout for each rank (index 0 = rank 1), given
// the entry fee and the number of players who paid it. Amounts are in the
// smallest currency unit; rounding remainders go to rank 1 so the payouts
// always sum to exactly pool minus rake.
func ComputePrizes(entryFee int64, playerCount int) []int64 {
	splits, ok := prizeSplits[playerCount]
	if !ok || entryFee <= 0 {
		return nil
	}

	pool := entryFee * int64(playerCount)
	rake := pool * RakeBasisPoints / 10000
	distributable := pool - rake

	prizes := make([]int64, len(splits))
	var assigned int64
	for i, frac := range splits {
		prizes[i] = int64(float64(distributable) * frac)
		assigned += prizes[i]
	}
	prizes[0] += distributable - assigned
	return prizes
}

// PoolAfterRake returns the total payable amount for a pool.
func PoolAfterRake(entryFee int64, playerCount int) int64 {
	pool := entryFee * int64(playerCount)
	return pool - pool*RakeBasisPoints/10000
}
