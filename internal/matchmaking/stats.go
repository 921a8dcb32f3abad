// internal/matchmaking/stats.go
package matchmaking

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ludoroyale/server/internal/models"
)

// Statistics is a point-in-time snapshot of the queue for status polling.
type Statistics struct {
	TotalPlayers   int                    `json:"total_players"`
	AverageWaitSec float64                `json:"average_wait_sec"`
	PerRegion      map[string]int         `json:"per_region"`
	PerVariant     map[models.Variant]int `json:"per_variant"`
}

// Position is one user's standing in the queue.
type Position struct {
	Position         int `json:"position"` // 1-based, by join time
	TotalInQueue     int `json:"total_in_queue"`
	EstimatedWaitSec int `json:"estimated_wait_sec"`
}

// Statistics summarizes the current queue.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Statistics{
		PerRegion:  make(map[string]int),
		PerVariant: make(map[models.Variant]int),
	}
	now := time.Now()
	var totalWait time.Duration
	for _, e := range q.entries {
		stats.TotalPlayers++
		stats.PerRegion[e.Region]++
		stats.PerVariant[e.PreferredVariant]++
		totalWait += now.Sub(e.JoinedAt)
	}
	if stats.TotalPlayers > 0 {
		stats.AverageWaitSec = totalWait.Seconds() / float64(stats.TotalPlayers)
	}
	return stats
}

// PositionOf reports where the user sits in join order, or false if not
// queued. The wait estimate is crude: the longer of the average wait and
// the relax threshold scaled by queue depth ahead.
func (q *Queue) PositionOf(userID uuid.UUID) (Position, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	seeker, ok := q.entries[userID]
	if !ok {
		return Position{}, false
	}

	joins := make([]time.Time, 0, len(q.entries))
	for _, e := range q.entries {
		joins = append(joins, e.JoinedAt)
	}
	sort.Slice(joins, func(i, j int) bool { return joins[i].Before(joins[j]) })

	pos := 1
	for _, j := range joins {
		if j.Before(seeker.JoinedAt) {
			pos++
		}
	}

	estimate := int(RelaxAfter.Seconds())
	waited := int(time.Since(seeker.JoinedAt).Seconds())
	if estimate > waited {
		estimate -= waited
	} else {
		estimate = int(PollBackoff.Seconds())
	}

	return Position{
		Position:         pos,
		TotalInQueue:     len(q.entries),
		EstimatedWaitSec: estimate,
	}, true
}
