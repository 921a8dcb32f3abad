package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ludoroyale/server/internal/models"
	"github.com/ludoroyale/server/internal/rating"
)

// RatingService loads users by final rank, applies the pairwise rating
// update, and persists the results. Plugged into the engine's completion
// path.
type RatingService struct{}

func (RatingService) ApplyMatchResult(ctx context.Context, rankedUserIDs []uuid.UUID) error {
	ranked := make([]models.User, 0, len(rankedUserIDs))
	for _, id := range rankedUserIDs {
		u, err := GetUserByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load user %s for rating update: %w", id, err)
		}
		ranked = append(ranked, *u)
	}

	updated := rating.ApplyRanked(ranked)
	for i := range updated {
		if err := SaveUserRating(ctx, &updated[i]); err != nil {
			return fmt.Errorf("failed to save rating for %s: %w", updated[i].ID, err)
		}
	}
	return nil
}
