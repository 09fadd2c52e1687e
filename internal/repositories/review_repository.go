package repositories

import (
	"context"

	"github.com/kindred/backend/internal/models"
)

// ReviewRepository defines data access for user reviews.
//
// Create fails with ErrConflict when the reviewer already reviewed the same
// user. Both list methods return reviews newest first.
type ReviewRepository interface {
	Create(ctx context.Context, review models.Review) error
	ListByReviewed(ctx context.Context, userID string) ([]models.Review, error)
	ListByReviewer(ctx context.Context, userID string) ([]models.Review, error)
}
