package repositories

import (
	"context"
	"time"

	"github.com/kindred/backend/internal/models"
)

// ConnectionRepository defines data access for pairwise connections.
//
// Create must fail with ErrConflict when any record already exists for the
// unordered pair. TransitionStatus is a compare-and-set: it only writes when the
// current status is one of from, failing with ErrPreconditionFailed otherwise.
type ConnectionRepository interface {
	Create(ctx context.Context, conn models.Connection) error
	FindByID(ctx context.Context, id string) (models.Connection, error)
	FindByPair(ctx context.Context, a, b string) (models.Connection, error)
	ListForUser(ctx context.Context, userID string, statuses ...models.ConnectionStatus) ([]models.Connection, error)
	TransitionStatus(ctx context.Context, id string, from []models.ConnectionStatus, to models.ConnectionStatus, at time.Time) (models.Connection, error)
}
