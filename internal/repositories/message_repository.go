package repositories

import (
	"context"

	"github.com/kindred/backend/internal/models"
)

// MessageRepository defines data access for messages exchanged on a connection.
//
// ListByConnection returns messages oldest first. MarkRead flags every unread
// message on the connection not sent by readerID and reports how many changed.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) error
	ListByConnection(ctx context.Context, connectionID string) ([]models.Message, error)
	MarkRead(ctx context.Context, connectionID, readerID string) (int64, error)
}
