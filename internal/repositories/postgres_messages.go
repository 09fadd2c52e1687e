package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kindred/backend/internal/db"
	"github.com/kindred/backend/internal/models"
)

// PostgresMessageStore provides PostgreSQL-backed persistence for messages.
type PostgresMessageStore struct {
	pool db.Pool
}

// NewPostgresMessageStore constructs a message store backed by PostgreSQL.
func NewPostgresMessageStore(pool db.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

const messageColumns = `id, connection_id, sender_id, message_type, content, is_read, created_at`

// Create persists a new message.
func (s *PostgresMessageStore) Create(ctx context.Context, msg models.Message) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO messages (id, connection_id, sender_id, message_type, content, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, msg.ID, msg.ConnectionID, msg.SenderID, string(msg.Type), msg.Content, msg.Read, msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListByConnection returns the connection's messages oldest first.
func (s *PostgresMessageStore) ListByConnection(ctx context.Context, connectionID string) ([]models.Message, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE connection_id = $1
        ORDER BY created_at ASC, id ASC
    `, connectionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collect messages: %w", err)
	}
	return messages, nil
}

// MarkRead flags unread messages from the other party as read.
func (s *PostgresMessageStore) MarkRead(ctx context.Context, connectionID, readerID string) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE messages
        SET is_read = TRUE
        WHERE connection_id = $1 AND sender_id <> $2 AND NOT is_read
    `, connectionID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		m   models.Message
		typ string
	)
	if err := row.Scan(&m.ID, &m.ConnectionID, &m.SenderID, &typ, &m.Content, &m.Read, &m.CreatedAt); err != nil {
		return models.Message{}, err
	}
	m.Type = models.MessageType(typ)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

// PostgresReviewStore provides PostgreSQL-backed persistence for reviews. The
// unique (reviewer_id, reviewed_id) constraint enforces one review per pair.
type PostgresReviewStore struct {
	pool db.Pool
}

// NewPostgresReviewStore constructs a review store backed by PostgreSQL.
func NewPostgresReviewStore(pool db.Pool) *PostgresReviewStore {
	return &PostgresReviewStore{pool: pool}
}

const reviewColumns = `id, reviewer_id, reviewed_id, COALESCE(meeting_id, ''), rating, feedback, is_public, created_at`

// Create persists a new review.
func (s *PostgresReviewStore) Create(ctx context.Context, review models.Review) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var meetingID *string
	if review.MeetingID != "" {
		meetingID = &review.MeetingID
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO reviews (id, reviewer_id, reviewed_id, meeting_id, rating, feedback, is_public, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, review.ID, review.ReviewerID, review.ReviewedID, meetingID, review.Rating, review.Feedback, review.Public, review.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListByReviewed returns reviews about userID, newest first.
func (s *PostgresReviewStore) ListByReviewed(ctx context.Context, userID string) ([]models.Review, error) {
	return s.list(ctx, "reviewed_id", userID)
}

// ListByReviewer returns reviews written by userID, newest first.
func (s *PostgresReviewStore) ListByReviewer(ctx context.Context, userID string) ([]models.Review, error) {
	return s.list(ctx, "reviewer_id", userID)
}

func (s *PostgresReviewStore) list(ctx context.Context, column, userID string) ([]models.Review, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	// column is always one of the fixed identifiers above.
	rows, err := conn.Query(ctx, `
        SELECT `+reviewColumns+`
        FROM reviews
        WHERE `+column+` = $1
        ORDER BY created_at DESC, id ASC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}

	reviews, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Review, error) {
		var r models.Review
		if err := row.Scan(&r.ID, &r.ReviewerID, &r.ReviewedID, &r.MeetingID, &r.Rating, &r.Feedback, &r.Public, &r.CreatedAt); err != nil {
			return models.Review{}, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect reviews: %w", err)
	}
	return reviews, nil
}

var _ MessageRepository = (*PostgresMessageStore)(nil)
var _ ReviewRepository = (*PostgresReviewStore)(nil)
