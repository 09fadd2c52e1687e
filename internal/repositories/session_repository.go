package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kindred/backend/internal/auth"
	"github.com/kindred/backend/internal/db"
)

// PostgresSessionStore persists refresh tokens to PostgreSQL.
type PostgresSessionStore struct {
	pool db.Pool
}

func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Save upserts the session keyed by refresh token.
func (s *PostgresSessionStore) Save(ctx context.Context, session auth.Session) error {
	return s.exec(ctx, "upsert session", `
        INSERT INTO sessions (refresh_token, user_id, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (refresh_token)
        DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at
    `, nil, session.RefreshToken, session.UserID, session.ExpiresAt.UTC())
}

// Find loads a session by its refresh token.
func (s *PostgresSessionStore) Find(ctx context.Context, refreshToken string) (auth.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return auth.Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var session auth.Session
	err = conn.QueryRow(ctx, `
        SELECT refresh_token, user_id, expires_at
        FROM sessions
        WHERE refresh_token = $1
    `, refreshToken).Scan(&session.RefreshToken, &session.UserID, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Session{}, auth.ErrSessionNotFound
	}
	if err != nil {
		return auth.Session{}, fmt.Errorf("select session: %w", err)
	}

	session.ExpiresAt = session.ExpiresAt.UTC()
	return session, nil
}

// Delete removes a session. A token that was already consumed reports
// auth.ErrSessionNotFound, which makes concurrent refreshes single-use.
func (s *PostgresSessionStore) Delete(ctx context.Context, refreshToken string) error {
	var affected int64
	if err := s.exec(ctx, "delete session", `DELETE FROM sessions WHERE refresh_token = $1`, &affected, refreshToken); err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

// DeleteExpired removes sessions that expired before now.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var affected int64
	err := s.exec(ctx, "delete expired sessions", `DELETE FROM sessions WHERE expires_at < $1`, &affected, now.UTC())
	return affected, err
}

func (s *PostgresSessionStore) exec(ctx context.Context, op, query string, affected *int64, args ...any) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected != nil {
		*affected = tag.RowsAffected()
	}
	return nil
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)
