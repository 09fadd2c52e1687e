package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kindred/backend/internal/db"
	"github.com/kindred/backend/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, email, username, account_type, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, user.ID, user.Email, user.Username, user.AccountType, user.Password, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID fetches a user by identifier.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	// column is always one of the fixed identifiers above.
	row := conn.QueryRow(ctx, `
        SELECT id, email, username, account_type, password_hash, created_at, updated_at
        FROM users
        WHERE `+column+` = $1
    `, value)

	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Username, &user.AccountType, &user.Password, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}

	return user, nil
}

// Update modifies an existing user record.
func (r *PostgresUserRepository) Update(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET email = $2, username = $3, account_type = $4, password_hash = $5, updated_at = $6
        WHERE id = $1
    `, user.ID, user.Email, user.Username, user.AccountType, user.Password, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresConnectionStore provides PostgreSQL-backed persistence for connections.
type PostgresConnectionStore struct {
	pool db.Pool
}

// NewPostgresConnectionStore constructs a connection store backed by PostgreSQL.
func NewPostgresConnectionStore(pool db.Pool) *PostgresConnectionStore {
	return &PostgresConnectionStore{pool: pool}
}

const connectionColumns = `id, requester_id, recipient_id, status, created_at, updated_at`

// Create persists a new connection. The unique pair_key column rejects a second
// record for the same unordered pair whichever way round it was requested.
func (s *PostgresConnectionStore) Create(ctx context.Context, c models.Connection) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO connections (id, requester_id, recipient_id, pair_key, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, c.ID, c.Requester, c.Recipient, models.PairKey(c.Requester, c.Recipient), string(c.Status), c.CreatedAt, c.UpdatedAt)
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
		return fmt.Errorf("insert connection: %w", err)
	}

	return nil
}

// FindByID loads a connection by identifier.
func (s *PostgresConnectionStore) FindByID(ctx context.Context, id string) (models.Connection, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Connection{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	c, err := scanConnection(conn.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Connection{}, ErrNotFound
		}
		return models.Connection{}, fmt.Errorf("select connection: %w", err)
	}
	return c, nil
}

// FindByPair loads the connection between a and b regardless of who requested it.
func (s *PostgresConnectionStore) FindByPair(ctx context.Context, a, b string) (models.Connection, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Connection{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	c, err := scanConnection(conn.QueryRow(ctx, `
        SELECT `+connectionColumns+`
        FROM connections
        WHERE (requester_id = $1 AND recipient_id = $2)
           OR (requester_id = $2 AND recipient_id = $1)
        LIMIT 1
    `, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Connection{}, ErrNotFound
		}
		return models.Connection{}, fmt.Errorf("select connection by pair: %w", err)
	}
	return c, nil
}

// ListForUser returns connections where the user is the requester or recipient,
// optionally restricted to the given statuses, newest first.
func (s *PostgresConnectionStore) ListForUser(ctx context.Context, userID string, statuses ...models.ConnectionStatus) ([]models.Connection, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `
        SELECT ` + connectionColumns + `
        FROM connections
        WHERE (requester_id = $1 OR recipient_id = $1)`
	args := []any{userID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, connectionStatusStrings(statuses))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}

	return out, nil
}

// TransitionStatus moves a connection to status `to` only if its current status
// is one of from.
func (s *PostgresConnectionStore) TransitionStatus(ctx context.Context, id string, from []models.ConnectionStatus, to models.ConnectionStatus, at time.Time) (models.Connection, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Connection{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `UPDATE connections SET status = $2, updated_at = $3 WHERE id = $1`
	args := []any{id, string(to), at}
	if from != nil {
		query += ` AND status = ANY($4)`
		args = append(args, connectionStatusStrings(from))
	}
	query += ` RETURNING ` + connectionColumns

	c, err := scanConnection(conn.QueryRow(ctx, query, args...))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Connection{}, fmt.Errorf("update connection status: %w", err)
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM connections WHERE id = $1)`, id).Scan(&exists); err != nil {
		return models.Connection{}, fmt.Errorf("check connection exists: %w", err)
	}
	if !exists {
		return models.Connection{}, ErrNotFound
	}
	return models.Connection{}, ErrPreconditionFailed
}

func scanConnection(row rowScanner) (models.Connection, error) {
	var (
		c      models.Connection
		status string
	)
	if err := row.Scan(&c.ID, &c.Requester, &c.Recipient, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return models.Connection{}, err
	}
	c.Status = models.ConnectionStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func connectionStatusStrings(statuses []models.ConnectionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

// PostgresMeetingStore provides PostgreSQL-backed persistence for meetings.
// Acceptances live in meeting_acceptances keyed by (meeting_id, user_id).
type PostgresMeetingStore struct {
	pool db.Pool
}

// NewPostgresMeetingStore constructs a meeting store backed by PostgreSQL.
func NewPostgresMeetingStore(pool db.Pool) *PostgresMeetingStore {
	return &PostgresMeetingStore{pool: pool}
}

const meetingColumns = `id, connection_id, proposed_by, date_time, location, details, status, created_at, updated_at`

// Create persists a new meeting proposal and any initial acceptances.
func (s *PostgresMeetingStore) Create(ctx context.Context, m models.Meeting) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin meeting insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
        INSERT INTO meetings (id, connection_id, proposed_by, date_time, location, details, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, m.ID, m.ConnectionID, m.ProposedBy, m.DateTime, m.Location, m.Details, string(m.Status), m.CreatedAt, m.UpdatedAt)
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
		return fmt.Errorf("insert meeting: %w", err)
	}

	for _, acceptance := range m.AcceptedBy.Entries() {
		if _, err := tx.Exec(ctx, `
            INSERT INTO meeting_acceptances (meeting_id, user_id, accepted_at)
            VALUES ($1, $2, $3)
        `, m.ID, acceptance.UserID, acceptance.AcceptedAt); err != nil {
			return fmt.Errorf("insert meeting acceptance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit meeting insert: %w", err)
	}
	return nil
}

// FindByID loads a meeting together with its acceptances.
func (s *PostgresMeetingStore) FindByID(ctx context.Context, id string) (models.Meeting, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Meeting{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return findMeeting(ctx, conn, id)
}

// AddAcceptance records userID's acceptance while holding a row lock on the
// meeting, so the duplicate check, status check and insert see one state.
// Serialization failures are retried by crdbpgx.
func (s *PostgresMeetingStore) AddAcceptance(ctx context.Context, meetingID string, acceptance models.Acceptance, allowed []models.MeetingStatus) (models.Meeting, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Meeting{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM meetings WHERE id = $1 FOR UPDATE`, meetingID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		var already bool
		if err := tx.QueryRow(ctx, `
            SELECT EXISTS (SELECT 1 FROM meeting_acceptances WHERE meeting_id = $1 AND user_id = $2)
        `, meetingID, acceptance.UserID).Scan(&already); err != nil {
			return err
		}
		if already {
			return ErrConflict
		}

		if !meetingStatusAllowed(models.MeetingStatus(status), allowed) {
			return ErrPreconditionFailed
		}

		tag, err := tx.Exec(ctx, `
            INSERT INTO meeting_acceptances (meeting_id, user_id, accepted_at)
            VALUES ($1, $2, $3)
            ON CONFLICT (meeting_id, user_id) DO NOTHING
        `, meetingID, acceptance.UserID, acceptance.AcceptedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}

		_, err = tx.Exec(ctx, `UPDATE meetings SET updated_at = $2 WHERE id = $1`, meetingID, acceptance.AcceptedAt)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrPreconditionFailed) {
			return models.Meeting{}, err
		}
		return models.Meeting{}, fmt.Errorf("add meeting acceptance: %w", err)
	}

	return findMeeting(ctx, conn, meetingID)
}

// TransitionStatus moves a meeting to status `to`. With a non-nil from slice the
// write only happens when the current status is one of from.
func (s *PostgresMeetingStore) TransitionStatus(ctx context.Context, id string, from []models.MeetingStatus, to models.MeetingStatus, at time.Time) (models.Meeting, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Meeting{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `UPDATE meetings SET status = $2, updated_at = $3 WHERE id = $1`
	args := []any{id, string(to), at}
	if from != nil {
		query += ` AND status = ANY($4)`
		args = append(args, meetingStatusStrings(from))
	}

	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return models.Meeting{}, fmt.Errorf("update meeting status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1)`, id).Scan(&exists); err != nil {
			return models.Meeting{}, fmt.Errorf("check meeting exists: %w", err)
		}
		if !exists {
			return models.Meeting{}, ErrNotFound
		}
		return models.Meeting{}, ErrPreconditionFailed
	}

	return findMeeting(ctx, conn, id)
}

// ListByConnections returns meetings for any of the given connections ordered by
// date_time ascending.
func (s *PostgresMeetingStore) ListByConnections(ctx context.Context, connectionIDs []string) ([]models.Meeting, error) {
	if len(connectionIDs) == 0 {
		return nil, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+meetingColumns+`
        FROM meetings
        WHERE connection_id = ANY($1)
        ORDER BY date_time ASC, created_at ASC
    `, connectionIDs)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}

	var (
		meetings []models.Meeting
		ids      []string
	)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}

	if len(ids) == 0 {
		return meetings, nil
	}

	acceptances, err := loadAcceptances(ctx, conn, ids)
	if err != nil {
		return nil, err
	}
	for i := range meetings {
		meetings[i].AcceptedBy = models.NewAcceptanceSet(acceptances[meetings[i].ID]...)
	}

	return meetings, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func findMeeting(ctx context.Context, q querier, id string) (models.Meeting, error) {
	m, err := scanMeeting(q.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Meeting{}, ErrNotFound
		}
		return models.Meeting{}, fmt.Errorf("select meeting: %w", err)
	}

	acceptances, err := loadAcceptances(ctx, q, []string{id})
	if err != nil {
		return models.Meeting{}, err
	}
	m.AcceptedBy = models.NewAcceptanceSet(acceptances[id]...)

	return m, nil
}

func loadAcceptances(ctx context.Context, q querier, meetingIDs []string) (map[string][]models.Acceptance, error) {
	rows, err := q.Query(ctx, `
        SELECT meeting_id, user_id, accepted_at
        FROM meeting_acceptances
        WHERE meeting_id = ANY($1)
        ORDER BY accepted_at ASC
    `, meetingIDs)
	if err != nil {
		return nil, fmt.Errorf("query meeting acceptances: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Acceptance)
	for rows.Next() {
		var (
			meetingID string
			a         models.Acceptance
		)
		if err := rows.Scan(&meetingID, &a.UserID, &a.AcceptedAt); err != nil {
			return nil, fmt.Errorf("scan meeting acceptance: %w", err)
		}
		a.AcceptedAt = a.AcceptedAt.UTC()
		out[meetingID] = append(out[meetingID], a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meeting acceptances: %w", err)
	}

	return out, nil
}

func scanMeeting(row rowScanner) (models.Meeting, error) {
	var (
		m      models.Meeting
		status string
	)
	if err := row.Scan(&m.ID, &m.ConnectionID, &m.ProposedBy, &m.DateTime, &m.Location, &m.Details, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return models.Meeting{}, err
	}
	m.Status = models.MeetingStatus(status)
	m.DateTime = m.DateTime.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func meetingStatusStrings(statuses []models.MeetingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

func meetingStatusAllowed(status models.MeetingStatus, allowed []models.MeetingStatus) bool {
	if allowed == nil {
		return true
	}
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ ConnectionRepository = (*PostgresConnectionStore)(nil)
var _ MeetingRepository = (*PostgresMeetingStore)(nil)
