package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS tokenguard_sessions (
	session_id   TEXT PRIMARY KEY,
	device_id    TEXT NOT NULL,
	owner        TEXT NOT NULL,
	device_label TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	revoked_at   TIMESTAMPTZ
)`, `
CREATE INDEX IF NOT EXISTS tokenguard_sessions_owner_idx
	ON tokenguard_sessions (owner, last_seen_at DESC)`,
}

// PostgresRepository implements Repository on the tokenguard_sessions table.
type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository creates a Postgres-backed repository. A nil now
// selects time.Now.
func NewPostgresRepository(pool *pgxpool.Pool, now func() time.Time) *PostgresRepository {
	if now == nil {
		now = time.Now
	}
	return &PostgresRepository{pool: pool, now: now}
}

// EnsureSchema creates the sessions table and its owner index if missing.
func (s *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *PostgresRepository) Insert(ctx context.Context, r *Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokenguard_sessions (
			session_id, device_id, owner, device_label,
			created_at, last_seen_at, expires_at, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
	`, r.SessionID, r.DeviceID, r.Owner, r.DeviceLabel, r.CreatedAt, r.LastSeenAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresRepository) Get(ctx context.Context, sessionID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, device_id, owner, device_label,
		       created_at, last_seen_at, expires_at, revoked_at
		FROM tokenguard_sessions
		WHERE session_id = $1 AND expires_at > $2
	`, sessionID, s.now())

	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return r, nil
}

func (s *PostgresRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokenguard_sessions
		SET last_seen_at = $2
		WHERE session_id = $1 AND revoked_at IS NULL AND expires_at > $3
	`, sessionID, at, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	r, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if r.Revoked {
		return ErrRevoked
	}
	return ErrNotFound
}

func (s *PostgresRepository) MarkRevoked(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokenguard_sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE session_id = $1 AND expires_at > $3
	`, sessionID, at, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, device_id, owner, device_label,
		       created_at, last_seen_at, expires_at, revoked_at
		FROM tokenguard_sessions
		WHERE owner = $1 AND expires_at > $2
		ORDER BY last_seen_at DESC
	`, owner, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// DeleteExpired removes rows expired before cutoff and returns how many.
func (s *PostgresRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tokenguard_sessions WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r         Record
		revokedAt *time.Time
	)
	err := row.Scan(
		&r.SessionID,
		&r.DeviceID,
		&r.Owner,
		&r.DeviceLabel,
		&r.CreatedAt,
		&r.LastSeenAt,
		&r.ExpiresAt,
		&revokedAt,
	)
	if err != nil {
		return nil, err
	}
	if revokedAt != nil {
		r.Revoked = true
		r.RevokedAt = *revokedAt
	}
	return &r, nil
}
