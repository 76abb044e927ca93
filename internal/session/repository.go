package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

const selectColumns = "id, user_id, refresh_token_hash, device_type, device_info, ip, created_at, last_used_at, expires_at, revoked_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed session repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new session row.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Session, error) {
	id := uuid.New()
	var ip *string
	if params.IP != "" {
		ip = &params.IP
	}
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO sessions (id, user_id, refresh_token_hash, device_type, device_info, ip, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING %s`, selectColumns),
		id, params.UserID, params.RefreshTokenHash, string(params.DeviceType), params.DeviceInfo, ip, params.ExpiresAt,
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// FindByHash looks up a session by its refresh-token hash.
func (r *PGRepository) FindByHash(ctx context.Context, hash string) (*Session, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM sessions WHERE refresh_token_hash = $1", selectColumns),
		hash,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query session by hash: %w", err)
	}
	return s, nil
}

// UpdateHash rewrites the session's hash and expiry in place, preserving its id, and bumps last_used_at. The WHERE
// clause only matches rows that are not revoked and not already expired, so a stale or dead session can never be
// rotated back to life.
func (r *PGRepository) UpdateHash(ctx context.Context, id uuid.UUID, newHash string, newExpiresAt time.Time) (*Session, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`UPDATE sessions SET refresh_token_hash = $2, expires_at = $3, last_used_at = NOW()
		 WHERE id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		 RETURNING %s`, selectColumns),
		id, newHash, newExpiresAt,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := r.get(ctx, id)
			if getErr != nil {
				return nil, ErrNotFound
			}
			if existing.RevokedAt != nil {
				return nil, ErrRevoked
			}
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("update session hash: %w", err)
	}
	return s, nil
}

// get fetches a session by id regardless of revocation/expiry state, used internally to distinguish ErrRevoked from
// ErrExpired after a failed UpdateHash.
func (r *PGRepository) get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1", selectColumns), id)
	return scanSession(row)
}

// Revoke marks a single session as revoked.
func (r *PGRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, "UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser marks every active session belonging to a user as revoked.
func (r *PGRepository) RevokeAllForUser(ctx context.Context, userID snowflake.ID) error {
	_, err := r.db.Exec(ctx,
		"UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL", userID)
	if err != nil {
		return fmt.Errorf("revoke sessions for user: %w", err)
	}
	return nil
}

// CountActive returns the number of sessions for a user that are neither revoked nor expired.
func (r *PGRepository) CountActive(ctx context.Context, userID snowflake.ID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()",
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

// DeleteExpired removes rows past their expiry, or revoked more than revokedRetention ago, returning the number of
// rows removed. Intended to be run periodically by a cleanup job.
func (r *PGRepository) DeleteExpired(ctx context.Context, revokedRetention time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM sessions WHERE expires_at < NOW() OR revoked_at < NOW() - make_interval(secs => $1)",
		revokedRetention.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanSession scans a single row into a Session struct.
func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var deviceType string
	var ip *string
	err := row.Scan(
		&s.ID, &s.UserID, &s.RefreshTokenHash, &deviceType, &s.DeviceInfo, &ip,
		&s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.RevokedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.DeviceType = DeviceType(deviceType)
	if ip != nil {
		s.IP = *ip
	}
	return &s, nil
}
