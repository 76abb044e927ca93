// Package session implements the persistent, hash-based refresh-token session store: one row per issued refresh
// token, looked up by the SHA-256 hash of the opaque secret, never by the secret itself.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// Sentinel errors for the session package.
var (
	ErrNotFound = errors.New("session not found")
	ErrRevoked  = errors.New("session revoked")
	ErrExpired  = errors.New("session expired")
)

// DeviceType classifies the client that created a session.
type DeviceType string

// Recognized device types. Unrecognized or unparsed clients fall back to DeviceUnknown.
const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceBrowser DeviceType = "browser"
	DeviceBot     DeviceType = "bot"
	DeviceUnknown DeviceType = "unknown"
)

// Session is a persistent refresh-token session row. RefreshTokenHash is the only trace of the opaque refresh token
// this server ever stores; the raw secret is returned to the client once, at creation or rotation, and never again.
type Session struct {
	ID               uuid.UUID
	UserID           snowflake.ID
	RefreshTokenHash string
	DeviceType       DeviceType
	DeviceInfo       string
	IP               string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
}

// Active reports whether the session can still be rotated: not revoked and not past its expiry.
func (s *Session) Active() bool {
	if s.RevokedAt != nil {
		return false
	}
	return time.Now().Before(s.ExpiresAt)
}

// CreateParams groups the fields needed to open a new session.
type CreateParams struct {
	UserID           snowflake.ID
	RefreshTokenHash string
	DeviceType       DeviceType
	DeviceInfo       string
	IP               string
	ExpiresAt        time.Time
}

// Repository defines the data-access contract for refresh-token sessions.
type Repository interface {
	// Create opens a new session row and returns it.
	Create(ctx context.Context, params CreateParams) (*Session, error)
	// FindByHash looks up a session by its refresh-token hash. Returns ErrNotFound if no row matches — this is also
	// what a replayed, already-rotated hash looks like, since rotation overwrites the hash in place.
	FindByHash(ctx context.Context, hash string) (*Session, error)
	// UpdateHash rewrites the session's hash and expiry in place, preserving its id, as part of refresh-token
	// rotation. Returns ErrNotFound if the session no longer exists, ErrRevoked/ErrExpired if it can no longer be
	// rotated.
	UpdateHash(ctx context.Context, id uuid.UUID, newHash string, newExpiresAt time.Time) (*Session, error)
	// Revoke marks a single session as revoked, effective immediately.
	Revoke(ctx context.Context, id uuid.UUID) error
	// RevokeAllForUser marks every active session belonging to a user as revoked (logout-everywhere, account
	// deletion, MFA disable).
	RevokeAllForUser(ctx context.Context, userID snowflake.ID) error
	// CountActive returns the number of sessions for a user that are neither revoked nor expired.
	CountActive(ctx context.Context, userID snowflake.ID) (int, error)
	// DeleteExpired removes rows whose expiry is in the past or whose revocation happened more than the retention
	// window ago, returning the number of rows removed. Intended to be run periodically by a cleanup job.
	DeleteExpired(ctx context.Context, revokedRetention time.Duration) (int64, error)
}
