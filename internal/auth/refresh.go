package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/session"
	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// NewOpaqueRefreshToken generates a new opaque refresh-token secret: two random UUIDs joined by a dot, giving at
// least 256 bits of entropy. The raw value is handed to the client exactly once; only its SHA-256 hash (see
// hashRefreshToken) is ever persisted.
func NewOpaqueRefreshToken() string {
	return uuid.New().String() + "." + uuid.New().String()
}

// hashRefreshToken computes the fixed-length hex digest of a raw refresh token used as the session store's lookup
// key. Hashing is one-way: the raw token can never be recovered from a stored session row.
func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SessionInfo carries the client metadata recorded alongside a new session: the device classification, a free-form
// device description, and the originating IP. Any field may be left zero-valued when unknown.
type SessionInfo struct {
	DeviceType session.DeviceType
	DeviceInfo string
	IP         string
}

// CreateRefreshToken mints a new opaque refresh token, persists its hash in a new session row, and returns the raw
// token.
func CreateRefreshToken(ctx context.Context, sessions session.Repository, userID snowflake.ID, ttl time.Duration, info SessionInfo) (string, error) {
	deviceType := info.DeviceType
	if deviceType == "" {
		deviceType = session.DeviceUnknown
	}

	raw := NewOpaqueRefreshToken()
	_, err := sessions.Create(ctx, session.CreateParams{
		UserID:           userID,
		RefreshTokenHash: hashRefreshToken(raw),
		DeviceType:       deviceType,
		DeviceInfo:       info.DeviceInfo,
		IP:               info.IP,
		ExpiresAt:        time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return raw, nil
}

// RotateRefreshToken atomically consumes an old refresh token and issues a new one, preserving the underlying
// session row's id and user-id. Returns ErrRefreshTokenReused if the old token does not match any session — which is
// indistinguishable from a token that was already rotated away, since rotation overwrites the hash in place rather
// than leaving a dead row behind.
func RotateRefreshToken(ctx context.Context, sessions session.Repository, oldToken string, ttl time.Duration) (string, snowflake.ID, error) {
	sess, err := sessions.FindByHash(ctx, hashRefreshToken(oldToken))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", snowflake.ID(0), ErrRefreshTokenReused
		}
		return "", snowflake.ID(0), fmt.Errorf("find session by hash: %w", err)
	}
	if !sess.Active() {
		return "", snowflake.ID(0), ErrRefreshTokenReused
	}

	newToken := NewOpaqueRefreshToken()
	if _, err := sessions.UpdateHash(ctx, sess.ID, hashRefreshToken(newToken), time.Now().Add(ttl)); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrRevoked) || errors.Is(err, session.ErrExpired) {
			return "", snowflake.ID(0), ErrRefreshTokenReused
		}
		return "", snowflake.ID(0), fmt.Errorf("update session hash: %w", err)
	}

	return newToken, sess.UserID, nil
}

// RevokeAllRefreshTokens marks every active session for the given user as revoked.
func RevokeAllRefreshTokens(ctx context.Context, sessions session.Repository, userID snowflake.ID) error {
	if err := sessions.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}
