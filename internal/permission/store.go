package permission

import (
	"context"
	"errors"
	"time"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// ErrOverrideNotFound is returned when a permission override does not exist.
var ErrOverrideNotFound = errors.New("permission override not found")

// ChannelInfo holds a channel's guild, ID and optional parent category.
type ChannelInfo struct {
	ID         snowflake.ID
	GuildID    snowflake.ID
	CategoryID *snowflake.ID
}

// RolePermEntry pairs a role ID with its guild-level permissions bitfield.
type RolePermEntry struct {
	RoleID      snowflake.ID
	Permissions Permission
}

// OverrideRow represents a full permission override row from the database.
type OverrideRow struct {
	ID            snowflake.ID
	TargetType    TargetType
	TargetID      snowflake.ID
	PrincipalType PrincipalType
	PrincipalID   snowflake.ID
	Allow         Permission
	Deny          Permission
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OverrideStore provides write access to permission overrides.
type OverrideStore interface {
	Set(ctx context.Context, targetType TargetType, targetID snowflake.ID, principalType PrincipalType, principalID snowflake.ID, allow, deny Permission) (*OverrideRow, error)
	Delete(ctx context.Context, targetType TargetType, targetID snowflake.ID, principalType PrincipalType, principalID snowflake.ID) error
}

// Store provides read access to permission-related data, scoped to a single guild per call.
type Store interface {
	// IsOwner reports whether userID owns guildID.
	IsOwner(ctx context.Context, guildID, userID snowflake.ID) (bool, error)
	// RolePermissions returns the guild-level permission bitfield for every role userID holds in guildID, plus the
	// implicit @everyone role (whose id equals guildID).
	RolePermissions(ctx context.Context, guildID, userID snowflake.ID) ([]RolePermEntry, error)
	ChannelInfo(ctx context.Context, channelID snowflake.ID) (ChannelInfo, error)
	Overrides(ctx context.Context, targetType TargetType, targetID snowflake.ID) ([]Override, error)
}
