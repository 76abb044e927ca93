// Package guild implements the multi-guild-capable Guild & Membership Service: guilds are rows in a shared table,
// not a singleton config, so the same schema supports any number of them even though a single deployed process
// binds to one at a time (see internal/server.PGRepository, which adapts this package to that binding).
package guild

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// Sentinel errors for the guild package.
var (
	ErrNotFound          = errors.New("guild not found")
	ErrNameLength        = errors.New("name must be between 1 and 100 characters")
	ErrDescriptionLength = errors.New("description must be 1024 characters or fewer")
	ErrNotOwner          = errors.New("user is not the guild owner")
)

// Guild holds the fields read from the guilds table.
type Guild struct {
	ID          snowflake.ID
	Name        string
	Description string
	IconKey     *string
	BannerKey   *string
	OwnerID     snowflake.ID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateParams groups the fields needed to create a new guild.
type CreateParams struct {
	Name    string
	OwnerID snowflake.ID
}

// UpdateParams groups the optional fields for updating a guild.
type UpdateParams struct {
	Name        *string
	Description *string
	IconKey     *string
	BannerKey   *string
}

// ValidateName checks that a non-nil name is between 1 and 100 characters (runes) after trimming whitespace. A nil
// pointer means "no change." On success the pointed-to value is replaced with the trimmed result.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidateDescription checks that a non-nil description is 1024 characters (runes) or fewer. A nil pointer means "no
// change"; a pointer to an empty string means "clear the description."
func ValidateDescription(desc *string) error {
	if desc == nil {
		return nil
	}
	if utf8.RuneCountInString(*desc) > 1024 {
		return ErrDescriptionLength
	}
	return nil
}

// Repository defines the data-access contract for guild operations.
type Repository interface {
	// CreateGuild creates a new guild owned by params.OwnerID, seeding an @everyone role and a #general channel in
	// the same transaction.
	CreateGuild(ctx context.Context, params CreateParams) (*Guild, error)
	// GetGuild returns the guild matching the given ID.
	GetGuild(ctx context.Context, id snowflake.ID) (*Guild, error)
	// UpdateGuild applies the non-nil fields in params to the guild and returns the updated row.
	UpdateGuild(ctx context.Context, id snowflake.ID, params UpdateParams) (*Guild, error)
	// DeleteGuild removes a guild and everything scoped to it (channels, categories, roles, members, bans cascade).
	DeleteGuild(ctx context.Context, id snowflake.ID) error
	// ListGuildsForUser returns every guild a user is an active member of, ordered by join time.
	ListGuildsForUser(ctx context.Context, userID snowflake.ID) ([]Guild, error)
	// TransferOwnership reassigns a guild's owner. Returns ErrNotFound if the guild does not exist.
	TransferOwnership(ctx context.Context, id, newOwnerID snowflake.ID) (*Guild, error)
}
