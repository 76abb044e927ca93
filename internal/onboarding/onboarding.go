package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
	"github.com/uncord-chat/uncord-server/internal/wire"
)

// Sentinel errors for the onboarding package.
var (
	ErrNotFound            = errors.New("onboarding config not found")
	ErrOpenJoinDisabled    = errors.New("open server joining is not enabled")
	ErrDocumentsIncomplete = errors.New("not all required documents have been accepted")
)

// Config holds the onboarding configuration read from the database.
type Config struct {
	ID                       snowflake.ID
	WelcomeChannelID         *snowflake.ID
	RequireEmailVerification bool
	OpenJoin                 bool
	MinAccountAgeSeconds     int
	RequirePhone             bool
	RequireCaptcha           bool
	AutoRoles                []snowflake.ID
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// ToModel converts the internal config to the wire response type sent in the READY payload. The caller provides the
// document list because documents are loaded from the filesystem, not the database.
func (cfg *Config) ToModel(docs []wire.OnboardingDocument) wire.OnboardingConfig {
	return wire.OnboardingConfig{
		Enabled:            cfg.OpenJoin,
		RequireEmailVerify: cfg.RequireEmailVerification,
		Documents:          docs,
	}
}

// UpdateParams groups the optional fields for updating the onboarding configuration. Nil pointer fields indicate "no
// change" (PATCH semantics).
type UpdateParams struct {
	WelcomeChannelID         *snowflake.ID
	SetWelcomeChannelNull    bool
	RequireEmailVerification *bool
	OpenJoin                 *bool
	MinAccountAgeSeconds     *int
	AutoRoles                []snowflake.ID
	SetAutoRoles             bool
}

// Repository defines the data access contract for onboarding config operations.
type Repository interface {
	Get(ctx context.Context) (*Config, error)
	Update(ctx context.Context, params UpdateParams) (*Config, error)
}
