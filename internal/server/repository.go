package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/guild"
	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// PGRepository implements Repository by adapting internal/guild's multi-guild-capable store to a single bound guild
// ID. A deployed process serves exactly one guild; NewPGRepository is where that binding happens. Genuine
// multi-guild operations (creating a guild, listing a user's guilds, transferring ownership) are not exposed over
// HTTP by this process — they belong to whatever provisions new guild deployments — but go through
// internal/guild.Repository directly wherever that lives.
type PGRepository struct {
	guilds  guild.Repository
	guildID snowflake.ID
	log     zerolog.Logger
}

// NewPGRepository wraps a guild.Repository, binding this process's server config to a single guild.
func NewPGRepository(guilds guild.Repository, guildID snowflake.ID, logger zerolog.Logger) *PGRepository {
	return &PGRepository{guilds: guilds, guildID: guildID, log: logger}
}

// Get returns the bound guild's configuration.
func (r *PGRepository) Get(ctx context.Context) (*Config, error) {
	g, err := r.guilds.GetGuild(ctx, r.guildID)
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bound guild: %w", err)
	}
	return fromGuild(g), nil
}

// Update applies the non-nil fields in params to the bound guild and returns the updated config.
func (r *PGRepository) Update(ctx context.Context, params UpdateParams) (*Config, error) {
	g, err := r.guilds.UpdateGuild(ctx, r.guildID, guild.UpdateParams{
		Name:        params.Name,
		Description: params.Description,
		IconKey:     params.IconKey,
		BannerKey:   params.BannerKey,
	})
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update bound guild: %w", err)
	}
	return fromGuild(g), nil
}

// fromGuild converts a guild.Guild into this package's Config, keeping Repository's shape unchanged for callers
// (internal/api/server.go, internal/search) that only ever deal with the one guild this process is bound to.
func fromGuild(g *guild.Guild) *Config {
	return &Config{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		IconKey:     g.IconKey,
		BannerKey:   g.BannerKey,
		OwnerID:     g.OwnerID,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}
