package guild

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/permission"
	"github.com/uncord-chat/uncord-server/internal/postgres"
	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// defaultEveryonePermissions is the permission bitfield assigned to a newly created guild's @everyone role. Mirrors
// bootstrap.DefaultEveryonePermissions (first-run seeding), kept separate to avoid an import cycle: bootstrap
// depends on auth, which depends on internal/server, which adapts this package.
var defaultEveryonePermissions = permission.ViewChannel |
	permission.SendMessages |
	permission.ReadMessageHistory |
	permission.AddReactions |
	permission.CreateInstantInvite |
	permission.ManageNicknames |
	permission.Connect |
	permission.Speak |
	permission.UseVAD

const selectColumns = "id, name, description, icon_key, banner_key, owner_id, created_at, updated_at"

// qualifiedSelectColumns is selectColumns with each column prefixed for use in a query that joins guilds with
// another table under the alias "g".
const qualifiedSelectColumns = "g.id, g.name, g.description, g.icon_key, g.banner_key, g.owner_id, g.created_at, g.updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	gen *snowflake.Generator
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed guild repository.
func NewPGRepository(db *pgxpool.Pool, gen *snowflake.Generator, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, gen: gen, log: logger}
}

// CreateGuild inserts a new guild, its @everyone role, a #general text channel, and an owner membership, all inside
// one transaction. The @everyone role reuses the guild's own ID, and every seeded row is stamped with the new guild's
// ID.
func (r *PGRepository) CreateGuild(ctx context.Context, params CreateParams) (*Guild, error) {
	var g *Guild
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		guildID := r.gen.Generate()
		row := tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO guilds (id, name, owner_id) VALUES ($1, $2, $3) RETURNING %s`, selectColumns),
			guildID, params.Name, params.OwnerID,
		)
		var err error
		g, err = scanGuild(row)
		if err != nil {
			return fmt.Errorf("insert guild: %w", err)
		}

		everyoneRoleID := guildID
		if _, err := tx.Exec(ctx,
			`INSERT INTO roles (id, guild_id, name, position, is_everyone, permissions)
			 VALUES ($1, $2, '@everyone', 0, true, $3)`,
			everyoneRoleID, guildID, int64(defaultEveryonePermissions),
		); err != nil {
			return fmt.Errorf("insert @everyone role: %w", err)
		}

		generalChannelID := r.gen.Generate()
		if _, err := tx.Exec(ctx,
			`INSERT INTO channels (id, guild_id, name, type, position) VALUES ($1, $2, 'general', 'text', 0)`,
			generalChannelID, guildID,
		); err != nil {
			return fmt.Errorf("insert #general channel: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO members (guild_id, user_id, status) VALUES ($1, $2, 'active')`,
			guildID, params.OwnerID,
		); err != nil {
			return fmt.Errorf("insert owner member: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO member_roles (user_id, role_id) VALUES ($1, $2)`,
			params.OwnerID, everyoneRoleID,
		); err != nil {
			return fmt.Errorf("assign owner everyone role: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO onboarding_config (id, welcome_channel_id) VALUES ($1, $2)`,
			guildID, generalChannelID,
		); err != nil {
			return fmt.Errorf("insert onboarding config: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGuild returns the guild matching the given ID.
func (r *PGRepository) GetGuild(ctx context.Context, id snowflake.ID) (*Guild, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM guilds WHERE id = $1", selectColumns), id,
	)
	g, err := scanGuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query guild: %w", err)
	}
	return g, nil
}

// UpdateGuild applies the non-nil fields in params to the guild and returns the updated row.
func (r *PGRepository) UpdateGuild(ctx context.Context, id snowflake.ID, params UpdateParams) (*Guild, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{"id": id}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		namedArgs["name"] = *params.Name
	}
	if params.Description != nil {
		setClauses = append(setClauses, "description = @description")
		namedArgs["description"] = *params.Description
	}
	if params.IconKey != nil {
		setClauses = append(setClauses, "icon_key = @icon_key")
		namedArgs["icon_key"] = *params.IconKey
	}
	if params.BannerKey != nil {
		setClauses = append(setClauses, "banner_key = @banner_key")
		namedArgs["banner_key"] = *params.BannerKey
	}

	// No fields to update: return the current row without issuing an UPDATE so the trigger does not bump updated_at.
	if len(setClauses) == 0 {
		return r.GetGuild(ctx, id)
	}

	query := "UPDATE guilds SET " + strings.Join(setClauses, ", ") + " WHERE id = @id RETURNING " + selectColumns
	row := r.db.QueryRow(ctx, query, namedArgs)
	g, err := scanGuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update guild: %w", err)
	}
	return g, nil
}

// DeleteGuild removes a guild. Every channel, category, role, member, bans, and member_roles row scoped to it
// cascades via foreign keys.
func (r *PGRepository) DeleteGuild(ctx context.Context, id snowflake.ID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM guilds WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete guild: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGuildsForUser returns every guild a user holds an active membership in, ordered by join time.
func (r *PGRepository) ListGuildsForUser(ctx context.Context, userID snowflake.ID) ([]Guild, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM guilds g
		 JOIN members m ON m.guild_id = g.id
		 WHERE m.user_id = $1 AND m.status = '%s'
		 ORDER BY m.joined_at`, qualifiedSelectColumns, member.StatusActive),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query guilds for user: %w", err)
	}
	defer rows.Close()

	var guilds []Guild
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guild: %w", err)
		}
		guilds = append(guilds, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guilds for user: %w", err)
	}
	return guilds, nil
}

// TransferOwnership reassigns a guild's owner.
func (r *PGRepository) TransferOwnership(ctx context.Context, id, newOwnerID snowflake.ID) (*Guild, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE guilds SET owner_id = $2 WHERE id = $1 RETURNING %s", selectColumns),
		id, newOwnerID,
	)
	g, err := scanGuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("transfer ownership: %w", err)
	}
	return g, nil
}

// ResolveBoundGuildID returns the id of the guild a single-guild deployment binds to: the earliest-created row in
// the guilds table. Called once at startup, after first-run bootstrap has guaranteed at least one guild exists, to
// construct the guild-bound adapters (internal/server.PGRepository, internal/member.PGRepository).
func ResolveBoundGuildID(ctx context.Context, db *pgxpool.Pool) (snowflake.ID, error) {
	var id snowflake.ID
	err := db.QueryRow(ctx, "SELECT id FROM guilds ORDER BY created_at LIMIT 1").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve bound guild id: %w", err)
	}
	return id, nil
}

// scanGuild scans a single row into a Guild struct.
func scanGuild(row pgx.Row) (*Guild, error) {
	var g Guild
	err := row.Scan(
		&g.ID, &g.Name, &g.Description, &g.IconKey, &g.BannerKey,
		&g.OwnerID, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
