package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/permission"
	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

var sanitizeUsername = regexp.MustCompile(`[^a-zA-Z0-9_.]`)

// DefaultEveryonePermissions is the permission bitfield assigned to the @everyone role during first-run initialization.
var DefaultEveryonePermissions = permission.ViewChannel |
	permission.SendMessages |
	permission.ReadMessageHistory |
	permission.AddReactions |
	permission.CreateInstantInvite |
	permission.ManageNicknames |
	permission.Connect |
	permission.Speak |
	permission.UseVAD

// IsFirstRun returns true when the guilds table has no rows.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(*) FROM guilds").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit seeds the database with the owner account, default roles, channels, and onboarding config inside a
// single transaction. IDs are generated application-side via gen, the same generator shared with the rest of the
// server, so the seeded rows sort correctly alongside everything created afterward.
func RunFirstInit(ctx context.Context, db *pgxpool.Pool, cfg *config.Config, gen *snowflake.Generator, logger zerolog.Logger) error {
	if cfg.InitOwnerEmail == "" || cfg.InitOwnerPassword == "" {
		return fmt.Errorf("INIT_OWNER_EMAIL and INIT_OWNER_PASSWORD must be set for first-run initialization")
	}

	ownerEmail, _, err := auth.ValidateEmail(cfg.InitOwnerEmail)
	if err != nil {
		return fmt.Errorf("invalid INIT_OWNER_EMAIL: %w", err)
	}

	hash, err := auth.HashPassword(
		cfg.InitOwnerPassword,
		cfg.Argon2Memory,
		cfg.Argon2Iterations,
		cfg.Argon2Parallelism,
		cfg.Argon2SaltLength,
		cfg.Argon2KeyLength,
	)
	if err != nil {
		return fmt.Errorf("hash owner password: %w", err)
	}

	// Derive username from email local part, stripping invalid characters.
	username := ownerEmail
	if idx := strings.Index(username, "@"); idx > 0 {
		username = username[:idx]
	}
	username = sanitizeUsername.ReplaceAllString(username, "")
	if err := auth.ValidateUsername(username); err != nil {
		return fmt.Errorf("derived owner username %q from email is invalid: %w", username, err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin init transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Warn().Err(err).Msg("tx rollback failed")
		}
	}()

	// Insert owner user
	ownerID := gen.Generate()
	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, email, username, password_hash, email_verified)
		 VALUES ($1, $2, $3, $4, true)`,
		ownerID, ownerEmail, username, hash,
	)
	if err != nil {
		return fmt.Errorf("insert owner user: %w", err)
	}

	// Insert the guild this process is bound to. internal/server.PGRepository reads cfg's bound guild ID back out of
	// this same row; every role, channel, and category created below is scoped to it.
	guildID := gen.Generate()
	_, err = tx.Exec(ctx,
		`INSERT INTO guilds (id, name, description, owner_id)
		 VALUES ($1, $2, $3, $4)`,
		guildID, cfg.ServerName, cfg.ServerDescription, ownerID,
	)
	if err != nil {
		return fmt.Errorf("insert guild: %w", err)
	}

	// Insert @everyone role; it shares the guild's ID
	everyoneRoleID := guildID
	_, err = tx.Exec(ctx,
		`INSERT INTO roles (id, guild_id, name, position, is_everyone, permissions)
		 VALUES ($1, $2, '@everyone', 0, true, $3)`,
		everyoneRoleID, guildID, int64(DefaultEveryonePermissions),
	)
	if err != nil {
		return fmt.Errorf("insert @everyone role: %w", err)
	}

	// Insert owner as member
	_, err = tx.Exec(ctx,
		`INSERT INTO members (guild_id, user_id, status) VALUES ($1, $2, 'active')`,
		guildID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("insert owner member: %w", err)
	}

	// Assign @everyone role to owner
	_, err = tx.Exec(ctx,
		`INSERT INTO member_roles (user_id, role_id) VALUES ($1, $2)`,
		ownerID, everyoneRoleID,
	)
	if err != nil {
		return fmt.Errorf("insert owner member_roles: %w", err)
	}

	// Insert #general channel
	generalChannelID := gen.Generate()
	_, err = tx.Exec(ctx,
		`INSERT INTO channels (id, guild_id, name, type, position) VALUES ($1, $2, 'general', 'text', 0)`,
		generalChannelID, guildID,
	)
	if err != nil {
		return fmt.Errorf("insert #general channel: %w", err)
	}

	// Insert #welcome channel
	welcomeChannelID := gen.Generate()
	_, err = tx.Exec(ctx,
		`INSERT INTO channels (id, guild_id, name, type, position) VALUES ($1, $2, 'welcome', 'text', 1)`,
		welcomeChannelID, guildID,
	)
	if err != nil {
		return fmt.Errorf("insert #welcome channel: %w", err)
	}

	// Insert onboarding_config
	_, err = tx.Exec(ctx,
		`INSERT INTO onboarding_config (
			welcome_channel_id,
			require_rules_acceptance,
			require_email_verification,
			min_account_age_seconds,
			require_phone,
			require_captcha
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		welcomeChannelID,
		cfg.OnboardingRequireRules,
		cfg.OnboardingRequireEmailVerification,
		cfg.OnboardingMinAccountAge,
		cfg.OnboardingRequirePhone,
		cfg.OnboardingRequireCaptcha,
	)
	if err != nil {
		return fmt.Errorf("insert onboarding_config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit init transaction: %w", err)
	}

	return nil
}
