package permission

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// Resolver computes effective permissions for a user in a guild or channel, following the base-permission and
// overwrite-application algorithm: owner bypass, role union (always including the implicit @everyone role, whose id
// equals the guild id), the ADMINISTRATOR wildcard short-circuit, then ordered overwrite application.
type Resolver struct {
	store Store
	cache Cache
	log   zerolog.Logger
}

// NewResolver creates a new permission resolver.
func NewResolver(store Store, cache Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, log: logger}
}

// Resolve returns the effective permissions for a user in a channel, using the cache when available. A cache error
// is non-fatal: dispatch/read paths fall through to a full compute rather than fail closed.
func (r *Resolver) Resolve(ctx context.Context, userID, channelID snowflake.ID) (Permission, error) {
	perm, ok, err := r.cache.Get(ctx, userID, channelID)
	if err != nil {
		r.log.Warn().Err(err).Msg("permission cache get failed, falling through to compute")
	}
	if ok {
		return perm, nil
	}

	perm, err = r.computeChannel(ctx, userID, channelID)
	if err != nil {
		return 0, err
	}

	if cacheErr := r.cache.Set(ctx, userID, channelID, perm); cacheErr != nil {
		r.log.Warn().Err(cacheErr).Msg("permission cache set failed")
	}

	return perm, nil
}

// HasPermission checks whether a user has a specific permission in a channel.
func (r *Resolver) HasPermission(ctx context.Context, userID, channelID snowflake.ID, perm Permission) (bool, error) {
	effective, err := r.Resolve(ctx, userID, channelID)
	if err != nil {
		return false, err
	}
	return effective.IsAdministrator() || effective.Has(perm), nil
}

// FilterPermitted resolves whether a single user holds perm in each of the given channels, batching the cache lookup
// and cache backfill across all channels in one round trip. The returned slice is parallel to channelIDs.
func (r *Resolver) FilterPermitted(ctx context.Context, userID snowflake.ID, channelIDs []snowflake.ID, perm Permission) ([]bool, error) {
	cached, err := r.cache.GetMany(ctx, userID, channelIDs)
	if err != nil {
		r.log.Warn().Err(err).Msg("permission cache batch get failed, falling through to compute")
		cached = nil
	}

	result := make([]bool, len(channelIDs))
	toCache := make(map[snowflake.ID]Permission)

	for i, chID := range channelIDs {
		effective, ok := cached[chID]
		if !ok {
			effective, err = r.computeChannel(ctx, userID, chID)
			if err != nil {
				return nil, err
			}
			toCache[chID] = effective
		}
		result[i] = effective.IsAdministrator() || effective.Has(perm)
	}

	if len(toCache) > 0 {
		if err := r.cache.SetMany(ctx, userID, toCache); err != nil {
			r.log.Warn().Err(err).Msg("permission cache batch set failed")
		}
	}

	return result, nil
}

// FilterUsersPermitted resolves whether each of the given users holds perm in a single channel, batching the cache
// lookup and cache backfill across all users in one round trip. The returned slice is parallel to userIDs.
func (r *Resolver) FilterUsersPermitted(ctx context.Context, userIDs []snowflake.ID, channelID snowflake.ID, perm Permission) ([]bool, error) {
	cached, err := r.cache.GetManyUsers(ctx, userIDs, channelID)
	if err != nil {
		r.log.Warn().Err(err).Msg("permission cache batch get failed, falling through to compute")
		cached = nil
	}

	result := make([]bool, len(userIDs))
	toCache := make(map[snowflake.ID]Permission)

	for i, uid := range userIDs {
		effective, ok := cached[uid]
		if !ok {
			effective, err = r.computeChannel(ctx, uid, channelID)
			if err != nil {
				return nil, err
			}
			toCache[uid] = effective
		}
		result[i] = effective.IsAdministrator() || effective.Has(perm)
	}

	if len(toCache) > 0 {
		if err := r.cache.SetManyUsers(ctx, channelID, toCache); err != nil {
			r.log.Warn().Err(err).Msg("permission cache batch set users failed")
		}
	}

	return result, nil
}

// ResolveGuild returns the effective guild-level permissions for a user (base permissions per the resolution
// algorithm's owner-bypass and role-union steps; channel and category overwrites do not apply at this level).
// Guild-level results are always computed directly against the store: only the per-channel result is cached.
func (r *Resolver) ResolveGuild(ctx context.Context, guildID, userID snowflake.ID) (Permission, error) {
	return r.baseGuildPermissions(ctx, guildID, userID)
}

// HasGuildPermission checks whether a user has a specific guild-level permission.
func (r *Resolver) HasGuildPermission(ctx context.Context, guildID, userID snowflake.ID, perm Permission) (bool, error) {
	effective, err := r.ResolveGuild(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return effective.IsAdministrator() || effective.Has(perm), nil
}

// baseGuildPermissions implements the owner-bypass / role-union / administrator-short-circuit steps of the
// resolution algorithm.
func (r *Resolver) baseGuildPermissions(ctx context.Context, guildID, userID snowflake.ID) (Permission, error) {
	isOwner, err := r.store.IsOwner(ctx, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("check owner: %w", err)
	}
	if isOwner {
		return All, nil
	}

	roleEntries, err := r.store.RolePermissions(ctx, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("get role permissions: %w", err)
	}

	var base Permission
	for _, entry := range roleEntries {
		base = base.Add(entry.Permissions)
	}

	if base.IsAdministrator() {
		return All, nil
	}

	return base, nil
}

// computeChannel runs the full channel-permission algorithm: base guild permissions, then ordered overwrite
// application (@everyone overwrite, merged role overwrites, member-specific overwrite).
func (r *Resolver) computeChannel(ctx context.Context, userID, channelID snowflake.ID) (Permission, error) {
	chanInfo, err := r.store.ChannelInfo(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("get channel info: %w", err)
	}

	isOwner, err := r.store.IsOwner(ctx, chanInfo.GuildID, userID)
	if err != nil {
		return 0, fmt.Errorf("check owner: %w", err)
	}
	if isOwner {
		return All, nil
	}

	roleEntries, err := r.store.RolePermissions(ctx, chanInfo.GuildID, userID)
	if err != nil {
		return 0, fmt.Errorf("get role permissions: %w", err)
	}

	var base Permission
	roleIDs := make(map[snowflake.ID]struct{}, len(roleEntries))
	for _, entry := range roleEntries {
		base = base.Add(entry.Permissions)
		roleIDs[entry.RoleID] = struct{}{}
	}

	// Admin/owner short-circuit bypasses all overwrites.
	if base.IsAdministrator() {
		return All, nil
	}

	if chanInfo.CategoryID != nil {
		catOverrides, err := r.store.Overrides(ctx, TargetCategory, *chanInfo.CategoryID)
		if err != nil {
			return 0, fmt.Errorf("get category overrides: %w", err)
		}
		base = applyOverwriteSet(base, catOverrides, roleIDs, chanInfo.GuildID, userID)
	}

	chanOverrides, err := r.store.Overrides(ctx, TargetChannel, channelID)
	if err != nil {
		return 0, fmt.Errorf("get channel overrides: %w", err)
	}
	base = applyOverwriteSet(base, chanOverrides, roleIDs, chanInfo.GuildID, userID)

	return base, nil
}

// applyOverwriteSet applies one target's overrides in the mandated order: the @everyone overwrite (role id ==
// guildID) first, then the union of the user's other role overwrites applied once, then the member-specific
// overwrite last (highest precedence).
func applyOverwriteSet(base Permission, overrides []Override, userRoles map[snowflake.ID]struct{}, guildID, userID snowflake.ID) Permission {
	var everyoneAllow, everyoneDeny Permission
	var roleAllow, roleDeny Permission
	var memberOverride *Override
	haveEveryone := false

	for i := range overrides {
		o := &overrides[i]
		switch {
		case o.PrincipalType == PrincipalMember && o.PrincipalID == userID:
			memberOverride = o
		case o.PrincipalType == PrincipalRole && o.PrincipalID == guildID:
			everyoneAllow, everyoneDeny = o.Allow, o.Deny
			haveEveryone = true
		case o.PrincipalType == PrincipalRole:
			if _, held := userRoles[o.PrincipalID]; held {
				roleAllow = roleAllow.Add(o.Allow)
				roleDeny = roleDeny.Add(o.Deny)
			}
		}
	}

	if haveEveryone {
		base = ApplyOverwrite(base, everyoneAllow, everyoneDeny)
	}

	base = ApplyOverwrite(base, roleAllow, roleDeny)

	if memberOverride != nil {
		base = ApplyOverwrite(base, memberOverride.Allow, memberOverride.Deny)
	}

	return base
}
