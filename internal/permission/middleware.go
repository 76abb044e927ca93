package permission

import (
	"github.com/gofiber/fiber/v3"
	apierrors "github.com/uncord-chat/uncord-protocol/errors"

	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// RequirePermission returns Fiber middleware that checks whether the authenticated user has the given permission in
// the channel specified by the "channelID" route parameter.
func RequirePermission(resolver *Resolver, perm Permission) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, ok := userIDFromLocals(c)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Authentication required")
		}

		channelID, err := snowflake.Parse(c.Params("channelID"))
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
		}

		allowed, err := resolver.HasPermission(c.Context(), userID, channelID, perm)
		if err != nil {
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Failed to check permissions")
		}
		if !allowed {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You do not have the required permissions")
		}

		return c.Next()
	}
}

// RequireGuildPermission returns Fiber middleware that checks whether the authenticated user has the given
// permission at the guild level, in the guild specified by the "guildID" route parameter.
func RequireGuildPermission(resolver *Resolver, perm Permission) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, ok := userIDFromLocals(c)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Authentication required")
		}

		guildID, err := snowflake.Parse(c.Params("guildID"))
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.NotFound, "Invalid guild ID format")
		}

		allowed, err := resolver.HasGuildPermission(c.Context(), guildID, userID, perm)
		if err != nil {
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Failed to check permissions")
		}
		if !allowed {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You do not have the required permissions")
		}

		return c.Next()
	}
}

func userIDFromLocals(c fiber.Ctx) (snowflake.ID, bool) {
	userIDVal := c.Locals("userID")
	if userIDVal == nil {
		return 0, false
	}
	userID, ok := userIDVal.(snowflake.ID)
	return userID, ok
}
