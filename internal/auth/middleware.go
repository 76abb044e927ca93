package auth

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/uncord-chat/uncord-protocol/errors"

	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/snowflake"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// RequireAuth returns Fiber middleware that validates a JWT Bearer token from
// the Authorization header and stores the user ID in c.Locals("userID").
func RequireAuth(secret, issuer string) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Missing authorization header")
		}

		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Invalid authorization format")
		}
		tokenStr := header[len(prefix):]

		claims, err := ValidateAccessToken(tokenStr, secret, issuer)
		if err != nil {
			code := apierrors.Unauthorized
			message := "Invalid token"

			if errors.Is(err, jwt.ErrTokenExpired) {
				code = apierrors.TokenExpired
				message = "Token has expired"
			}

			return httputil.Fail(c, fiber.StatusUnauthorized, code, message)
		}

		userID, err := snowflake.Parse(claims.Subject)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "Invalid token subject")
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}

// UserGetter is the subset of user.Repository required by RequireVerifiedEmail.
type UserGetter interface {
	GetByID(ctx context.Context, id snowflake.ID) (*user.User, error)
}

// RequireVerifiedEmail returns Fiber middleware that blocks requests from users whose email has not been verified. It
// must run after RequireAuth so that c.Locals("userID") is already populated.
func RequireVerifiedEmail(users UserGetter) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, ok := c.Locals("userID").(snowflake.ID)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing authentication")
		}

		u, err := users.GetByID(c.Context(), userID)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "User not found")
		}

		if !u.EmailVerified {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.EmailNotVerified, "Email verification required")
		}

		return c.Next()
	}
}
