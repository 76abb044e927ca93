package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	apierrors "github.com/uncord-chat/uncord-protocol/errors"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/snowflake"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// AuthHandler serves authentication endpoints.
type AuthHandler struct {
	Auth *auth.Service
	log  zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{Auth: svc, log: logger}
}

// registerRequest is the JSON body for POST /api/v1/auth/register.
type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginRequest is the JSON body for POST /api/v1/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest is the JSON body for POST /api/v1/auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// verifyEmailRequest is the JSON body for POST /api/v1/auth/verify-email.
type verifyEmailRequest struct {
	Token string `json:"token"`
}

// verifyPasswordRequest is the JSON body for POST /api/v1/auth/verify-password.
type verifyPasswordRequest struct {
	Password string `json:"password"`
}

// mfaVerifyRequest is the JSON body for POST /api/v1/auth/mfa/verify.
type mfaVerifyRequest struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code"`
}

// authResultResponse builds the JSON payload for Register, Login, and MFA verify responses.
func authResultResponse(result *auth.AuthResult) fiber.Map {
	return fiber.Map{
		"user": fiber.Map{
			"id":             result.User.ID,
			"email":          result.User.Email,
			"username":       result.User.Username,
			"email_verified": result.User.EmailVerified,
		},
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	result, err := h.Auth.Register(c, auth.RegisterRequest{
		Email:     body.Email,
		Username:  body.Username,
		Password:  body.Password,
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "register")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, authResultResponse(result))
}

// Login handles POST /api/v1/auth/login. When the account has MFA enabled, the response carries a ticket instead of
// tokens; the client must redeem it via MFAVerify.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	result, err := h.Auth.Login(c, auth.LoginRequest{
		Email:     body.Email,
		Password:  body.Password,
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "login")
	}

	if result.MFARequired {
		return httputil.Success(c, fiber.Map{
			"mfa_required": true,
			"ticket":       result.Ticket,
		})
	}

	return httputil.Success(c, authResultResponse(result.Auth))
}

// MFAVerify handles POST /api/v1/auth/mfa/verify, redeeming the ticket issued by Login for a user whose account has
// MFA enabled.
func (h *AuthHandler) MFAVerify(c fiber.Ctx) error {
	var body mfaVerifyRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	if body.Ticket == "" || body.Code == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "ticket and code are required")
	}

	result, err := h.Auth.VerifyMFA(c, body.Ticket, body.Code)
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "mfa_verify")
	}

	return httputil.Success(c, authResultResponse(result))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var body refreshRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "refresh_token is required")
	}

	tokens, err := h.Auth.Refresh(c, body.RefreshToken)
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "refresh")
	}

	return httputil.Success(c, fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}

// VerifyEmail handles POST /api/v1/auth/verify-email.
func (h *AuthHandler) VerifyEmail(c fiber.Ctx) error {
	var body verifyEmailRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	if body.Token == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "token is required")
	}

	if err := h.Auth.VerifyEmail(c, body.Token); err != nil {
		return mapAuthServiceError(c, err, h.log, "verify_email")
	}

	return httputil.Success(c, fiber.Map{
		"message": "Email verified successfully",
	})
}

// VerifyPassword handles POST /api/v1/auth/verify-password, re-confirming the authenticated user's password before a
// sensitive action (e.g. viewing recovery codes). Requires RequireAuth middleware to have populated c.Locals("userID").
func (h *AuthHandler) VerifyPassword(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body verifyPasswordRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	if body.Password == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "password is required")
	}

	if err := h.Auth.VerifyUserPassword(c, userID, body.Password); err != nil {
		return mapAuthServiceError(c, err, h.log, "verify_password")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ResendVerification handles POST /api/v1/auth/resend-verification. Requires RequireAuth middleware to have populated
// c.Locals("userID"); unlike most authenticated routes it runs before RequireVerifiedEmail, since its entire purpose
// is to help an unverified user.
func (h *AuthHandler) ResendVerification(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	if err := h.Auth.ResendVerification(c, userID); err != nil {
		return mapAuthServiceError(c, err, h.log, "resend_verification")
	}

	return httputil.Success(c, fiber.Map{
		"message": "Verification email sent",
	})
}

// mapAuthServiceError converts auth-layer errors to appropriate HTTP responses. It is shared by every handler that
// calls into auth.Service, so a sentinel added there only needs a branch here once.
func mapAuthServiceError(c fiber.Ctx, err error, log zerolog.Logger, context string) error {
	switch {
	// Validation errors
	case errors.Is(err, auth.ErrInvalidEmail):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidEmail, err.Error())
	case errors.Is(err, auth.ErrUsernameLength),
		errors.Is(err, auth.ErrUsernameInvalidChars):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidUsername, err.Error())
	case errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidPassword, err.Error())

	// Business logic errors
	case errors.Is(err, auth.ErrDisposableEmail):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyTaken):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.AlreadyExists, err.Error())
	case errors.Is(err, auth.ErrAccountTombstoned):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.AlreadyExists, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.InvalidCredentials, err.Error())
	case errors.Is(err, auth.ErrRefreshTokenReused),
		errors.Is(err, auth.ErrRefreshTokenNotFound):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.InvalidToken, "Refresh token is no longer valid")
	case errors.Is(err, auth.ErrInvalidToken):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidToken, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyVerified):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, auth.ErrVerificationCooldown):
		return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, err.Error())

	// MFA errors
	case errors.Is(err, auth.ErrInvalidMFACode):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidToken, err.Error())
	case errors.Is(err, auth.ErrMFANotEnabled):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.MFANotEnabled, err.Error())
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.ValidationError, err.Error())
	case errors.Is(err, auth.ErrMFANotConfigured):
		return httputil.Fail(c, fiber.StatusServiceUnavailable, apierrors.ServiceUnavailable, err.Error())
	case errors.Is(err, auth.ErrMFASetupLocked):
		return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, err.Error())

	// Account errors
	case errors.Is(err, auth.ErrServerOwner):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.ServerOwner, err.Error())
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownUser, "User not found")

	default:
		log.Error().Err(err).Str("handler", context).Msg("unhandled auth service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}
