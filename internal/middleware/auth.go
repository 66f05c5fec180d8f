// Package middleware provides the fiber middleware of the HTTP API:
// authentication, request logging, tracing, metrics and rate limiting.
package middleware

import (
	"context"
	"errors"
	"strings"

	"dealroom/internal/models"
	"dealroom/internal/session"

	"github.com/gofiber/fiber/v2"
)

const (
	localUser   = "user"
	localUserID = "userID"
	localToken  = "token"
)

// TokenVerifier resolves a session token into the identity it carries and
// rejects tokens of logged-out sessions. *session.TokenProvider implements it.
type TokenVerifier interface {
	Authenticate(ctx context.Context, token string) (models.User, error)
}

var _ TokenVerifier = (*session.TokenProvider)(nil)

// AuthRequired is a middleware that enforces a valid bearer token.
func AuthRequired(tokens TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization header required"))
		}
		return authenticate(c, tokens, tokenString)
	}
}

// WebSocketAuthRequired validates the token from the "token" query
// parameter, falling back to the Authorization header. Browsers cannot set
// headers on websocket upgrades.
func WebSocketAuthRequired(tokens TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Query("token")
		if tokenString == "" {
			var ok bool
			if tokenString, ok = bearerToken(c); !ok {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Token required"))
			}
		}
		return authenticate(c, tokens, tokenString)
	}
}

// OptionalAuth resolves the identity when a valid bearer token is present and
// lets anonymous requests through otherwise.
func OptionalAuth(tokens TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return c.Next()
		}
		user, err := tokens.Authenticate(c.UserContext(), tokenString)
		if err != nil {
			return c.Next()
		}
		setIdentity(c, user, tokenString)
		return c.Next()
	}
}

func authenticate(c *fiber.Ctx, tokens TokenVerifier, tokenString string) error {
	user, err := tokens.Authenticate(c.UserContext(), tokenString)
	if errors.Is(err, session.ErrTokenRevoked) {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Token has been revoked"))
	}
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid or expired token"))
	}
	setIdentity(c, user, tokenString)
	return c.Next()
}

func setIdentity(c *fiber.Ctx, user models.User, token string) {
	c.Locals(localUser, user)
	c.Locals(localUserID, user.ID)
	c.Locals(localToken, token)
	// Sync to UserContext for logging and downstream services
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, user.ID))
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(c *fiber.Ctx) (string, bool) {
	parts := strings.Split(c.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// CurrentUser returns the identity stored by the auth middleware.
func CurrentUser(c *fiber.Ctx) (models.User, bool) {
	u, ok := c.Locals(localUser).(models.User)
	return u, ok
}

// CurrentToken returns the raw token the request authenticated with.
func CurrentToken(c *fiber.Ctx) string {
	t, _ := c.Locals(localToken).(string)
	return t
}
