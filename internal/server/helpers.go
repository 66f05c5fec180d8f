package server

import (
	"context"
	"errors"
	"strings"

	"dealroom/internal/conversation"
	"dealroom/internal/engine"
	"dealroom/internal/middleware"
	"dealroom/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// engineFor returns the caller's engine. Engines are created lazily from the
// token, so a restarted server restores sessions on the first request.
func (s *Server) engineFor(c *fiber.Ctx) (*engine.Engine, error) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		_ = models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization required"))
		return nil, errResponseWritten
	}
	e, err := s.registry.Acquire(c.UserContext(), user, middleware.CurrentToken(c))
	if err != nil {
		_ = respondError(c, err)
		return nil, errResponseWritten
	}
	return e, nil
}

// respondError maps domain errors onto the API's status codes.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, conversation.ErrSessionInactive):
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("conversations are not available for this session"))
	default:
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
}

// parseBody decodes the request body into dest. On failure it writes a 400
// JSON response and returns errResponseWritten.
func parseBody(c *fiber.Ctx, dest any) error {
	if err := c.BodyParser(dest); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// param extracts a non-blank route parameter.
func param(c *fiber.Ctx, name string) (string, error) {
	v := strings.TrimSpace(c.Params(name))
	if v == "" {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+name))
		return "", errResponseWritten
	}
	return v, nil
}

// isDealParticipant decides whether a websocket peer may follow a deal's
// conversation.
func (s *Server) isDealParticipant(ctx context.Context, userID, dealID string) bool {
	deal, err := s.dir.GetDeal(ctx, dealID)
	if err != nil {
		return false
	}
	return deal.HasParticipant(userID)
}
