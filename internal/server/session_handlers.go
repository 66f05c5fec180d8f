package server

import (
	"strings"

	"dealroom/internal/gating"
	"dealroom/internal/middleware"
	"dealroom/internal/models"

	"github.com/gofiber/fiber/v2"
)

// LoginRequest names the directory participant to sign in as.
type LoginRequest struct {
	UserID string `json:"user_id"`
}

// SessionResponse describes the signed-in session.
type SessionResponse struct {
	Token      string            `json:"token,omitempty"`
	User       models.User       `json:"user"`
	Visibility gating.Visibility `json:"visibility"`
}

// Login handles POST /api/session. The demo deal room trusts the directory:
// any known participant may sign in and receives a session token.
func (s *Server) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("user_id is required"))
	}

	p, err := s.dir.GetParticipant(c.UserContext(), req.UserID)
	if models.IsNotFound(err) {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Unknown user"))
	}
	if err != nil {
		return respondError(c, err)
	}

	user := p.AsUser()
	token, err := s.tokens.Issue(user)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	e, err := s.registry.Acquire(c.UserContext(), user, token)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SessionResponse{
		Token:      token,
		User:       user,
		Visibility: e.Visibility(),
	})
}

// GetSession handles GET /api/session.
func (s *Server) GetSession(c *fiber.Ctx) error {
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	user, _ := e.Session().CurrentUser()
	return c.JSON(SessionResponse{User: user, Visibility: e.Visibility()})
}

// Logout handles DELETE /api/session. It cancels every timer of the session,
// drops its conversations and notifications and revokes the token. With
// ?forget=true the persisted session and theme are removed too.
func (s *Server) Logout(c *fiber.Ctx) error {
	user, _ := middleware.CurrentUser(c)
	if err := s.tokens.Revoke(c.UserContext(), middleware.CurrentToken(c)); err != nil {
		return respondError(c, err)
	}
	release := s.registry.Release
	if c.QueryBool("forget") {
		release = s.registry.Forget
	}
	if err := release(c.UserContext(), user.ID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) visibility(c *fiber.Ctx) gating.Visibility {
	view := gating.SessionView{}
	if user, ok := middleware.CurrentUser(c); ok {
		view = gating.SessionView{Authenticated: true, UserID: user.ID, Role: user.Role}
	}
	return gating.Derive(view, s.featureFlags)
}

// GetNavigation handles GET /api/navigation. Anonymous callers get the
// public entries only.
func (s *Server) GetNavigation(c *fiber.Ctx) error {
	return c.JSON(s.visibility(c))
}

// CanReach handles GET /api/navigation/reach?path=/deals/create, the guard
// the client router asks before opening a page.
func (s *Server) CanReach(c *fiber.Ctx) error {
	path := strings.TrimSpace(c.Query("path"))
	if !strings.HasPrefix(path, "/") {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("path must start with /"))
	}
	return c.JSON(fiber.Map{"path": path, "reachable": s.visibility(c).CanReach(path)})
}

// GetFeatureFlags handles GET /api/features: the flags evaluated for the
// caller.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	user, _ := middleware.CurrentUser(c)
	return c.JSON(fiber.Map{"flags": s.featureFlags.Snapshot(user.ID, user.Role)})
}
