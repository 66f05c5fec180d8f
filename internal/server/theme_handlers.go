package server

import (
	"dealroom/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ThemeRequest carries a theme mode, "light" or "dark".
type ThemeRequest struct {
	Mode string `json:"mode"`
}

// GetTheme handles GET /api/theme.
func (s *Server) GetTheme(c *fiber.Ctx) error {
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	return c.JSON(e.Theme().Snapshot())
}

// SetTheme handles PUT /api/theme.
func (s *Server) SetTheme(c *fiber.Ctx) error {
	mode, err := parseMode(c)
	if err != nil {
		return nil
	}
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	if err := e.SetTheme(c.UserContext(), mode); err != nil {
		return respondError(c, err)
	}
	return c.JSON(e.Theme().Snapshot())
}

// ToggleTheme handles POST /api/theme/toggle.
func (s *Server) ToggleTheme(c *fiber.Ctx) error {
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	if _, err := e.ToggleTheme(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(e.Theme().Snapshot())
}

// SystemThemeChanged handles POST /api/theme/system, forwarded by clients
// when the operating system preference changes.
func (s *Server) SystemThemeChanged(c *fiber.Ctx) error {
	mode, err := parseMode(c)
	if err != nil {
		return nil
	}
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	changed, err := e.SystemThemeChanged(c.UserContext(), mode)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"changed": changed,
		"theme":   e.Theme().Snapshot(),
	})
}

func parseMode(c *fiber.Ctx) (models.ThemeMode, error) {
	var req ThemeRequest
	if err := parseBody(c, &req); err != nil {
		return "", err
	}
	mode, err := models.ParseThemeMode(req.Mode)
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, err)
		return "", errResponseWritten
	}
	return mode, nil
}
