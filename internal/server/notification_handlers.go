package server

import (
	"dealroom/internal/models"
	"dealroom/internal/notifications"

	"github.com/gofiber/fiber/v2"
)

// NotificationsResponse is the header dropdown plus its projections.
type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
	Badge         notifications.Badge   `json:"badge"`
	Banner        []models.Notification `json:"banner"`
}

// CreateNotificationRequest is the body of POST /api/notifications.
type CreateNotificationRequest struct {
	ID        string                  `json:"id"`
	Type      models.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	ActionURL string                  `json:"action_url"`
}

func listResponse(center *notifications.Center) NotificationsResponse {
	return NotificationsResponse{
		Notifications: center.List(),
		UnreadCount:   center.UnreadCount(),
		Badge:         center.Badge(),
		Banner:        center.BannerQueue(),
	}
}

// GetNotifications handles GET /api/notifications.
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	return c.JSON(listResponse(e.Notifications()))
}

// CreateNotification handles POST /api/notifications. Re-posting a known id
// updates it in place; dismissed ids stay dismissed.
func (s *Server) CreateNotification(c *fiber.Ctx) error {
	var req CreateNotificationRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	n, ok := e.Notifications().Add(models.Notification{
		ID:        req.ID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		ActionURL: req.ActionURL,
	})
	if !ok {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("notification was not accepted"))
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

// MarkNotificationRead handles POST /api/notifications/:id/read.
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return nil
	}
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	if _, ok := e.Notifications().Get(id); !ok {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("notification", id))
	}
	applied := e.Notifications().MarkRead(id)
	return c.JSON(fiber.Map{"applied": applied, "badge": e.Notifications().Badge()})
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	updated := e.Notifications().MarkAllRead()
	return c.JSON(fiber.Map{"updated": updated, "badge": e.Notifications().Badge()})
}

// DeleteNotification handles DELETE /api/notifications/:id.
func (s *Server) DeleteNotification(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return nil
	}
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	if !e.Notifications().Remove(id) {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("notification", id))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ClearNotifications handles DELETE /api/notifications.
func (s *Server) ClearNotifications(c *fiber.Ctx) error {
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	return c.JSON(fiber.Map{"cleared": e.Notifications().ClearAll()})
}
