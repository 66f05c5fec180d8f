package server

import (
	"strings"

	"dealroom/internal/conversation"
	"dealroom/internal/directory"
	"dealroom/internal/engine"
	"dealroom/internal/middleware"
	"dealroom/internal/models"
	"dealroom/internal/notifications"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest is the body of POST /api/deals/:dealId/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendFileRequest is the body of POST /api/deals/:dealId/files. Only the
// name is shared; uploads are handled elsewhere.
type SendFileRequest struct {
	FileName string `json:"file_name"`
}

// UpdateDealStatusRequest is the body of PUT /api/deals/:dealId/status.
type UpdateDealStatusRequest struct {
	Status models.DealStatus `json:"status"`
}

// chatEngine returns the caller's engine when its session may chat.
func (s *Server) chatEngine(c *fiber.Ctx) (*engine.Engine, string, error) {
	dealID, err := param(c, "dealId")
	if err != nil {
		return nil, "", err
	}
	e, err := s.engineFor(c)
	if err != nil {
		return nil, "", err
	}
	if !e.Visibility().ConversationsActive {
		_ = respondError(c, conversation.ErrSessionInactive)
		return nil, "", errResponseWritten
	}
	return e, dealID, nil
}

// OpenChat handles GET /api/deals/:dealId/chat: it opens the deal's
// conversation, marks it read and returns the transcript.
func (s *Server) OpenChat(c *fiber.Ctx) error {
	e, dealID, err := s.chatEngine(c)
	if err != nil {
		return nil
	}
	view, err := e.OpenChat(c.UserContext(), dealID)
	if err != nil {
		return respondError(c, err)
	}
	if !view.Found {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("deal", dealID))
	}
	return c.JSON(view)
}

// CloseChat handles DELETE /api/deals/:dealId/chat. Pending typing and reply
// timers of the conversation are cancelled; messages are kept.
func (s *Server) CloseChat(c *fiber.Ctx) error {
	e, dealID, err := s.chatEngine(c)
	if err != nil {
		return nil
	}
	return c.JSON(fiber.Map{"closed": e.CloseChat(dealID)})
}

// SendMessage handles POST /api/deals/:dealId/messages.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	e, dealID, err := s.chatEngine(c)
	if err != nil {
		return nil
	}
	var req SendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if strings.TrimSpace(req.Content) == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("content is required"))
	}
	if !e.Conversations().IsOpen(dealID) {
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewValidationError("open the deal chat before sending messages"))
	}

	msg, ok := e.SendMessage(c.UserContext(), dealID, req.Content)
	if !ok {
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewValidationError("message was not accepted"))
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// SendFile handles POST /api/deals/:dealId/files.
func (s *Server) SendFile(c *fiber.Ctx) error {
	e, dealID, err := s.chatEngine(c)
	if err != nil {
		return nil
	}
	var req SendFileRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if strings.TrimSpace(req.FileName) == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("file_name is required"))
	}
	if !e.Conversations().IsOpen(dealID) {
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewValidationError("open the deal chat before sharing files"))
	}

	msg, ok := e.SendFile(c.UserContext(), dealID, req.FileName)
	if !ok {
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewValidationError("file was not accepted"))
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// ListChats handles GET /api/chats: the caller's loaded conversations, most
// recent activity first.
func (s *Server) ListChats(c *fiber.Ctx) error {
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	if !e.Visibility().ConversationsActive {
		return respondError(c, conversation.ErrSessionInactive)
	}
	chats := e.Conversations().Summaries()
	if chats == nil {
		chats = []conversation.Summary{}
	}
	return c.JSON(fiber.Map{"chats": chats})
}

// UpdateDealStatus handles PUT /api/deals/:dealId/status. Live sessions of
// both participants get a system line in the chat, and the other party a
// notification.
func (s *Server) UpdateDealStatus(c *fiber.Ctx) error {
	dealID, err := param(c, "dealId")
	if err != nil {
		return nil
	}
	e, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	var req UpdateDealStatusRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if !req.Status.Valid() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("unknown deal status "+string(req.Status)))
	}
	if !e.Visibility().CanReach(notifications.DealURL(dealID)) {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("deals are not available for this session"))
	}

	ctx := c.UserContext()
	deal, err := s.dir.GetDeal(ctx, dealID)
	if err != nil {
		return respondError(c, err)
	}
	user, _ := middleware.CurrentUser(c)
	if !deal.HasParticipant(user.ID) {
		return respondError(c, conversation.ErrNotParticipant)
	}
	w, ok := s.dir.(directory.DealWriter)
	if !ok {
		return models.RespondWithError(c, fiber.StatusNotImplemented,
			models.NewValidationError("the deal directory is read-only"))
	}
	deal.Status = req.Status
	if err := w.SaveDeal(ctx, deal); err != nil {
		return respondError(c, err)
	}

	for _, id := range deal.Participants() {
		if pe, ok := s.registry.Get(id); ok {
			pe.DealStatusChanged(deal, user.ID)
		}
	}
	return c.JSON(deal)
}

// Typing handles POST /api/deals/:dealId/typing, sent on every keystroke.
func (s *Server) Typing(c *fiber.Ctx) error {
	e, dealID, err := s.chatEngine(c)
	if err != nil {
		return nil
	}
	return c.JSON(fiber.Map{"applied": e.Typing(dealID)})
}

// MarkRead handles POST /api/deals/:dealId/messages/:messageId/read.
func (s *Server) MarkRead(c *fiber.Ctx) error {
	e, dealID, err := s.chatEngine(c)
	if err != nil {
		return nil
	}
	messageID, err := param(c, "messageId")
	if err != nil {
		return nil
	}
	return c.JSON(fiber.Map{"applied": e.MarkRead(dealID, messageID)})
}
