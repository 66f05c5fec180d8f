package server

import (
	"context"
	"log/slog"

	"dealroom/internal/observability"
	"dealroom/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebsocketHandler streams the caller's notification events and the events
// of the deal conversations the peer follows.
func (s *Server) WebsocketHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(string)
		if userID == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			observability.GlobalLogger.Warn("websocket register failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		if hello, err := realtime.NewEnvelope("connected", fiber.Map{"user_id": userID}); err == nil {
			client.TrySend(hello)
		}

		go client.WritePump()
		client.ReadPump(func(uid, dealID string) bool {
			return s.isDealParticipant(context.Background(), uid, dealID)
		})
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return upgrade(c)
	}
}
