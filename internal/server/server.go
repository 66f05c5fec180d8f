// Package server contains HTTP and WebSocket handlers for the deal room API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dealroom/internal/config"
	"dealroom/internal/conversation"
	"dealroom/internal/directory"
	"dealroom/internal/engine"
	"dealroom/internal/featureflags"
	"dealroom/internal/middleware"
	"dealroom/internal/models"
	"dealroom/internal/notifications"
	"dealroom/internal/observability"
	"dealroom/internal/persist"
	"dealroom/internal/realtime"
	"dealroom/internal/session"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the already-initialized collaborators of a Server. Config,
// Directory and Storage are required.
type Deps struct {
	Config    *config.Config
	Directory directory.Directory
	Storage   persist.Factory
	Redis     *redis.Client
	DB        *gorm.DB
	// Clock drives conversation timers; nil means the wall clock.
	Clock clock.Clock
	// ReplySource overrides the synthetic counterparty replies.
	ReplySource conversation.ReplySource
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	dir            directory.Directory
	storage        persist.Factory
	redis          *redis.Client
	db             *gorm.DB
	clock          clock.Clock
	replySource    conversation.ReplySource
	tokens         *session.TokenProvider
	featureFlags   *featureflags.Manager
	registry       *engine.Registry
	hub            *realtime.Hub
	notifier       *realtime.Notifier
	publisher      engine.Publisher
	promMiddleware *fiberprometheus.FiberPrometheus
	app            *fiber.App
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
}

// NewServer creates a server from initialized dependencies.
func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Directory == nil || deps.Storage == nil {
		return nil, errors.New("server: config, directory and storage are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	s := &Server{
		config:         deps.Config,
		dir:            deps.Directory,
		storage:        deps.Storage,
		redis:          deps.Redis,
		db:             deps.DB,
		clock:          deps.Clock,
		replySource:    deps.ReplySource,
		tokens:         session.NewTokenProvider(deps.Config.JWTSecret, deps.Config.JWTTTL()),
		featureFlags:   featureflags.NewManager(deps.Config.FeatureFlags),
		hub:            realtime.NewHub(),
		promMiddleware: middleware.InitMetrics("dealroom-api"),
	}
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())

	// Logged-out tokens stay rejected until they expire; redis shares the
	// list between instances.
	if s.redis != nil {
		s.tokens.WithRevocations(session.NewRedisRevocations(s.redis))
	} else {
		s.tokens.WithRevocations(session.NewMemoryRevocations())
	}

	// With redis, events travel through pub/sub so every instance's hub sees
	// them; otherwise they go straight to the local hub.
	if s.redis != nil {
		s.notifier = realtime.NewNotifier(s.redis)
		s.publisher = s.notifier
	} else {
		s.publisher = realtime.LocalPublisher{Hub: s.hub}
	}

	s.registry = engine.NewRegistry(s.engineDeps)
	return s, nil
}

// engineDeps builds the collaborators of one user's engine.
func (s *Server) engineDeps(userID string) engine.Deps {
	minDelay, maxDelay := s.config.ReplyDelayBounds()
	return engine.Deps{
		Directory:   s.dir,
		Storage:     s.storage(userID),
		RootKey:     s.config.PersistRootKey,
		Flags:       s.featureFlags,
		Publisher:   s.publisher,
		Clock:       s.clock,
		ReplySource: s.replySource,
		Conversation: conversation.Config{
			TypingTimeout:     s.config.TypingTimeout(),
			ReplyDelayMin:     minDelay,
			ReplyDelayMax:     maxDelay,
			TypingSimInterval: s.config.TypingSimInterval(),
		},
		Notifications: notifications.Config{
			BadgeCap:   s.config.BadgeCap,
			BannerSize: s.config.BannerSize,
		},
		Auth:           s.tokens,
		SimulateTyping: s.simulateTyping,
	}
}

// simulateTyping evaluates the typing_simulation flag each time a chat is
// opened, so the caller's current role decides. An unset flag leaves the
// pulse on.
func (s *Server) simulateTyping(user models.User) bool {
	if !s.featureFlags.Defined(featureflags.TypingSimulation) {
		return true
	}
	return s.featureFlags.Enabled(featureflags.TypingSimulation, user.ID, user.Role)
}

// Registry exposes the per-user engines.
func (s *Server) Registry() *engine.Registry { return s.registry }

// Hub exposes the websocket hub.
func (s *Server) Hub() *realtime.Hub { return s.hub }

// Tokens exposes the session token provider.
func (s *Server) Tokens() *session.TokenProvider { return s.tokens }

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.HealthCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// Public routes
	api.Post("/session", middleware.RateLimit(s.redis, 10, 5*time.Minute, "login"), s.Login)
	api.Get("/navigation", middleware.OptionalAuth(s.tokens), s.GetNavigation)
	api.Get("/navigation/reach", middleware.OptionalAuth(s.tokens), s.CanReach)

	protected := api.Group("", middleware.AuthRequired(s.tokens))

	protected.Get("/session", s.GetSession)
	protected.Delete("/session", s.Logout)
	protected.Get("/features", s.GetFeatureFlags)
	protected.Get("/chats", s.ListChats)

	theme := protected.Group("/theme")
	theme.Get("/", s.GetTheme)
	theme.Put("/", s.SetTheme)
	theme.Post("/toggle", s.ToggleTheme)
	theme.Post("/system", s.SystemThemeChanged)

	// Define specific /:dealId/:resource routes
	deals := protected.Group("/deals")
	deals.Get("/:dealId/chat", s.OpenChat)
	deals.Delete("/:dealId/chat", s.CloseChat)
	sendLimit := middleware.RateLimit(
		s.redis, s.config.MessageRateLimit, time.Duration(s.config.MessageRateWindowSeconds)*time.Second, "send_message")
	deals.Post("/:dealId/messages", sendLimit, s.SendMessage)
	deals.Post("/:dealId/files", sendLimit, s.SendFile)
	deals.Put("/:dealId/status", s.UpdateDealStatus)
	deals.Post("/:dealId/typing", s.Typing)
	deals.Post("/:dealId/messages/:messageId/read", s.MarkRead)

	// Specific /read-all before generic /:id routes
	notes := protected.Group("/notifications")
	notes.Get("/", s.GetNotifications)
	notes.Post("/", s.CreateNotification)
	notes.Post("/read-all", s.MarkAllNotificationsRead)
	notes.Delete("/", s.ClearNotifications)
	notes.Post("/:id/read", s.MarkNotificationRead)
	notes.Delete("/:id", s.DeleteNotification)

	// Websocket event stream; browsers pass the token as a query parameter
	app.Get("/ws", middleware.WebSocketAuthRequired(s.tokens), s.WebsocketHandler())
}

// App builds the fiber application once.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "Deal Room API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// Start wires the hub to redis and serves until the app is shut down.
func (s *Server) Start() error {
	app := s.App()

	if s.notifier != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				observability.GlobalLogger.Error("failed to start hub wiring",
					slog.String("hub", s.hub.Name()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	observability.GlobalLogger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server. Engines are stopped without
// logging anyone out so sessions survive a restart.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownFn()

	var errs []error
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("hub: %w", err))
	}
	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engines: %w", err))
	}

	observability.GlobalLogger.Info("server shutdown complete")
	return errors.Join(errs...)
}

// HealthCheck reports readiness of the optional backends.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "disabled"
	if s.db != nil {
		dbStatus = "healthy"
		if sqlDB, err := s.db.DB(); err != nil {
			dbStatus = "unhealthy"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "unhealthy"
		}
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"sessions": s.registry.Len(),
		"time":     time.Now(),
	})
}
