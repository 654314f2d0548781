// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campuspulse/internal/cache"
	"campuspulse/internal/config"
	"campuspulse/internal/database"
	"campuspulse/internal/featureflags"
	"campuspulse/internal/middleware"
	"campuspulse/internal/models"
	"campuspulse/internal/notifications"
	"campuspulse/internal/observability"
	"campuspulse/internal/repository"
	"campuspulse/internal/service"
	"campuspulse/internal/stream"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	logger         *slog.Logger
	wsLogger       *observability.WSLogger
	featureFlags   *featureflags.Manager

	userRepo repository.UserRepository
	chatRepo repository.ChatRepository
	noteRepo repository.NotificationRepository
	postRepo repository.PostRepository

	registry   *notifications.Registry
	chatHub    *notifications.ChatHub
	dispatcher *notifications.Dispatcher
	publisher  stream.Publisher

	chatService         *service.ChatService
	notificationService *service.NotificationService
	router              *service.MessageRouter
	trendingService     *service.TrendingService
	engagementService   *service.EngagementService
	postService         *service.PostService
	userService         *service.UserService
}

// NewServer connects the database, Redis and the event stream, then builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)

	var publisher stream.Publisher
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher = stream.NewKafkaPublisher(brokers, cfg.KafkaEngagementTopic, stream.BreakerConfig{}, middleware.Logger)
	}

	return NewServerWithDeps(cfg, db, cache.GetClient(), publisher)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient and publisher may be nil: delivery then stays on this instance and
// engagement events are dropped.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, publisher stream.Publisher) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("server: config and database are required")
	}
	if publisher == nil {
		publisher = stream.NopPublisher{}
	}
	middleware.InitMiddleware(cfg)

	logger := middleware.Logger
	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("campuspulse-api"),
		logger:         logger,
		wsLogger:       observability.NewWSLogger("chat", logger),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		userRepo:       repository.NewUserRepository(db),
		chatRepo:       repository.NewChatRepository(db),
		noteRepo:       repository.NewNotificationRepository(db),
		postRepo:       repository.NewPostRepository(db),
		publisher:      publisher,
	}

	s.registry = notifications.NewRegistry(s.userRepo, logger)
	s.chatHub = notifications.NewChatHub(cfg.RoomGapTimeout)
	s.dispatcher = notifications.NewDispatcher(s.chatHub, s.registry, notifications.NewNotifier(redisClient))

	s.chatService = service.NewChatService(s.chatRepo, s.userRepo)
	s.notificationService = service.NewNotificationService(s.noteRepo, s.dispatcher, logger)
	s.router = service.NewMessageRouter(s.chatService, s.notificationService, s.dispatcher, logger)
	s.trendingService = service.NewTrendingService(s.postRepo, cfg.TrendingCacheTTL, logger)
	s.engagementService = service.NewEngagementService(s.postRepo, s.userRepo, s.notificationService, publisher, s.featureFlags, logger)
	s.postService = service.NewPostService(s.postRepo, s.userRepo, s.notificationService, logger)
	s.userService = service.NewUserService(s.userRepo, s.notificationService, s.registry)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(middleware.TracingMiddleware())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.HealthCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// Websocket upgrades carry the token in the query string
	api.Get("/ws", middleware.WebSocketAuthRequired, s.WebSocketChatHandler())

	protected := api.Group("", middleware.AuthRequired)

	chats := protected.Group("/chats")
	chats.Post("/", s.CreateChat)
	chats.Get("/", s.GetChats)
	chats.Get("/unread-count", s.GetChatUnreadCount)
	chats.Get("/:id/messages", s.GetMessages)
	chats.Post("/:id/messages", middleware.RateLimit(s.redis, middleware.SendChatLimit), s.SendMessage)
	chats.Post("/:id/read", s.MarkChatRead)
	chats.Delete("/:id/messages/:messageId", s.RemoveMessage)
	chats.Delete("/:id", s.DeleteChat)

	notes := protected.Group("/notifications")
	notes.Get("/", s.GetNotifications)
	notes.Get("/unread-count", s.GetNotificationUnreadCount)
	notes.Post("/read-all", s.MarkAllNotificationsRead)
	notes.Post("/:id/read", s.MarkNotificationRead)

	trending := protected.Group("/trending")
	trending.Get("/posts", s.GetTrendingPosts)
	trending.Get("/categories", s.GetTrendingCategories)
	trending.Get("/sections", s.GetTrendingSections)
	trending.Get("/profiles", s.GetTrendingProfiles)

	posts := protected.Group("/posts")
	posts.Post("/", middleware.RateLimit(s.redis, middleware.CreatePostLimit), s.CreatePost)
	posts.Post("/:id/like", s.LikePost)
	posts.Post("/:id/comments", middleware.RateLimit(s.redis, middleware.CreateCommentLimit), s.CreateComment)
	posts.Delete("/:id/comments/:commentId", s.DeleteComment)
	posts.Post("/:id/share", s.SharePost)
	posts.Get("/:id", s.GetPost)

	users := protected.Group("/users")
	users.Post("/:id/follow", middleware.RateLimit(s.redis, middleware.FollowLimit), s.FollowUser)
	users.Delete("/:id/follow", s.UnfollowUser)
	users.Get("/:id/presence", s.GetPresence)

	protected.Get("/features", s.GetFeatureFlags)
}

// App builds the Fiber app on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "campuspulse",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, err)
			}
			s.logger.ErrorContext(c.UserContext(), "unhandled request error", slog.String("error", err.Error()))
			return models.RespondWithAppError(c, err)
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// HealthCheck reports database and Redis reachability. Redis is optional: without it
// the instance serves single-node delivery and reports "unavailable".
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"connections": s.registry.Count(),
		"time":        time.Now(),
	})
}

// Start wires cross-instance delivery, starts the decay refresher and listens.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	if err := s.dispatcher.Start(ctx); err != nil {
		s.wsLogger.LogLifecycle(ctx, "wiring_failed", slog.String("error", err.Error()))
	} else {
		s.wsLogger.LogLifecycle(ctx, "wired", slog.Bool("redis", s.redis != nil))
	}

	go s.trendingService.RunDecay(ctx, s.config.TrendingRefreshInterval)

	s.logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			s.logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.chatHub.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down chat hub", slog.String("error", err.Error()))
	}

	s.engagementService.Wait()
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("error closing event stream", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			s.logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			s.logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
