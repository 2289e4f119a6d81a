package network

import (
	"context"
	"errors"
	"time"

	"chatsync/chat"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Options controls the HTTP and WebSocket surface.
type Options struct {
	// OutboundBuffer is the per-session queue of frames awaiting write.
	OutboundBuffer int
}

// Server exposes the chat service over HTTP routes and a live WebSocket endpoint.
type Server struct {
	app     *fiber.App
	service *chat.Service
	logger  *zap.Logger
	opts    Options

	// ctx bounds every live session; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds the fiber app and registers every route.
func NewServer(service *chat.Service, logger *zap.Logger, options Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		service: service,
		logger:  logger.Named("network"),
		opts:    options,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "chatsync",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.logRequest)
	s.registerRoutes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on address until Shutdown.
func (s *Server) Listen(address string) error {
	s.logger.Info("http server listening", zap.String("address", address))
	return s.app.Listen(address)
}

// Shutdown ends live sessions and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Post("/profiles", s.upsertProfile)
	api.Put("/profiles/:externalID/online", s.setOnlineStatus)
	api.Get("/profiles/:externalID", s.getProfile)
	api.Get("/profiles/:externalID/others", s.listOtherUsers)

	api.Post("/conversations", s.getOrCreateConversation)
	api.Get("/users/:userID/conversations", s.listConversations)

	api.Post("/conversations/:conversationID/messages", s.sendMessage)
	api.Get("/conversations/:conversationID/messages", s.listMessages)
	api.Delete("/messages/:messageID", s.deleteMessage)

	api.Post("/conversations/:conversationID/read", s.markRead)
	api.Get("/conversations/:conversationID/unread", s.unreadCount)

	api.Put("/conversations/:conversationID/typing", s.setTyping)
	api.Delete("/conversations/:conversationID/typing", s.clearTyping)
	api.Get("/conversations/:conversationID/typing", s.listTyping)

	api.Get("/live", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/live", websocket.New(s.serveLive))
}

func (s *Server) serveLive(conn *websocket.Conn) {
	conn.SetReadLimit(MaxFrameSize)
	newSession(conn, s.service, s.logger.Named("session"), s.opts.OutboundBuffer).run(s.ctx)
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		if handlerErr := s.handleError(c, err); handlerErr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	s.logger.Debug("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

// handleError maps service errors to HTTP statuses with a JSON body.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal error"

	var fiberErr *fiber.Error
	switch {
	case errors.Is(err, chat.ErrNotFound):
		status = fiber.StatusNotFound
		message = err.Error()
	case errors.Is(err, chat.ErrInvalidArgument):
		status = fiber.StatusBadRequest
		message = err.Error()
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		message = fiberErr.Message
	default:
		s.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(fiber.Map{"error": message})
}
