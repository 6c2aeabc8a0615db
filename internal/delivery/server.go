package delivery

import (
	"context"
	"errors"
	"net"
	"time"

	"realtime-ws/internal/config"
	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
)

const identityLocal = "identity"

type Server struct {
	config    *config.Config
	wsManager *WSManager
	gate      Authenticator
	presence  PresenceTracker
	app       *fiber.App
	log       zerolog.Logger
}

func NewServer(config *config.Config, wsManager *WSManager, gate Authenticator, presence PresenceTracker, log zerolog.Logger) *Server {
	s := &Server{
		config:    config,
		wsManager: wsManager,
		gate:      gate,
		presence:  presence,
		log:       observability.Component(log, "server"),
	}
	s.app = s.routes()
	return s
}

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Realtime WebSocket & REST Server",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(s.requestLogger)

	corsConfig := cors.Config{
		AllowMethods:     "GET,POST,HEAD,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		AllowCredentials: s.config.AllowCredentials,
		MaxAge:           86400,
	}
	if s.config.IsProduction() {
		corsConfig.AllowOrigins = s.config.GetCORSOrigins()
		s.log.Info().Str("origins", corsConfig.AllowOrigins).Msg("CORS configured for production")
	} else {
		corsConfig.AllowOrigins = "*"
		// Never allow credentials with wildcard origin
		corsConfig.AllowCredentials = false
	}
	app.Use(cors.New(corsConfig))

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(observability.Handler()))

	api := app.Group("/api")
	api.Get("/presence/:identity_id", s.handleGetPresence)

	app.Use("/ws", s.upgradeGate)
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		identity, _ := c.Locals(identityLocal).(*domain.Identity)
		s.wsManager.HandleConnection(c, identity)
	}))

	return app
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("request")
	return err
}

// upgradeGate authenticates a credential sent with the upgrade request. Without
// one the upgrade proceeds and the first frame must authenticate.
func (s *Server) upgradeGate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	raw := c.Get(fiber.HeaderAuthorization)
	if raw == "" {
		raw = c.Query("token")
	}
	if raw == "" {
		return c.Next()
	}

	identity, err := s.gate.Authenticate(c.UserContext(), raw)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   domain.ErrorCode(err),
			"message": domain.ErrorDetail(err),
		})
	}
	c.Locals(identityLocal, &identity)
	return c.Next()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"instance":    s.config.InstanceID,
		"environment": s.config.Environment,
		"connections": s.wsManager.ActiveConnections(),
	})
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	s.log.Info().Str("port", s.config.Port).Msg("realtime server (WebSocket + REST) starting")
	return s.app.Listen(":" + s.config.Port)
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn().Msg("shutdown deadline reached with connections still open")
	}
	return err
}
