package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/p-blackswan/access-engine/internal/engine"
	"github.com/p-blackswan/access-engine/internal/health"
	"github.com/p-blackswan/access-engine/internal/metrics"
	"github.com/p-blackswan/access-engine/internal/requestid"
)

// Config holds configuration for the API server.
type Config struct {
	ListenAddr   string
	AuthConfig   AuthConfig
	RateLimit    RateLimitConfig
	CORSOrigins  string
	TokenTTL     time.Duration // default lifetime for issued tokens
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the access engine's Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   Config
}

// NewServer creates and configures a new API server.
func NewServer(
	cfg Config,
	eng *engine.Engine,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Handlers pass ctx-derived strings (route params) into stores that
		// retain them past the request; without Immutable those strings alias
		// fasthttp's reused buffers and get silently rewritten.
		Immutable: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	handlers := NewHandlers(eng, checker, cfg.TokenTTL, logger)

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, metricsCollector, logger)
	s.setupRoutes(handlers, metricsCollector)

	return s
}

func (s *Server) setupMiddleware(cfg Config, metricsCollector *metrics.Metrics, logger zerolog.Logger) {
	// Recovery middleware
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// CORS middleware
	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	// Rate limiter
	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	// Auth middleware
	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	// Request logging and latency
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy probe logging
		if isProbePath(path) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		if metricsCollector != nil {
			metricsCollector.ObserveDuration(c.Route().Path, time.Since(start).Seconds())
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", c.Response().StatusCode()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")

		return err
	})
}

func (s *Server) setupRoutes(h *Handlers, metricsCollector *metrics.Metrics) {
	// Probe endpoints (no auth required — handled in auth middleware)
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	// Prometheus metrics
	if metricsCollector != nil {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(metricsCollector.Handler())
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	// API v1 routes
	v1 := s.app.Group("/api/v1")

	// Template endpoints
	v1.Post("/templates", requireRole(RoleOperator), h.CreateTemplate)
	v1.Get("/templates", h.ListTemplates)
	v1.Get("/templates/:name", h.GetTemplate)
	v1.Get("/templates/:name/effective", h.GetEffectivePermissions)
	v1.Post("/templates/:name/inheritance", requireRole(RoleOperator), h.SetInheritance)
	v1.Post("/templates/:name/rules", requireRole(RoleOperator), h.AddRule)
	v1.Get("/templates/:name/rules", h.ListRules)
	v1.Post("/templates/:name/validate", h.ValidateTemplate)

	// Access request endpoints
	v1.Post("/requests", h.CreateRequest)
	v1.Get("/requests/pending", h.PendingRequests)
	v1.Get("/requests/:id", h.GetRequest)
	v1.Post("/requests/:id/approve", requireRole(RoleOperator), h.ApproveRequest)
	v1.Post("/requests/:id/reject", requireRole(RoleOperator), h.RejectRequest)

	// Grant endpoints
	v1.Post("/grants/elevated", requireRole(RoleAdmin), h.GrantElevated)
	v1.Post("/grants/emergency", requireRole(RoleAdmin), h.GrantEmergency)

	// User endpoints
	v1.Get("/users/:id/permissions", h.UserPermissions)
	v1.Get("/users/:id/elevated", h.UserElevated)
	v1.Get("/users/:id/emergency", h.UserEmergency)
	v1.Delete("/users/:id/access/:component", requireRole(RoleAdmin), h.RevokeAccess)
	v1.Delete("/users/:id/tokens", requireRole(RoleAdmin), h.RevokeUserTokens)

	// Decision point
	v1.Get("/check", h.CheckPermission)

	// Token endpoints
	v1.Post("/tokens", h.GenerateToken)
	v1.Get("/tokens/:token", h.ValidateToken)
	v1.Delete("/tokens/:token", h.RevokeToken)

	// Audit trail
	v1.Get("/audit", requireRole(RoleOperator), h.AuditTrail)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// isProbePath reports whether path is a probe endpoint, which skips auth,
// rate limiting and request logging.
func isProbePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
