// Package httpapi serves fleet views to display consumers over HTTP and a
// websocket contact stream.
package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/signalsfoundry/ais-contact-manager/internal/contacts"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/internal/stream"
)

// RequestIDHeader is read from requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// Metrics records one finished HTTP request.
type Metrics interface {
	ObserveHTTP(method, route string, code int, d time.Duration)
}

// Server bundles the fiber app with what its handlers read from.
type Server struct {
	App *fiber.App

	mgr             *contacts.Manager
	hub             *stream.Hub
	log             logging.Logger
	metrics         Metrics
	defaultOffsetMs int64
}

// Option customises a Server.
type Option func(*Server)

// WithHub enables the websocket stream at /v1/stream.
func WithHub(h *stream.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics records request counts and latencies.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDefaultOffset sets the prediction horizon used when a request does
// not name one.
func WithDefaultOffset(offsetMs int64) Option {
	return func(s *Server) { s.defaultOffsetMs = offsetMs }
}

// New builds the app and registers every route.
func New(mgr *contacts.Manager, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		mgr:             mgr,
		log:             log,
		defaultOffsetMs: 60_000,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.App = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.App.Use(recover.New())
	s.App.Use(s.requestLogger)

	registerRoutes(s)
	return s
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		return s.App.Shutdown()
	}
	return s.App.ShutdownWithTimeout(timeout)
}

func registerRoutes(s *Server) {
	s.App.Get("/health", s.health)

	v1 := s.App.Group("/v1")
	v1.Get("/fleet", s.fleet)
	v1.Get("/fleet/predicted", s.predictedFleet)
	v1.Get("/vessels", s.vessels)
	v1.Get("/vessels/:mmsi/latest", s.latest)
	v1.Get("/vessels/:mmsi/history", s.history)
	v1.Get("/vessels/:mmsi/predicted", s.predictedPositions)
	v1.Post("/reports", s.reports)

	if s.hub != nil {
		registerStream(v1, s.hub)
	}
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()

	ctx := c.UserContext()
	if incoming := c.Get(RequestIDHeader); incoming != "" {
		ctx = logging.ContextWithRequestID(ctx, incoming)
	}
	ctx, reqLog := logging.WithRequestLogger(ctx, s.log)
	c.SetUserContext(logging.ContextWithLogger(ctx, reqLog))
	c.Set(RequestIDHeader, logging.RequestIDFromContext(ctx))

	err := c.Next()

	code := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	} else if err != nil {
		code = fiber.StatusInternalServerError
	}
	route := c.Route().Path
	took := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveHTTP(c.Method(), route, code, took)
	}
	reqLog.Debug(ctx, "http request",
		logging.String("method", c.Method()),
		logging.String("path", c.Path()),
		logging.Int("status", code),
		logging.Duration("took", took),
	)
	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
