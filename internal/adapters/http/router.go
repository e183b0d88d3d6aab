package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/melih/lighthouse-stack/internal/logging"
)

// NewControlPlane builds the fiber app serving the stack control API.
func NewControlPlane(h *StackHandler, gatherer prometheus.Gatherer, logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "lighthouse-stack",
		DisableStartupMessage: true,
		// rollouts wait for readiness, give them room
		WriteTimeout: 15 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestLogger(logger))

	app.Get("/healthz", Healthz)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Routes for stack operations
	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Get("/manifest", h.GetManifest)
	v1.Get("/verify", h.Verify)

	stack := v1.Group("/stack")
	stack.Post("/up", h.Up)
	stack.Post("/down", h.Down)

	services := v1.Group("/services")
	services.Get("/", h.ListServices)
	services.Post("/:name/recreate", h.RecreateService)
	services.Get("/:name/logs", h.GetServiceLogs)

	return app
}

// requestLogger puts a request scoped logger in the user context and logs
// every request once it is served.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqLogger := logger.With("request_id", c.GetRespHeader(fiber.HeaderXRequestID))
		c.SetUserContext(logging.WithLogger(c.UserContext(), reqLogger))

		err := c.Next()
		reqLogger.InfoContext(c.UserContext(), "request served",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"took", time.Since(start).Round(time.Microsecond),
		)
		return err
	}
}
