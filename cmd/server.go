package main

import (
	"time"

	"github.com/Abraxas-365/rollout/pkg/errx"
	"github.com/Abraxas-365/rollout/pkg/logx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newServer builds the read-only status server: health, progress and
// Prometheus metrics for a running job.
func newServer(container *Container) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "rollout",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: uuid.NewString,
	}))

	app.Get("/health", healthCheckHandler(container))
	app.Get("/progress", progressHandler(container))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use(notFoundHandler)
	return app
}

// ============================================================================
// Handler Functions
// ============================================================================

// healthCheckHandler reports the mirrors' connectivity.
func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":  "healthy",
			"service": "rollout",
		}

		if container.DB != nil {
			if err := container.DB.PingContext(c.UserContext()); err != nil {
				health["db"] = "unhealthy"
				health["db_error"] = err.Error()
				health["status"] = "degraded"
			} else {
				health["db"] = "healthy"
			}
		}

		if container.Redis != nil {
			if err := container.Redis.Ping(c.UserContext()).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["redis_error"] = err.Error()
				health["status"] = "degraded"
			} else {
				health["redis"] = "healthy"
			}
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(health)
	}
}

// progressHandler returns the engine's live progress snapshot.
func progressHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(container.Engine.Progress())
	}
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "Route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"request_id": c.Get("X-Request-ID"),
	})
}

// ============================================================================
// Error Handler
// ============================================================================

// globalErrorHandler converts internal errors to JSON responses
func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.Get("X-Request-ID"),
	}).Errorf("Request error: %v", err)

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"request_id": c.Get("X-Request-ID"),
		})
	}

	var e *errx.Error
	if errx.As(err, &e) {
		response := fiber.Map{
			"error":      e.Message,
			"code":       e.Code,
			"type":       string(e.Type),
			"request_id": c.Get("X-Request-ID"),
		}
		if len(e.Details) > 0 {
			response["details"] = e.Details
		}
		return c.Status(statusFor(e.Type)).JSON(response)
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "Internal Server Error",
		"code":       "INTERNAL_ERROR",
		"request_id": c.Get("X-Request-ID"),
	})
}

func statusFor(t errx.Type) int {
	switch t {
	case errx.TypeValidation, errx.TypeBudget:
		return fiber.StatusBadRequest
	case errx.TypeNotFound:
		return fiber.StatusNotFound
	case errx.TypeConflict:
		return fiber.StatusConflict
	case errx.TypeTransient:
		return fiber.StatusServiceUnavailable
	case errx.TypeExternal:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
