package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/paperlogin/paperlogin/internal/logging"
)

// Audit emits structured logs for each request/response lifecycle event. Codes
// appear in paths, so only the route pattern is logged. Errors are rendered
// here through the app's error handler so the logged status is the one sent.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		chainErr := c.Next()
		if chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if service := ServiceFrom(c); service != "" {
			attrs = append(attrs, slog.String("service", service))
		}

		log := logging.FromContext(c.UserContext(), logger)
		if status >= fiber.StatusInternalServerError {
			if chainErr != nil {
				attrs = append(attrs, slog.Any("error", chainErr))
			}
			log.Error("request completed", attrs...)
			return nil
		}

		log.Info("request completed", attrs...)
		return nil
	}
}
