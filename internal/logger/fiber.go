package logger

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// FiberMiddleware tags every request with an id (reusing an inbound
// X-Request-ID), puts a request-scoped logger into the user context and logs
// the request once it completes.
func FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))

		err := c.Next()
		if err != nil {
			// let the app error handler write the status before we read it
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		route := ""
		if r := c.Route(); r != nil {
			route = r.Path
		}

		attrs := []any{
			"status", c.Response().StatusCode(),
			"method", c.Method(),
			"path", c.OriginalURL(),
			"route", route,
			"ip", c.IP(),
			"user_agent", c.Get(fiber.HeaderUserAgent),
			"latency_ms", float64(time.Since(start).Microseconds()) / 1000.0,
		}

		if err != nil {
			attrs = append(attrs, "err", err.Error())
		}

		l := FromContext(c.UserContext())
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			l.Error("http request", attrs...)
		} else {
			l.Info("http request", attrs...)
		}
		return nil
	}
}
