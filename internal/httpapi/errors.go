package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/MagnunAVF/shortlinks/internal"
)

// ErrorHandler writes every error as {"error": msg}. Domain errors that a
// handler did not translate get a generic message for their class; anything
// unrecognised becomes a 500 without detail.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status, msg := fiber.StatusInternalServerError, "Internal Server Error"

	var ferr *fiber.Error
	switch {
	case errors.As(err, &ferr):
		status, msg = ferr.Code, ferr.Message
	case errors.Is(err, internal.ErrNotFound):
		status, msg = fiber.StatusNotFound, "Not found"
	case errors.Is(err, internal.ErrConflict):
		status, msg = fiber.StatusBadRequest, "Conflict"
	case errors.Is(err, internal.ErrValidation):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, internal.ErrUnauthorized):
		status, msg = fiber.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, internal.ErrForbidden):
		status, msg = fiber.StatusForbidden, "Forbidden"
	case errors.Is(err, internal.ErrUnavailable):
		status, msg = fiber.StatusServiceUnavailable, "Service Unavailable"
	}

	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// messages holds the route-specific wording for domain errors.
type messages struct {
	notFound string
	conflict string
}

// translate turns a domain error into a *fiber.Error carrying the route's
// wording. Errors without a wording pass through to ErrorHandler.
func (m messages) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case m.notFound != "" && errors.Is(err, internal.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, m.notFound)
	case m.conflict != "" && errors.Is(err, internal.ErrConflict):
		return fiber.NewError(fiber.StatusBadRequest, m.conflict)
	}
	return err
}
