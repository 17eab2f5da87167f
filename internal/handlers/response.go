package handlers

import (
	"github.com/go-faster/errors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"katalog/internal/assets"
	"katalog/internal/models"
	"katalog/internal/query"
)

// envelope is the body of every API response.
type envelope struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Data       any               `json:"data,omitempty"`
	Pagination *query.Pagination `json:"pagination,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(envelope{Success: true, Message: message, Data: data})
}

// statusFor maps an error to its HTTP status and client message. Anything
// unrecognized is an internal failure whose details stay in the log.
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, models.ErrValidation):
		return fiber.StatusBadRequest, "Validation failed"
	case errors.Is(err, query.ErrInvalidFilter),
		errors.Is(err, assets.ErrInvalidMediaType),
		errors.Is(err, assets.ErrTooManyFiles),
		errors.Is(err, assets.ErrUnknownImage):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, assets.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrForbidden):
		return fiber.StatusForbidden, "You are not allowed to modify this product"
	case errors.Is(err, models.ErrDuplicateSKU):
		return fiber.StatusConflict, "A product with this SKU already exists"
	}
	return fiber.StatusInternalServerError, "Internal server error"
}

func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	status, message := statusFor(err)
	body := envelope{Success: false, Message: message}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body.Errors = verr.Fields
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	} else {
		logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	return c.Status(status).JSON(body)
}

// ErrorHandler renders errors returned by handlers, and fiber's own errors
// such as an exceeded body limit, in the standard envelope.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return respondError(c, logger, err)
	}
}
