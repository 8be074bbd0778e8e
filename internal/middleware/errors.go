package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/identity"
	"github.com/paperlogin/paperlogin/internal/kvstore"
	"github.com/paperlogin/paperlogin/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ErrorHandler renders handler errors as JSON. Store outages become 503 so
// callers know to retry; exhausted generation is a server fault.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := http.StatusInternalServerError
		resp := errorResponse{Error: "internal error"}

		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			status = fe.Code
			resp.Error = fe.Message
		case kvstore.IsUnavailable(err):
			status = http.StatusServiceUnavailable
			resp = errorResponse{Error: "store unavailable, retry later", Code: kvstore.CodeUnavailable}
		case errors.Is(err, codegen.ErrExhausted):
			resp = errorResponse{Error: "could not allocate a code", Code: codegen.CodeExhausted}
		case errors.Is(err, codegen.ErrInvalidCode):
			status = http.StatusBadRequest
			resp = errorResponse{Error: "invalid code", Code: codegen.CodeInvalid}
		case errors.Is(err, identity.ErrInvalid):
			status = http.StatusBadRequest
			resp = errorResponse{Error: "identity id is required", Code: identity.CodeInvalid}
		default:
			logging.FromContext(c.UserContext(), logger).Error("unhandled request error", slog.Any("error", err))
		}

		return c.Status(status).JSON(resp)
	}
}
