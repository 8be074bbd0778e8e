package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paperlogin/paperlogin/internal/logincode"
	"github.com/paperlogin/paperlogin/internal/webverify"
)

// RegisterLoginCodeRoutes wires login code endpoints.
func RegisterLoginCodeRoutes(r fiber.Router, h *logincode.Handler) {
	r.Post("/login-codes", h.Issue)
	r.Get("/login-codes", h.HasExisting)
	r.Get("/login-codes/:code", h.Lookup)
	r.Delete("/login-codes/:code", h.Invalidate)
}

// RegisterWebCodeRoutes wires web code endpoints. Issuing a web code is the
// only non-idempotent call and honours Idempotency-Key.
func RegisterWebCodeRoutes(r fiber.Router, h *webverify.Handler, idem fiber.Handler) {
	r.Post("/web-codes", idem, h.Issue)
	r.Get("/web-codes/:code", h.Status)
	r.Post("/web-codes/:code/claim", h.Claim)
	r.Post("/web-codes/:code/consume", h.Consume)
}
