package logincode

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/identity"
)

// Handler exposes login code HTTP endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler builds a login code HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type issueResponse struct {
	Code      string    `json:"code"`
	Reused    bool      `json:"reused"`
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url,omitempty"`
}

// Issue returns the caller's login code, minting one when needed.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var id identity.Identity
	if err := c.BodyParser(&id); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	issued, err := h.manager.IssueOrReuse(c.UserContext(), id)
	if err != nil {
		return err
	}

	url, _ := h.manager.DeriveExternalURL(issued.Code)
	status := http.StatusCreated
	if issued.Reused {
		status = http.StatusOK
	}
	return c.Status(status).JSON(issueResponse{
		Code:      issued.Code,
		Reused:    issued.Reused,
		ExpiresAt: issued.ExpiresAt.UTC(),
		URL:       url,
	})
}

// HasExisting reports whether the identity in the uuid query parameter holds
// a live code.
func (h *Handler) HasExisting(c *fiber.Ctx) error {
	id := identity.Identity{ID: c.Query("uuid")}
	exists, err := h.manager.HasExisting(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"uuid": id.ID, "exists": exists})
}

// Lookup returns the identity a code was issued to.
func (h *Handler) Lookup(c *fiber.Ctx) error {
	code, err := codeParam(c)
	if err != nil {
		return err
	}
	id, ok, err := h.manager.Lookup(c.UserContext(), code)
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(http.StatusNotFound, "unknown login code")
	}
	return c.JSON(id)
}

// Invalidate deletes a login code.
func (h *Handler) Invalidate(c *fiber.Ctx) error {
	code, err := codeParam(c)
	if err != nil {
		return err
	}
	deleted, err := h.manager.Invalidate(c.UserContext(), code)
	if err != nil {
		return err
	}
	if !deleted {
		return fiber.NewError(http.StatusNotFound, "unknown login code")
	}
	return c.SendStatus(http.StatusNoContent)
}

func codeParam(c *fiber.Ctx) (string, error) {
	code := c.Params("code")
	if err := codegen.Check(code); err != nil {
		return "", err
	}
	return code, nil
}
