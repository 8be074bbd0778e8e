package webverify

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/identity"
)

// Handler exposes web code HTTP endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler builds a web code HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type issueResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statusResponse struct {
	Exists   bool               `json:"exists"`
	Identity *identity.Identity `json:"identity,omitempty"`
}

type resultResponse struct {
	OK bool `json:"ok"`
}

// Issue mints a web code for the identity in the body.
func (h *Handler) Issue(c *fiber.Ctx) error {
	id, err := parseIdentity(c)
	if err != nil {
		return err
	}
	issued, err := h.manager.Issue(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(issueResponse{Code: issued.Code, ExpiresAt: issued.ExpiresAt.UTC()})
}

// Status reports whether a code is live and who it is bound to.
func (h *Handler) Status(c *fiber.Ctx) error {
	code, err := codeParam(c)
	if err != nil {
		return err
	}
	exists, err := h.manager.Exists(c.UserContext(), code)
	if err != nil {
		return err
	}
	if !exists {
		return fiber.NewError(http.StatusNotFound, "unknown web code")
	}

	resp := statusResponse{Exists: true}
	id, ok, err := h.manager.Lookup(c.UserContext(), code)
	if err != nil {
		return err
	}
	if ok {
		resp.Identity = &id
	}
	return c.JSON(resp)
}

// Claim binds the code to the identity in the body.
func (h *Handler) Claim(c *fiber.Ctx) error {
	code, err := codeParam(c)
	if err != nil {
		return err
	}
	id, err := parseIdentity(c)
	if err != nil {
		return err
	}
	ok, err := h.manager.Claim(c.UserContext(), id, code)
	if err != nil {
		return err
	}
	return c.JSON(resultResponse{OK: ok})
}

// Consume spends the code if it is bound to the identity in the body.
func (h *Handler) Consume(c *fiber.Ctx) error {
	code, err := codeParam(c)
	if err != nil {
		return err
	}
	id, err := parseIdentity(c)
	if err != nil {
		return err
	}
	ok, err := h.manager.ConsumeIfBoundTo(c.UserContext(), id, code)
	if err != nil {
		return err
	}
	return c.JSON(resultResponse{OK: ok})
}

func parseIdentity(c *fiber.Ctx) (identity.Identity, error) {
	var id identity.Identity
	if err := c.BodyParser(&id); err != nil {
		return identity.Identity{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return id, nil
}

func codeParam(c *fiber.Ctx) (string, error) {
	code := c.Params("code")
	if err := codegen.Check(code); err != nil {
		return "", err
	}
	return code, nil
}
