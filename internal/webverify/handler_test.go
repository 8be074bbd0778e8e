package webverify

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/identity"
	"github.com/paperlogin/paperlogin/internal/kvstore"
	"github.com/paperlogin/paperlogin/internal/logging"
	"github.com/paperlogin/paperlogin/internal/middleware"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store := kvstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	h := NewHandler(NewManager(store, codegen.New(), testConfig(), logging.Discard(), nil))

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	app.Post("/web-codes", h.Issue)
	app.Get("/web-codes/:code", h.Status)
	app.Post("/web-codes/:code/claim", h.Claim)
	app.Post("/web-codes/:code/consume", h.Consume)
	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(encoded))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, payload
}

func TestHandlerHandshake(t *testing.T) {
	app := newTestApp(t)

	status, payload := do(t, app, fiber.MethodPost, "/web-codes", u1)
	require.Equal(t, fiber.StatusCreated, status, string(payload))
	var issued issueResponse
	require.NoError(t, json.Unmarshal(payload, &issued))
	require.Len(t, issued.Code, 8)
	base := "/web-codes/" + issued.Code

	status, payload = do(t, app, fiber.MethodPost, base+"/claim", u2)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(payload))

	status, payload = do(t, app, fiber.MethodGet, base, nil)
	require.Equal(t, fiber.StatusOK, status)
	var st statusResponse
	require.NoError(t, json.Unmarshal(payload, &st))
	assert.True(t, st.Exists)
	require.NotNil(t, st.Identity)
	assert.Equal(t, u2, *st.Identity)

	status, payload = do(t, app, fiber.MethodPost, base+"/consume", u1)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"ok":false}`, string(payload))

	status, payload = do(t, app, fiber.MethodPost, base+"/consume", u2)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(payload))

	status, _ = do(t, app, fiber.MethodGet, base, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHandlerUnknownCode(t *testing.T) {
	app := newTestApp(t)

	status, payload := do(t, app, fiber.MethodPost, "/web-codes/doesnotexist/claim", u1)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"ok":false}`, string(payload))

	status, _ = do(t, app, fiber.MethodGet, "/web-codes/doesnotexist", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHandlerRejectsMalformedCode(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{fiber.MethodGet, "/web-codes/bad-code", nil},
		{fiber.MethodPost, "/web-codes/bad-code/claim", u1},
		{fiber.MethodPost, "/web-codes/bad-code/consume", u1},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, payload := do(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Contains(t, string(payload), codegen.CodeInvalid)
		})
	}
}

func TestHandlerInvalidIdentity(t *testing.T) {
	app := newTestApp(t)

	status, payload := do(t, app, fiber.MethodPost, "/web-codes", identity.Identity{DisplayName: "ghost"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, string(payload), identity.CodeInvalid)
}
