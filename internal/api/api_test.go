package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wabridge/wabridge/internal/bus"
	"github.com/wabridge/wabridge/internal/channel"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Setenv("WHATSAPP_DATASTORE_TYPE", "")
	t.Setenv("WHATSAPP_DATASTORE_URI", "")

	app := fiber.New()
	ch := channel.New(channel.Config{AuthDir: t.TempDir()}, bus.New(600, 100))
	Routes(app, ch)
	return app
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestStatusEndpointReportsDisconnected(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "disconnected", data["status"])
	assert.Equal(t, "whatsapp", data["channel"])
	assert.Equal(t, false, data["logged_in"])
}

func TestSendTextValidatesBody(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/send/text", strings.NewReader(`{"to":"628123456789"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSendTextWhileDisconnected(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/send/text", strings.NewReader(`{"to":"628123456789","text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestSendReactValidatesBody(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/send/react", strings.NewReader(`{"to":"628123456789","emoji":"👍"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
