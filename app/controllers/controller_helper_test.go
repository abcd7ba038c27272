package controllers

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare", map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "10.0.0.1"}, "203.0.113.7"},
		{"forwarded list", map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.1"}, "198.51.100.2"},
		{"real ip", map[string]string{"X-Real-IP": "2001:db8::1"}, "2001:db8::1"},
		{"socket", nil, "0.0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			var got string
			app.Get("/", func(c *fiber.Ctx) error {
				got = GetClientIP(c)
				return nil
			})
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			_, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPagination(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		limit, offset := pagination(c)
		return c.JSON(fiber.Map{"limit": limit, "offset": offset})
	})

	cases := map[string]string{
		"/":                    `{"limit":50,"offset":0}`,
		"/?limit=2&offset=4":   `{"limit":2,"offset":4}`,
		"/?limit=999":          `{"limit":200,"offset":0}`,
		"/?limit=-1&offset=-9": `{"limit":50,"offset":0}`,
	}
	for path, want := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		assert.JSONEq(t, want, buf.String(), path)
	}
}

func TestBindJSON(t *testing.T) {
	type body struct {
		SessionID string `json:"sessionId" validate:"required"`
	}
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		var b body
		if err := bindJSON(c, &b); err != nil {
			return apperror.Respond(c, err)
		}
		return c.SendString(b.SessionID)
	})

	post := func(raw string) (int, string) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return resp.StatusCode, buf.String()
	}

	status, out := post(`{"sessionId":"cs_1"}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "cs_1", out)

	status, out = post(`{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, out, "sessionID failed required")

	status, _ = post(`{not json`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
