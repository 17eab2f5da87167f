package middleware_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"katalog/internal/middleware"
	"katalog/internal/services"
)

func newApp(t *testing.T, auth *services.AuthService) *fiber.App {
	app := fiber.New()
	app.Get("/whoami", middleware.AuthRequired(auth, zaptest.NewLogger(t)), func(c *fiber.Ctx) error {
		return c.SendString(middleware.UserID(c))
	})
	return app
}

func TestAuthRequired(t *testing.T) {
	auth := services.NewAuthService("test_jwt_secret", time.Hour)
	app := newApp(t, auth)

	token, err := auth.IssueToken("user-7")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid", header: "Bearer " + token, status: fiber.StatusOK, body: "user-7"},
		{name: "missing", header: "", status: fiber.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, status: fiber.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			if tc.body != "" {
				assert.Equal(t, tc.body, string(body))
			} else {
				assert.Contains(t, string(body), `"success":false`)
			}
		})
	}
}
