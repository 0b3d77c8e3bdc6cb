package identity_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFiberSession(t *testing.T) {
	svc := newTokenService("test-signing-key", 15*time.Minute, 30*24*time.Hour)
	token, err := svc.IssueAccessToken("user-1", identity.RoleStandard, "")
	require.NoError(t, err)
	claims, err := svc.Validate(token)
	require.NoError(t, err)

	t.Run("reads claims stored by middleware", func(t *testing.T) {
		app := fiber.New()
		app.Get("/probe", func(c *fiber.Ctx) error {
			c.Locals("user", claims)

			got, err := identity.GetFiberSession(c, "user")
			if err != nil {
				return c.SendStatus(fiber.StatusUnauthorized)
			}
			return c.SendString(got.UserID())
		})

		resp, err := app.Test(httptest.NewRequest("GET", "/probe", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("empty locals", func(t *testing.T) {
		app := fiber.New()
		app.Get("/probe", func(c *fiber.Ctx) error {
			_, err := identity.GetFiberSession(c, "user")
			if err != nil {
				return c.SendStatus(fiber.StatusUnauthorized)
			}
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest("GET", "/probe", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}
