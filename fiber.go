package identity

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// GetFiberSession reads the authenticated claims for handlers written
// against fiber directly rather than the router abstraction.
func GetFiberSession(c *fiber.Ctx, key string) (AuthClaims, error) {
	if key == "" {
		key = "user"
	}

	raw := c.Locals(key)
	if raw == nil {
		return nil, ErrTokenInvalid
	}

	if claims, ok := raw.(AuthClaims); ok {
		return claims, nil
	}

	if token, ok := raw.(*jwt.Token); ok {
		if claims, ok := token.Claims.(*JWTClaims); ok {
			return claims, nil
		}
	}

	return nil, ErrTokenInvalid
}
