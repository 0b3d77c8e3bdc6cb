package identity_test

import (
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouteAuth(t *testing.T) *identity.RouteAuthenticator {
	t.Helper()
	cfg := newTestConfig()
	auther := identity.NewAuthenticator(newTestRepo(t), cfg)
	ra, err := identity.NewHTTPAuthenticator(auther, cfg)
	require.NoError(t, err)
	return ra
}

func TestRouteAuthenticator_ValidateReturnTo(t *testing.T) {
	ra := newTestRouteAuth(t)

	t.Run("relative paths pass", func(t *testing.T) {
		assert.NoError(t, ra.ValidateReturnTo(""))
		assert.NoError(t, ra.ValidateReturnTo("/"))
		assert.NoError(t, ra.ValidateReturnTo("/dashboard"))
		assert.NoError(t, ra.ValidateReturnTo("/settings?tab=billing"))
	})

	t.Run("allowed host passes", func(t *testing.T) {
		assert.NoError(t, ra.ValidateReturnTo("https://app.example.com/welcome"))
		assert.NoError(t, ra.ValidateReturnTo("https://APP.EXAMPLE.COM/welcome"))
	})

	t.Run("other hosts are refused", func(t *testing.T) {
		assert.ErrorIs(t, ra.ValidateReturnTo("https://evil.example.net/"), identity.ErrInvalidReturnTo)
		assert.ErrorIs(t, ra.ValidateReturnTo("https://app.example.com.evil.net/"), identity.ErrInvalidReturnTo)
	})

	t.Run("protocol relative urls are refused", func(t *testing.T) {
		assert.ErrorIs(t, ra.ValidateReturnTo("//evil.example.net/"), identity.ErrInvalidReturnTo)
	})

	t.Run("garbage is refused", func(t *testing.T) {
		assert.ErrorIs(t, ra.ValidateReturnTo("http://"), identity.ErrInvalidReturnTo)
		assert.ErrorIs(t, ra.ValidateReturnTo("not a url"), identity.ErrInvalidReturnTo)
	})
}
