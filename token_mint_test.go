package identity_test

import (
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintHandoverToken(t *testing.T) {
	svc := newTokenService("test-signing-key", 15*time.Minute, 30*24*time.Hour)
	user := &identity.User{
		ID:   uuid.New(),
		Role: identity.RoleAdmin,
	}

	t.Run("mints a validatable token with service defaults", func(t *testing.T) {
		token, expiresAt, err := identity.MintHandoverToken(svc, user, identity.HandoverTokenOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, token)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, time.Minute)

		claims, err := svc.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.UserID())
		assert.Equal(t, string(identity.RoleAdmin), claims.Role())
		assert.False(t, claims.IsImpersonated())
	})

	t.Run("ttl override shortens the token", func(t *testing.T) {
		_, expiresAt, err := identity.MintHandoverToken(svc, user, identity.HandoverTokenOptions{
			TTL: 30 * time.Second,
		})
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(30*time.Second), expiresAt, time.Minute)
	})

	t.Run("negative ttl is refused", func(t *testing.T) {
		_, _, err := identity.MintHandoverToken(svc, user, identity.HandoverTokenOptions{
			TTL: -time.Minute,
		})
		require.Error(t, err)
	})

	t.Run("missing arguments", func(t *testing.T) {
		_, _, err := identity.MintHandoverToken(nil, user, identity.HandoverTokenOptions{})
		require.Error(t, err)

		_, _, err = identity.MintHandoverToken(svc, nil, identity.HandoverTokenOptions{})
		require.Error(t, err)
	})
}
