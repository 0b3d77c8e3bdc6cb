package identity_test

import (
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
)

func TestUserRole(t *testing.T) {
	t.Run("validity", func(t *testing.T) {
		assert.True(t, identity.RoleStandard.IsValid())
		assert.True(t, identity.RoleAdmin.IsValid())
		assert.False(t, identity.UserRole("superuser").IsValid())
		assert.False(t, identity.UserRole("").IsValid())
	})

	t.Run("admin check", func(t *testing.T) {
		assert.True(t, identity.RoleAdmin.IsAdmin())
		assert.False(t, identity.RoleStandard.IsAdmin())
	})

	t.Run("hierarchy", func(t *testing.T) {
		assert.True(t, identity.RoleAdmin.IsAtLeast(identity.RoleStandard))
		assert.True(t, identity.RoleAdmin.IsAtLeast(identity.RoleAdmin))
		assert.False(t, identity.RoleStandard.IsAtLeast(identity.RoleAdmin))
		assert.False(t, identity.UserRole("unknown").IsAtLeast(identity.RoleStandard))
	})

	t.Run("parse", func(t *testing.T) {
		role, ok := identity.ParseRole("admin")
		assert.True(t, ok)
		assert.Equal(t, identity.RoleAdmin, role)

		_, ok = identity.ParseRole("nope")
		assert.False(t, ok)
	})

	t.Run("all roles are ordered", func(t *testing.T) {
		roles := identity.GetAllRoles()
		assert.Equal(t, []identity.UserRole{identity.RoleStandard, identity.RoleAdmin}, roles)
	})
}
