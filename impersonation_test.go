package identity_test

import (
	"context"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type impersonationFixture struct {
	repo         identity.RepositoryManager
	auther       *identity.Auther
	controller   *identity.ImpersonationController
	sink         *capturingSink
	admin        *identity.User
	adminClaims  identity.AuthClaims
	target       *identity.User
	targetClaims identity.AuthClaims
}

func newImpersonationFixture(t *testing.T) *impersonationFixture {
	t.Helper()
	ctx := context.Background()
	cfg := newTestConfig()

	repo := newTestRepo(t)
	sink := &capturingSink{}
	auther := identity.NewAuthenticator(repo, cfg).WithActivitySink(sink)
	controller := identity.NewImpersonationController(repo, auther).WithActivitySink(sink)

	admin, adminPair, err := auther.Login(ctx, signedAssertion(cfg, 1, "operator"), "")
	require.NoError(t, err)
	admin.Role = identity.RoleAdmin
	admin, err = repo.Users().Update(ctx, admin, repository.UpdateByID(admin.ID.String()))
	require.NoError(t, err)

	// re-login so the claims carry the admin role
	admin, adminPair, err = auther.Login(ctx, signedAssertion(cfg, 1, "operator"), "")
	require.NoError(t, err)
	require.Equal(t, identity.RoleAdmin, admin.Role)

	adminClaims, err := auther.SessionFromToken(adminPair.AccessToken)
	require.NoError(t, err)

	target, targetPair, err := auther.Login(ctx, signedAssertion(cfg, 2, "customer"), "")
	require.NoError(t, err)

	targetClaims, err := auther.SessionFromToken(targetPair.AccessToken)
	require.NoError(t, err)

	return &impersonationFixture{
		repo:         repo,
		auther:       auther,
		controller:   controller,
		sink:         sink,
		admin:        admin,
		adminClaims:  adminClaims,
		target:       target,
		targetClaims: targetClaims,
	}
}

func TestImpersonation_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("admin gets a pair acting as the target", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		pair, err := fx.controller.Start(ctx, fx.adminClaims, fx.target.ID)
		require.NoError(t, err)

		claims, err := fx.auther.SessionFromToken(pair.AccessToken)
		require.NoError(t, err)

		assert.Equal(t, fx.target.ID.String(), claims.UserID())
		assert.Equal(t, string(identity.RoleStandard), claims.Role())
		assert.True(t, claims.IsImpersonated())
		assert.Equal(t, fx.admin.ID.String(), claims.Impersonator())

		assert.Len(t, fx.sink.byType(identity.ActivityEventImpersonationStart), 1)
	})

	t.Run("standard users are refused", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		_, err := fx.controller.Start(ctx, fx.targetClaims, fx.admin.ID)
		assert.ErrorIs(t, err, identity.ErrInsufficientPrivilege)
		assert.Len(t, fx.sink.byType(identity.ActivityEventImpersonationFailure), 1)
	})

	t.Run("self impersonation is refused", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		_, err := fx.controller.Start(ctx, fx.adminClaims, fx.admin.ID)
		assert.ErrorIs(t, err, identity.ErrInsufficientPrivilege)
	})

	t.Run("unknown target is refused", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		_, err := fx.controller.Start(ctx, fx.adminClaims, uuid.New())
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("nesting is refused", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		pair, err := fx.controller.Start(ctx, fx.adminClaims, fx.target.ID)
		require.NoError(t, err)

		impClaims, err := fx.auther.SessionFromToken(pair.AccessToken)
		require.NoError(t, err)

		_, err = fx.controller.Start(ctx, impClaims, fx.target.ID)
		assert.ErrorIs(t, err, identity.ErrNestedImpersonation)
	})

	t.Run("admin role carried by an impersonated session grants nothing", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		// impersonate another admin: the claims say role admin but the
		// session is impersonated
		otherAdmin, _, err := fx.auther.Login(context.Background(), signedAssertion(newTestConfig(), 3, "admin2"), "")
		require.NoError(t, err)
		otherAdmin.Role = identity.RoleAdmin
		_, err = fx.repo.Users().Update(ctx, otherAdmin, repository.UpdateByID(otherAdmin.ID.String()))
		require.NoError(t, err)

		pair, err := fx.controller.Start(ctx, fx.adminClaims, otherAdmin.ID)
		require.NoError(t, err)

		impClaims, err := fx.auther.SessionFromToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, string(identity.RoleAdmin), impClaims.Role())

		_, err = fx.controller.Start(ctx, impClaims, fx.target.ID)
		assert.ErrorIs(t, err, identity.ErrNestedImpersonation)
	})
}

func TestImpersonation_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("stop hands back an operator pair", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		pair, err := fx.controller.Start(ctx, fx.adminClaims, fx.target.ID)
		require.NoError(t, err)

		impClaims, err := fx.auther.SessionFromToken(pair.AccessToken)
		require.NoError(t, err)

		operatorPair, err := fx.controller.Stop(ctx, impClaims)
		require.NoError(t, err)

		claims, err := fx.auther.SessionFromToken(operatorPair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, fx.admin.ID.String(), claims.UserID())
		assert.False(t, claims.IsImpersonated())
		assert.Equal(t, string(identity.RoleAdmin), claims.Role())

		assert.Len(t, fx.sink.byType(identity.ActivityEventImpersonationStop), 1)
	})

	t.Run("stop closes the impersonated family", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		_, targetPair, err := fx.auther.Login(ctx, signedAssertion(newTestConfig(), 2, "customer"), "")
		require.NoError(t, err)

		pair, err := fx.controller.Start(ctx, fx.adminClaims, fx.target.ID)
		require.NoError(t, err)

		impClaims, err := fx.auther.SessionFromToken(pair.AccessToken)
		require.NoError(t, err)

		_, err = fx.controller.Stop(ctx, impClaims)
		require.NoError(t, err)

		// the impersonated refresh credential is dead the moment the
		// operator exits
		_, err = fx.auther.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrSessionRevoked)

		// the target's own first-party session survives the exit
		_, err = fx.auther.Rotate(ctx, targetPair.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("stop outside impersonation is refused", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		_, err := fx.controller.Stop(ctx, fx.adminClaims)
		assert.ErrorIs(t, err, identity.ErrNotImpersonating)
	})
}

func TestImpersonation_RotationRecheck(t *testing.T) {
	ctx := context.Background()

	t.Run("impersonated family rotates while the operator stays admin", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		pair, err := fx.controller.Start(ctx, fx.adminClaims, fx.target.ID)
		require.NoError(t, err)

		next, err := fx.auther.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)

		claims, err := fx.auther.SessionFromToken(next.AccessToken)
		require.NoError(t, err)
		assert.True(t, claims.IsImpersonated())
		assert.Equal(t, fx.admin.ID.String(), claims.Impersonator())
	})

	t.Run("demoting the operator kills the impersonated session", func(t *testing.T) {
		fx := newImpersonationFixture(t)

		pair, err := fx.controller.Start(ctx, fx.adminClaims, fx.target.ID)
		require.NoError(t, err)

		fx.admin.Role = identity.RoleStandard
		_, err = fx.repo.Users().Update(ctx, fx.admin, repository.UpdateByID(fx.admin.ID.String()))
		require.NoError(t, err)

		_, err = fx.auther.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrSessionRevoked)

		// the family is gone for good, not just this attempt
		_, err = fx.auther.Rotate(ctx, pair.RefreshToken)
		assert.Error(t, err)
	})
}
