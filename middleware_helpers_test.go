package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/middleware/jwtware"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextEnricherAdapter(t *testing.T) {
	svc := newTokenService("test-signing-key", 15*time.Minute, 30*24*time.Hour)
	token, err := svc.IssueAccessToken("user-5", identity.RoleStandard, "")
	require.NoError(t, err)
	claims, err := svc.Validate(token)
	require.NoError(t, err)

	ctx := identity.ContextEnricherAdapter(context.Background(), claims)
	got, ok := identity.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-5", got.UserID())
}

func TestRegisterValidationListeners(t *testing.T) {
	cfg := &jwtware.Config{}

	listener := func(ctx router.Context, claims jwtware.AuthClaims) error { return nil }
	identity.RegisterValidationListeners(cfg, listener, listener)
	assert.Len(t, cfg.ValidationListeners, 2)

	identity.RegisterValidationListeners(cfg)
	assert.Len(t, cfg.ValidationListeners, 2)

	identity.RegisterValidationListeners(nil, listener)
}
