package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedAssertion(cfg *testConfig, telegramID int64, username string) identity.LoginAssertion {
	assertion := identity.LoginAssertion{
		ID:        telegramID,
		Username:  username,
		FirstName: username,
		AuthDate:  time.Now().Unix(),
	}
	signAssertion(cfg.botSecret, &assertion)
	return assertion
}

func TestAuther_Login(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("creates the user on first login", func(t *testing.T) {
		repo := newTestRepo(t)
		sink := &capturingSink{}
		auther := identity.NewAuthenticator(repo, cfg).WithActivitySink(sink)

		user, pair, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)
		require.NotNil(t, user)

		assert.Equal(t, int64(42), user.TelegramID)
		assert.Equal(t, identity.RoleStandard, user.Role)
		assert.Equal(t, "ada", user.Username)
		assert.Len(t, user.RefCode, 8)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)

		require.Len(t, sink.byType(identity.ActivityEventLoginSuccess), 1)
	})

	t.Run("login is idempotent on identity", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		first, _, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)

		second, _, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada_new"), "")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "ada_new", second.Username)
		assert.Equal(t, first.RefCode, second.RefCode)
	})

	t.Run("rejects a forged assertion and emits a failure", func(t *testing.T) {
		repo := newTestRepo(t)
		sink := &capturingSink{}
		auther := identity.NewAuthenticator(repo, cfg).WithActivitySink(sink)

		assertion := signedAssertion(cfg, 42, "ada")
		assertion.Username = "mallory"

		_, _, err := auther.Login(ctx, assertion, "")
		assert.ErrorIs(t, err, identity.ErrInvalidSignature)
		assert.Len(t, sink.byType(identity.ActivityEventLoginFailure), 1)

		_, err = repo.Users().GetByTelegramID(ctx, 42)
		assert.Error(t, err)
	})

	t.Run("binds a referral from an invite code", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		referrer, _, err := auther.Login(ctx, signedAssertion(cfg, 1, "referrer"), "")
		require.NoError(t, err)

		invited, _, err := auther.Login(ctx, signedAssertion(cfg, 2, "invited"), referrer.RefCode)
		require.NoError(t, err)

		require.NotNil(t, invited.ReferredBy)
		assert.Equal(t, referrer.ID, *invited.ReferredBy)
	})

	t.Run("an unknown invite code does not block the login", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		user, _, err := auther.Login(ctx, signedAssertion(cfg, 3, "newbie"), "NOSUCH00")
		require.NoError(t, err)
		assert.Nil(t, user.ReferredBy)
	})

	t.Run("an existing referral is never overwritten", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		referrerA, _, err := auther.Login(ctx, signedAssertion(cfg, 1, "alpha"), "")
		require.NoError(t, err)
		referrerB, _, err := auther.Login(ctx, signedAssertion(cfg, 2, "beta"), "")
		require.NoError(t, err)

		invited, _, err := auther.Login(ctx, signedAssertion(cfg, 3, "gamma"), referrerA.RefCode)
		require.NoError(t, err)
		require.NotNil(t, invited.ReferredBy)

		again, _, err := auther.Login(ctx, signedAssertion(cfg, 3, "gamma"), referrerB.RefCode)
		require.NoError(t, err)
		require.NotNil(t, again.ReferredBy)
		assert.Equal(t, referrerA.ID, *again.ReferredBy)
	})

	t.Run("a user cannot refer themselves", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		user, _, err := auther.Login(ctx, signedAssertion(cfg, 1, "loner"), "")
		require.NoError(t, err)

		again, _, err := auther.Login(ctx, signedAssertion(cfg, 1, "loner"), user.RefCode)
		require.NoError(t, err)
		assert.Nil(t, again.ReferredBy)
	})

	t.Run("referral cycles are refused", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		a, _, err := auther.Login(ctx, signedAssertion(cfg, 1, "a"), "")
		require.NoError(t, err)

		b, _, err := auther.Login(ctx, signedAssertion(cfg, 2, "b"), a.RefCode)
		require.NoError(t, err)
		require.NotNil(t, b.ReferredBy)

		// a has no referrer and no license, so the code would bind, but
		// a <- b <- a would close a loop
		again, _, err := auther.Login(ctx, signedAssertion(cfg, 1, "a"), b.RefCode)
		require.NoError(t, err)
		assert.Nil(t, again.ReferredBy)
	})
}

func TestAuther_Rotate(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("a credential is single use", func(t *testing.T) {
		repo := newTestRepo(t)
		sink := &capturingSink{}
		auther := identity.NewAuthenticator(repo, cfg).WithActivitySink(sink)

		_, first, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)

		second, err := auther.Rotate(ctx, first.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, second.AccessToken)
		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

		// replaying the spent credential kills the family
		_, err = auther.Rotate(ctx, first.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrTokenReuseDetected)
		assert.Len(t, sink.byType(identity.ActivityEventTokenReuse), 1)

		// the fresh credential died with it
		_, err = auther.Rotate(ctx, second.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrSessionRevoked)
	})

	t.Run("rotation can repeat while unrevoked", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		_, pair, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			pair, err = auther.Rotate(ctx, pair.RefreshToken)
			require.NoError(t, err)
		}
	})

	t.Run("rejects a credential for an unknown family", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		other := identity.NewAuthenticator(newTestRepo(t), cfg)
		_, pair, err := other.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)

		_, err = auther.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrTokenInvalid)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		_, err := auther.Rotate(ctx, "junk")
		assert.Error(t, err)
	})
}

func TestAuther_Logout(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()

	t.Run("logout revokes the family", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		_, pair, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)

		require.NoError(t, auther.Logout(ctx, pair.RefreshToken))

		_, err = auther.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrSessionRevoked)
	})

	t.Run("logout everywhere revokes every live family", func(t *testing.T) {
		repo := newTestRepo(t)
		auther := identity.NewAuthenticator(repo, cfg)

		user, pairA, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)
		_, pairB, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
		require.NoError(t, err)

		revoked, err := auther.LogoutEverywhere(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), revoked)

		_, err = auther.Rotate(ctx, pairA.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrSessionRevoked)
		_, err = auther.Rotate(ctx, pairB.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrSessionRevoked)

		// idempotent: nothing left to revoke
		revoked, err = auther.LogoutEverywhere(ctx, user.ID)
		require.NoError(t, err)
		assert.Zero(t, revoked)
	})
}

func TestAuther_SessionFromToken(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()
	repo := newTestRepo(t)
	auther := identity.NewAuthenticator(repo, cfg)

	user, pair, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
	require.NoError(t, err)

	claims, err := auther.SessionFromToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.Equal(t, string(identity.RoleStandard), claims.Role())
	assert.False(t, claims.IsImpersonated())

	_, err = auther.SessionFromToken("junk")
	assert.Error(t, err)
}

func TestAuther_ConcurrentRotation(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()
	repo := newTestRepo(t)
	auther := identity.NewAuthenticator(repo, cfg)

	_, pair, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
	require.NoError(t, err)

	const contenders = 8
	var wg sync.WaitGroup
	results := make(chan error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := auther.Rotate(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		losses++
		// losers see either the reuse verdict or the revoked family it causes
		if !errors.Is(err, identity.ErrTokenReuseDetected) && !errors.Is(err, identity.ErrSessionRevoked) {
			t.Errorf("unexpected loser error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, losses)
}

func TestAuther_Handover(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()
	repo := newTestRepo(t)
	auther := identity.NewAuthenticator(repo, cfg)

	user, pair, err := auther.Login(ctx, signedAssertion(cfg, 42, "ada"), "")
	require.NoError(t, err)

	t.Run("access token opens a fresh family", func(t *testing.T) {
		handed, err := auther.Handover(ctx, pair.AccessToken)
		require.NoError(t, err)

		claims, err := auther.SessionFromToken(handed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.UserID())
		assert.False(t, claims.IsImpersonated())

		// the new family rotates on its own
		_, err = auther.Rotate(ctx, handed.RefreshToken)
		require.NoError(t, err)

		// and the client's original session is untouched
		_, err = auther.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("short lived handover token is accepted", func(t *testing.T) {
		token, _, err := identity.MintHandoverToken(auther.TokenService(), user, identity.HandoverTokenOptions{
			TTL: 30 * time.Second,
		})
		require.NoError(t, err)

		handed, err := auther.Handover(ctx, token)
		require.NoError(t, err)

		claims, err := auther.SessionFromToken(handed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.UserID())
	})

	t.Run("refresh credentials are refused", func(t *testing.T) {
		_, fresh, err := auther.Login(ctx, signedAssertion(cfg, 43, "bob"), "")
		require.NoError(t, err)

		_, err = auther.Handover(ctx, fresh.RefreshToken)
		assert.ErrorIs(t, err, identity.ErrTokenInvalid)
	})

	t.Run("garbage is refused", func(t *testing.T) {
		_, err := auther.Handover(ctx, "junk")
		assert.Error(t, err)
	})
}
