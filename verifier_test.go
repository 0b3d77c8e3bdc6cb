package identity_test

import (
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_Verify(t *testing.T) {
	secret := "bot-secret"
	now := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

	newVerifier := func(opts ...identity.VerifierOption) *identity.Verifier {
		opts = append(opts, identity.WithTimeSource(func() time.Time { return now }))
		return identity.NewVerifier(secret, opts...)
	}

	t.Run("accepts a signed assertion", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			ID:        42,
			FirstName: "Ada",
			Username:  "ada",
			AuthDate:  now.Add(-time.Hour).Unix(),
		}
		signAssertion(secret, &assertion)

		verified, err := newVerifier().Verify(assertion)
		require.NoError(t, err)
		assert.Equal(t, int64(42), verified.TelegramID)
		assert.Equal(t, "ada", verified.Username)
		assert.Equal(t, "Ada", verified.FirstName)
		assert.Equal(t, assertion.AuthDate, verified.AuthTime.Unix())
	})

	t.Run("verification is deterministic", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			ID:       42,
			Username: "ada",
			AuthDate: now.Add(-time.Hour).Unix(),
		}
		signAssertion(secret, &assertion)

		v := newVerifier()
		for i := 0; i < 3; i++ {
			_, err := v.Verify(assertion)
			require.NoError(t, err)
		}
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			ID:       42,
			Username: "ada",
			AuthDate: now.Add(-time.Hour).Unix(),
		}
		signAssertion(secret, &assertion)
		assertion.Username = "mallory"

		_, err := newVerifier().Verify(assertion)
		assert.ErrorIs(t, err, identity.ErrInvalidSignature)
	})

	t.Run("rejects a forged hash", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			ID:       42,
			AuthDate: now.Add(-time.Hour).Unix(),
			Hash:     "deadbeef",
		}

		_, err := newVerifier().Verify(assertion)
		assert.ErrorIs(t, err, identity.ErrInvalidSignature)
	})

	t.Run("rejects a stale assertion", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			ID:       42,
			AuthDate: now.Add(-25 * time.Hour).Unix(),
		}
		signAssertion(secret, &assertion)

		_, err := newVerifier().Verify(assertion)
		assert.ErrorIs(t, err, identity.ErrAssertionExpired)
	})

	t.Run("honors a custom skew window", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			ID:       42,
			AuthDate: now.Add(-10 * time.Minute).Unix(),
		}
		signAssertion(secret, &assertion)

		_, err := newVerifier(identity.WithMaxSkew(5 * time.Minute)).Verify(assertion)
		assert.ErrorIs(t, err, identity.ErrAssertionExpired)

		_, err = newVerifier(identity.WithMaxSkew(15 * time.Minute)).Verify(assertion)
		assert.NoError(t, err)
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			Username: "ada",
		}

		_, err := newVerifier().Verify(assertion)
		require.Error(t, err)

		var richErr *errors.Error
		require.ErrorAs(t, err, &richErr)
		assert.Equal(t, identity.TextCodeMalformedAssertion, richErr.TextCode)
	})

	t.Run("signature covers only non-empty fields", func(t *testing.T) {
		assertion := identity.LoginAssertion{
			ID:       7,
			AuthDate: now.Add(-time.Minute).Unix(),
		}
		signAssertion(secret, &assertion)

		_, err := newVerifier().Verify(assertion)
		assert.NoError(t, err)
	})
}
