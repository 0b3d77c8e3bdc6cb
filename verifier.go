package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
)

// DefaultMaxSkew is how old a login assertion may be before it is refused.
const DefaultMaxSkew = 24 * time.Hour

// LoginAssertion is the signed payload the login widget hands to the client.
type LoginAssertion struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// Validate checks the structurally required fields.
func (a LoginAssertion) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.AuthDate, validation.Required),
		validation.Field(&a.Hash, validation.Required),
	)
}

// VerifiedIdentity is the outcome of a successful verification.
type VerifiedIdentity struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	PhotoURL   string
	AuthTime   time.Time
}

// Verifier checks login assertions against the platform signing secret.
// The zero value is not usable; construct with NewVerifier.
type Verifier struct {
	key     []byte
	maxSkew time.Duration
	now     func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxSkew overrides the assertion age window.
func WithMaxSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithTimeSource overrides the clock, mostly for tests.
func WithTimeSource(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier derives the verification key from the bot secret. The key is
// the SHA-256 digest of the secret, per the login widget protocol.
func NewVerifier(botSecret string, opts ...VerifierOption) *Verifier {
	key := sha256.Sum256([]byte(botSecret))
	v := &Verifier{
		key:     key[:],
		maxSkew: DefaultMaxSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the assertion signature and freshness. It is pure and safe
// for concurrent use.
func (v *Verifier) Verify(assertion LoginAssertion) (VerifiedIdentity, error) {
	if err := assertion.Validate(); err != nil {
		return VerifiedIdentity{}, errors.Wrap(err, ErrMalformedAssertion.Category, ErrMalformedAssertion.Message).
			WithTextCode(ErrMalformedAssertion.TextCode)
	}

	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(assertion.checkString()))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(assertion.Hash)) {
		return VerifiedIdentity{}, ErrInvalidSignature
	}

	authTime := time.Unix(assertion.AuthDate, 0)
	if v.now().Sub(authTime) > v.maxSkew {
		return VerifiedIdentity{}, ErrAssertionExpired
	}

	return VerifiedIdentity{
		TelegramID: assertion.ID,
		Username:   assertion.Username,
		FirstName:  assertion.FirstName,
		LastName:   assertion.LastName,
		PhotoURL:   assertion.PhotoURL,
		AuthTime:   authTime,
	}, nil
}

// checkString builds the canonical "k=v" representation: every non-empty
// field except hash, sorted by key, joined with newlines.
func (a LoginAssertion) checkString() string {
	fields := map[string]string{
		"id":         fmt.Sprintf("%d", a.ID),
		"auth_date":  fmt.Sprintf("%d", a.AuthDate),
		"first_name": a.FirstName,
		"last_name":  a.LastName,
		"username":   a.Username,
		"photo_url":  a.PhotoURL,
	}

	keys := make([]string, 0, len(fields))
	for k, val := range fields {
		if val == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	return strings.Join(pairs, "\n")
}
