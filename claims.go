package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents structured JWT claims with permission checking and
// impersonation awareness.
type AuthClaims interface {
	Subject() string
	UserID() string
	Role() string
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	Impersonator() string
	IsImpersonated() bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims.
//
// Impersonated sessions carry the target's identity in the standard claims
// and the real operator in Imp. Depth is bounded to one level: presence of
// Imp is the check, there is nothing to recurse into.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	UserRole string `json:"role,omitempty"`
	Imp      string `json:"imp,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Role returns the global role
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// HasRole checks if the user has a specific role
func (c *JWTClaims) HasRole(role string) bool {
	return c.UserRole == role
}

// IsAtLeast checks if the user's role is at least the minimum required role
func (c *JWTClaims) IsAtLeast(minRole string) bool {
	return UserRole(c.UserRole).IsAtLeast(UserRole(minRole))
}

// Impersonator returns the operator behind an impersonated session, or the
// empty string for a first-party session.
func (c *JWTClaims) Impersonator() string {
	return c.Imp
}

// IsImpersonated reports whether the session acts on behalf of another user.
func (c *JWTClaims) IsImpersonated() bool {
	return c.Imp != ""
}

// IsAdmin reports whether the session itself carries admin privilege. An
// impersonated session carries the target's role, so admins browsing as a
// standard user do not pass this check.
func (c *JWTClaims) IsAdmin() bool {
	return UserRole(c.UserRole).IsAdmin() && !c.IsImpersonated()
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
