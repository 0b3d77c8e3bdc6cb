package identity

import "github.com/goliatone/go-errors"

const (
	TextCodeInvalidSignature      = "INVALID_SIGNATURE"
	TextCodeAssertionExpired      = "ASSERTION_EXPIRED"
	TextCodeMalformedAssertion    = "MALFORMED_ASSERTION"
	TextCodeTokenInvalid          = "TOKEN_INVALID"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenReuseDetected    = "TOKEN_REUSE_DETECTED"
	TextCodeSessionRevoked        = "SESSION_REVOKED"
	TextCodeInsufficientPrivilege = "INSUFFICIENT_PRIVILEGE"
	TextCodeNotImpersonating      = "NOT_IMPERSONATING"
	TextCodeNestedImpersonation   = "NESTED_IMPERSONATION_DENIED"
	TextCodeInvalidAmount         = "INVALID_AMOUNT"
	TextCodeInvalidDuration       = "INVALID_DURATION"
	TextCodeUserNotFound          = "USER_NOT_FOUND"
	TextCodeSyncUnauthorized      = "SYNC_UNAUTHORIZED"
	TextCodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	TextCodeInvalidReturnTo       = "INVALID_RETURN_TO"
)

// ErrInvalidSignature is returned when a login assertion fails the HMAC check.
var ErrInvalidSignature = errors.New("login assertion signature mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignature).
	WithCode(errors.CodeUnauthorized)

// ErrAssertionExpired is returned when a login assertion is older than the
// configured skew window.
var ErrAssertionExpired = errors.New("login assertion expired", errors.CategoryAuth).
	WithTextCode(TextCodeAssertionExpired).
	WithCode(errors.CodeUnauthorized)

// ErrMalformedAssertion is returned when required assertion fields are missing.
var ErrMalformedAssertion = errors.New("malformed login assertion", errors.CategoryValidation).
	WithTextCode(TextCodeMalformedAssertion).
	WithCode(errors.CodeBadRequest)

// ErrTokenInvalid is returned when a token fails signature or claim checks.
var ErrTokenInvalid = errors.New("token invalid", errors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is past its expiry.
var ErrTokenExpired = errors.New("token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenReuseDetected is returned when a superseded refresh token is
// presented. The whole family is revoked before this error surfaces.
var ErrTokenReuseDetected = errors.New("refresh token reuse detected", errors.CategoryAuth).
	WithTextCode(TextCodeTokenReuseDetected).
	WithCode(errors.CodeUnauthorized)

// ErrSessionRevoked is returned when the refresh token family is revoked.
var ErrSessionRevoked = errors.New("session revoked", errors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(errors.CodeUnauthorized)

// ErrInsufficientPrivilege is returned when a caller lacks the admin role.
var ErrInsufficientPrivilege = errors.New("insufficient privilege", errors.CategoryAuthz).
	WithTextCode(TextCodeInsufficientPrivilege).
	WithCode(errors.CodeForbidden)

// ErrNotImpersonating is returned when stop is called outside an
// impersonated session.
var ErrNotImpersonating = errors.New("session is not impersonated", errors.CategoryAuthz).
	WithTextCode(TextCodeNotImpersonating).
	WithCode(errors.CodeForbidden)

// ErrNestedImpersonation is returned when an impersonated session tries to
// impersonate again.
var ErrNestedImpersonation = errors.New("nested impersonation denied", errors.CategoryAuthz).
	WithTextCode(TextCodeNestedImpersonation).
	WithCode(errors.CodeForbidden)

// ErrInvalidAmount is returned for non-positive balance amounts.
var ErrInvalidAmount = errors.New("amount must be positive", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidAmount).
	WithCode(errors.CodeBadRequest)

// ErrInvalidDuration is returned for non-positive license durations.
var ErrInvalidDuration = errors.New("duration must be positive", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidDuration).
	WithCode(errors.CodeBadRequest)

// ErrUserNotFound is returned when the referenced user does not exist.
var ErrUserNotFound = errors.New("user not found", errors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(errors.CodeNotFound)

// ErrSyncUnauthorized is returned when the internal gateway secret does not
// match, or when no secret is configured at all.
var ErrSyncUnauthorized = errors.New("sync gateway unauthorized", errors.CategoryAuth).
	WithTextCode(TextCodeSyncUnauthorized).
	WithCode(errors.CodeUnauthorized)

// ErrInsufficientFunds is returned when a debit would take a balance below
// zero. The balance is left untouched.
var ErrInsufficientFunds = errors.New("insufficient funds", errors.CategoryValidation).
	WithTextCode(TextCodeInsufficientFunds).
	WithCode(errors.CodeBadRequest)

// ErrInvalidReturnTo is returned when a callback redirect target is not on
// the allow list.
var ErrInvalidReturnTo = errors.New("return_to host not allowed", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidReturnTo).
	WithCode(errors.CodeBadRequest)
