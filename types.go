package identity

import (
	"context"
	"fmt"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// TokenService signs and validates the two token kinds.
type TokenService interface {
	IssueAccessToken(userID string, role UserRole, impersonatorID string) (string, error)
	IssueRefreshCredential(familyID, tokenID uuid.UUID, userID string) (string, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(token string) (AuthClaims, error)
	ValidateRefresh(token string) (*RefreshClaims, error)
}

// TokenPair is what a successful login, rotation, or impersonation yields.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Authenticator holds methods to deal with authentication
type Authenticator interface {
	Login(ctx context.Context, assertion LoginAssertion, inviteCode string) (*User, TokenPair, error)
	Rotate(ctx context.Context, refreshCredential string) (TokenPair, error)
	Handover(ctx context.Context, accessToken string) (TokenPair, error)
	Logout(ctx context.Context, refreshCredential string) error
	LogoutEverywhere(ctx context.Context, userID uuid.UUID) (int64, error)
	SessionFromToken(token string) (AuthClaims, error)
}

type HTTPAuthenticator interface {
	Middleware
	Login(c router.Context, assertion LoginAssertion, inviteCode string) error
	Refresh(c router.Context) error
	Logout(c router.Context) error
	SetRedirect(c router.Context)
	GetRedirect(c router.Context, def ...string) string
	GetRedirectOrDefault(c router.Context) string
	MakeClientRouteAuthErrorHandler(optionalAuth bool) func(c router.Context, err error) error
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetAccessTokenMinutes() int
	GetRefreshTokenDays() int
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetBotSecret() string
	GetSyncSecret() string
	GetAllowedReturnHosts() []string
	GetRejectedRouteKey() string
	GetRejectedRouteDefault() string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
