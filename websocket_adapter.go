package identity

import (
	"context"

	"github.com/goliatone/go-router"
)

// WSTokenValidator implements go-router's WSTokenValidator interface using
// the TokenService so WebSocket upgrades share the HTTP session semantics.
type WSTokenValidator struct {
	tokenService TokenService
}

// NewWSTokenValidator creates a WebSocket token validator backed by the
// provided TokenService.
func NewWSTokenValidator(tokenService TokenService) *WSTokenValidator {
	return &WSTokenValidator{
		tokenService: tokenService,
	}
}

// Validate validates a raw token and returns WebSocket-compatible claims.
func (w *WSTokenValidator) Validate(tokenString string) (router.WSAuthClaims, error) {
	claims, err := w.tokenService.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &WSAuthClaimsAdapter{claims: claims}, nil
}

// WSAuthClaimsAdapter adapts AuthClaims to go-router's WSAuthClaims
// interface. Resource mutations require first-party admin; any
// authenticated session may read.
type WSAuthClaimsAdapter struct {
	claims AuthClaims
}

func (w *WSAuthClaimsAdapter) Subject() string {
	return w.claims.Subject()
}

func (w *WSAuthClaimsAdapter) UserID() string {
	return w.claims.UserID()
}

func (w *WSAuthClaimsAdapter) Role() string {
	return w.claims.Role()
}

func (w *WSAuthClaimsAdapter) CanRead(resource string) bool {
	return true
}

func (w *WSAuthClaimsAdapter) CanEdit(resource string) bool {
	return w.isFirstPartyAdmin()
}

func (w *WSAuthClaimsAdapter) CanCreate(resource string) bool {
	return w.isFirstPartyAdmin()
}

func (w *WSAuthClaimsAdapter) CanDelete(resource string) bool {
	return w.isFirstPartyAdmin()
}

func (w *WSAuthClaimsAdapter) HasRole(role string) bool {
	return w.claims.HasRole(role)
}

func (w *WSAuthClaimsAdapter) IsAtLeast(minRole string) bool {
	return w.claims.IsAtLeast(minRole)
}

func (w *WSAuthClaimsAdapter) isFirstPartyAdmin() bool {
	return IsFirstPartyAdmin(w.claims)
}

// NewWSAuthMiddleware creates a configured WebSocket authentication
// middleware sharing the Auther's token service.
func (s *Auther) NewWSAuthMiddleware(config ...router.WSAuthConfig) router.WebSocketMiddleware {
	validator := NewWSTokenValidator(s.tokenService)

	var cfg router.WSAuthConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	cfg.TokenValidator = validator

	return router.NewWSAuth(cfg)
}

// WSAuthClaimsFromContext retrieves the identity claims behind a WebSocket
// connection, when the connection was authenticated by this package.
func WSAuthClaimsFromContext(ctx context.Context) (AuthClaims, bool) {
	wsAuthClaims, ok := router.WSAuthClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}

	if adapter, ok := wsAuthClaims.(*WSAuthClaimsAdapter); ok {
		return adapter.claims, true
	}

	return nil, false
}
