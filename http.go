package identity

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/middleware/jwtware"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RefreshCookieName is where the refresh credential travels. It is HTTP-only
// and never visible to page scripts.
const RefreshCookieName = "refresh_token"

type RouteAuthenticator struct {
	auth             Authenticator
	cfg              Config
	cookieDuration   time.Duration
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

var _ HTTPAuthenticator = (*RouteAuthenticator)(nil)

func NewHTTPAuthenticator(auther Authenticator, cfg Config) (*RouteAuthenticator, error) {
	cookieDuration := 30 * 24 * time.Hour
	if cfg.GetRefreshTokenDays() > 0 {
		cookieDuration = time.Duration(cfg.GetRefreshTokenDays()) * 24 * time.Hour
	}

	a := &RouteAuthenticator{
		cfg:            cfg,
		auth:           auther,
		Logger:         defLogger{},
		cookieDuration: cookieDuration,
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

func (a *RouteAuthenticator) ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler: errorHandler,
		SigningKey: jwtware.SigningKey{
			Key:    []byte(cfg.GetSigningKey()),
			JWTAlg: cfg.GetSigningMethod(),
		},
		AuthScheme:     cfg.GetAuthScheme(),
		ContextKey:     cfg.GetContextKey(),
		TokenLookup:    cfg.GetTokenLookup(),
		TokenValidator: tokenValidatorAdapter{a.auth},
	})
}

// AdminRoute is ProtectedRoute plus a first-party admin gate.
func (a *RouteAuthenticator) AdminRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler: errorHandler,
		SigningKey: jwtware.SigningKey{
			Key:    []byte(cfg.GetSigningKey()),
			JWTAlg: cfg.GetSigningMethod(),
		},
		AuthScheme:         cfg.GetAuthScheme(),
		ContextKey:         cfg.GetContextKey(),
		TokenLookup:        cfg.GetTokenLookup(),
		TokenValidator:     tokenValidatorAdapter{a.auth},
		RequiredRole:       string(RoleAdmin),
		RejectImpersonated: true,
	})
}

// tokenValidatorAdapter bridges the Authenticator to the jwtware mirror
// interface without an import cycle.
type tokenValidatorAdapter struct {
	auth Authenticator
}

func (t tokenValidatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := t.auth.SessionFromToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Login verifies the assertion and plants the refresh cookie. The access
// token travels in the response body; the caller keeps it in memory.
func (a *RouteAuthenticator) Login(ctx router.Context, assertion LoginAssertion, inviteCode string) error {
	_, pair, err := a.auth.Login(ctx.Context(), assertion, inviteCode)
	if err != nil {
		a.Logger.Error("Login error: %s", err)
		return err
	}

	a.SetSessionCookie(ctx, pair.RefreshToken)
	ctx.Locals("token_pair", pair)
	return nil
}

// Refresh rotates the cookie credential in place.
func (a *RouteAuthenticator) Refresh(ctx router.Context) error {
	presented := ctx.Cookies(RefreshCookieName)
	if presented == "" {
		return ErrTokenInvalid
	}

	pair, err := a.auth.Rotate(ctx.Context(), presented)
	if err != nil {
		a.ClearSessionCookie(ctx)
		return err
	}

	a.SetSessionCookie(ctx, pair.RefreshToken)
	ctx.Locals("token_pair", pair)
	return nil
}

// Logout revokes the session family and drops the cookie.
func (a *RouteAuthenticator) Logout(ctx router.Context) error {
	presented := ctx.Cookies(RefreshCookieName)
	a.ClearSessionCookie(ctx)

	if presented == "" {
		return nil
	}

	if err := a.auth.Logout(ctx.Context(), presented); err != nil {
		// a dead credential on logout is not worth surfacing
		a.Logger.Info("Logout with unusable credential", "error", err)
	}

	return nil
}

// ValidateReturnTo checks a redirect target against the configured hosts.
// Relative paths are always allowed.
func (a *RouteAuthenticator) ValidateReturnTo(returnTo string) error {
	if returnTo == "" || strings.HasPrefix(returnTo, "/") && !strings.HasPrefix(returnTo, "//") {
		return nil
	}

	u, err := url.Parse(returnTo)
	if err != nil || u.Host == "" {
		return ErrInvalidReturnTo
	}

	for _, host := range a.cfg.GetAllowedReturnHosts() {
		if strings.EqualFold(u.Host, host) {
			return nil
		}
	}

	return ErrInvalidReturnTo
}

func (a *RouteAuthenticator) MakeClientRouteAuthErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		if errors.Is(err, ErrTokenExpired) {
			richErr = ErrTokenExpired
		} else if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized)
		}

		if optional {
			a.Logger.Info("Optional auth failed, proceeding", "error", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

func (a *RouteAuthenticator) GetRedirect(ctx router.Context, def ...string) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	r := ctx.Cookies(rejectedRoute)
	if r == "" {
		return def[0]
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

func (a *RouteAuthenticator) GetRedirectOrDefault(ctx router.Context) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	refererHeader := string(ctx.Referer())

	r := ctx.Cookies(rejectedRoute, refererHeader)
	if r == "" {
		r = a.cfg.GetRejectedRouteDefault()
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

func (a *RouteAuthenticator) SetRedirect(ctx router.Context) {
	rejectedRoute := a.cfg.GetRejectedRouteKey()

	a.Logger.Info("Setting redirect cookie", "key", rejectedRoute, "path", ctx.OriginalURL())

	ctx.Cookie(&router.Cookie{
		Name:     rejectedRoute,
		Value:    ctx.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// SetSessionCookie plants the refresh credential.
func (a *RouteAuthenticator) SetSessionCookie(c router.Context, val string) {
	c.Cookie(&router.Cookie{
		Name:     RefreshCookieName,
		Value:    val,
		Expires:  time.Now().Add(a.cookieDuration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// ClearSessionCookie drops the refresh credential.
func (a *RouteAuthenticator) ClearSessionCookie(c router.Context) {
	a.cookieDel(c, RefreshCookieName)
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	a.SetRedirect(c)

	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect("/login", statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.JSON(richErr.Code, map[string]any{
			"error": richErr,
		})
	}
}
