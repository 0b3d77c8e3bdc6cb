package identity

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// InternalTokenHeader carries the shared secret for machine callers.
const InternalTokenHeader = "X-Internal-Token"

type Middleware interface {
	ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc
	AdminRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc
}

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// GetRouterSession decodes the jwt token the middleware stored in locals.
func GetRouterSession(c router.Context, key string) (AuthClaims, error) {
	if key == "" {
		key = "user"
	}

	raw := c.Locals(key)
	if raw == nil {
		return nil, ErrTokenInvalid
	}

	if claims, ok := raw.(AuthClaims); ok {
		return claims, nil
	}

	// some middlewares store the parsed token itself
	if token, ok := raw.(*jwt.Token); ok {
		if claims, ok := token.Claims.(*JWTClaims); ok {
			return claims, nil
		}
	}

	return nil, ErrTokenInvalid
}

// RegisterAuthRoutes builds a controller from the options and mounts every
// route on the given router.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	controller.RegisterRoutes(app)
	return controller
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Auther       HTTPAuthenticator
	Sessions     Authenticator
	Impersonator *ImpersonationController
	Ledger       *Ledger
	Gateway      *SyncGateway
	Config       Config
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.Sessions == nil {
		panic("Missing Authenticator in auth controller...")
	}

	if c.Config == nil {
		panic("Missing Config in auth controller...")
	}

	if c.Impersonator == nil {
		panic("Missing ImpersonationController in auth controller...")
	}

	if c.Ledger == nil {
		panic("Missing Ledger in auth controller...")
	}

	if c.Gateway == nil {
		panic("Missing SyncGateway in auth controller...")
	}

	return c
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuther(auther HTTPAuthenticator, sessions Authenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		c.Sessions = sessions
		return c
	}
}

func WithControllerImpersonator(ic *ImpersonationController) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Impersonator = ic
		return c
	}
}

func WithControllerLedger(l *Ledger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Ledger = l
		return c
	}
}

func WithControllerGateway(g *SyncGateway) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Gateway = g
		return c
	}
}

func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Config = cfg
		return c
	}
}

// RegisterRoutes wires the public, admin, and internal surfaces.
func (a *AuthController) RegisterRoutes(group RouteRegistrar) {
	authErr := a.Auther.MakeClientRouteAuthErrorHandler(false)
	protected := a.Auther.ProtectedRoute(a.Config, authErr)
	admin := a.Auther.AdminRoute(a.Config, authErr)

	group.Post("/auth", a.LoginPost)
	group.Post("/auth/refresh", a.RefreshPost)
	group.Post("/auth/logout", a.LogoutPost)
	group.Get("/auth/callback", a.Callback)

	group.Post("/auth/logout-all", a.LogoutAllPost, protected)
	group.Get("/auth/me", a.Me, protected)
	group.Get("/auth/balance", a.Balance, protected)
	group.Get("/auth/openrouter-settings", a.OpenRouterSettingsGet, protected)
	group.Post("/auth/openrouter-settings", a.OpenRouterSettingsPost, protected)
	group.Get("/partners", a.Partners, protected)

	group.Post("/admin/impersonate", a.ImpersonatePost, admin)
	group.Post("/admin/stop-impersonate", a.StopImpersonatePost, protected)
	group.Post("/admin/balance", a.AddBalancePost, admin)
	group.Post("/admin/license", a.ExtendLicensePost, admin)
	group.Post("/admin/create-user", a.CreateUserPost, admin)

	group.Post("/internal/users", a.InternalUpsert)
	group.Get("/internal/users/:id", a.InternalUserState)
	group.Post("/internal/users/:id/openrouter", a.InternalSetOpenRouter)
	group.Post("/internal/users/:id/debit", a.InternalDebit)
}

// LoginRequest payload
type LoginRequest struct {
	LoginAssertion
	InviteCode string `json:"invite_code,omitempty"`
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.handleError(ctx, errors.Wrap(err, errors.CategoryBadInput, "could not parse login payload").
			WithCode(errors.CodeBadRequest))
	}

	if err := a.Auther.Login(ctx, payload.LoginAssertion, payload.InviteCode); err != nil {
		return a.handleError(ctx, err)
	}

	pair, _ := ctx.Locals("token_pair").(TokenPair)
	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
	})
}

func (a *AuthController) RefreshPost(ctx router.Context) error {
	if err := a.Auther.Refresh(ctx); err != nil {
		return a.handleError(ctx, err)
	}

	pair, _ := ctx.Locals("token_pair").(TokenPair)
	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
	})
}

func (a *AuthController) LogoutPost(ctx router.Context) error {
	if err := a.Auther.Logout(ctx); err != nil {
		return a.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]string{
		"status": "logged out",
	})
}

func (a *AuthController) LogoutAllPost(ctx router.Context) error {
	claims, err := a.sessionClaims(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	userID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return a.handleError(ctx, ErrTokenInvalid)
	}

	revoked, err := a.Sessions.LogoutEverywhere(ctx.Context(), userID)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"revoked_sessions": revoked,
	})
}

// Callback bridges a token handed over by a first-party client into the
// session cookie, then bounces to return_to.
func (a *AuthController) Callback(ctx router.Context) error {
	token := ctx.Query("token")
	if token == "" {
		return a.handleError(ctx, ErrTokenInvalid)
	}

	returnTo := ctx.Query("return_to")
	ra, ok := a.Auther.(*RouteAuthenticator)
	if !ok {
		return a.handleError(ctx, errors.New("callback requires the route authenticator", errors.CategoryInternal))
	}

	if err := ra.ValidateReturnTo(returnTo); err != nil {
		return a.handleError(ctx, err)
	}

	// the presented access token proves the session; the bridge opens a
	// fresh family on this surface instead of reusing the client's
	// credential
	pair, err := a.Sessions.Handover(ctx.Context(), token)
	if err != nil {
		return a.handleError(ctx, err)
	}
	ra.SetSessionCookie(ctx, pair.RefreshToken)

	if returnTo == "" {
		returnTo = "/"
	}

	return ctx.Redirect(returnTo, router.StatusSeeOther)
}

func (a *AuthController) Me(ctx router.Context) error {
	user, claims, err := a.currentUser(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user":         user,
		"impersonated": claims.IsImpersonated(),
	})
}

func (a *AuthController) Balance(ctx router.Context) error {
	user, _, err := a.currentUser(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"balance_kopecks": user.Balance,
		"balance_rubles":  float64(user.Balance) / 100.0,
	})
}

func (a *AuthController) Partners(ctx router.Context) error {
	claims, err := a.sessionClaims(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	view, err := a.Ledger.Partners(ctx.Context(), claims)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, view)
}

func (a *AuthController) OpenRouterSettingsGet(ctx router.Context) error {
	user, _, err := a.currentUser(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, OpenRouterSettings{
		APIKey:  user.ORAPIKey,
		APIHash: user.ORAPIHash,
		Model:   user.ORModel,
	})
}

func (a *AuthController) OpenRouterSettingsPost(ctx router.Context) error {
	user, _, err := a.currentUser(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	payload := new(OpenRouterSettings)
	if err := ctx.Bind(payload); err != nil {
		return a.handleError(ctx, errors.Wrap(err, errors.CategoryBadInput, "could not parse settings payload").
			WithCode(errors.CodeBadRequest))
	}

	user.ORAPIKey = payload.APIKey
	user.ORAPIHash = payload.APIHash
	user.ORModel = payload.Model

	if _, err := a.Repo.Users().Update(ctx.Context(), user); err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{
		"status": "saved",
	})
}

// ImpersonateRequest payload
type ImpersonateRequest struct {
	UserID string `json:"user_id"`
}

// Validate will run validation rules
func (r ImpersonateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, validation.By(validateUUID)),
	)
}

func (a *AuthController) ImpersonatePost(ctx router.Context) error {
	payload := new(ImpersonateRequest)
	if err := a.bindAndValidate(ctx, payload); err != nil {
		return a.handleError(ctx, err)
	}

	claims, err := a.sessionClaims(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	targetID, _ := uuid.Parse(payload.UserID)
	pair, err := a.Impersonator.Start(ctx.Context(), claims, targetID)
	if err != nil {
		return a.handleError(ctx, err)
	}

	a.setRefreshCookie(ctx, pair.RefreshToken)
	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
	})
}

func (a *AuthController) StopImpersonatePost(ctx router.Context) error {
	claims, err := a.sessionClaims(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	pair, err := a.Impersonator.Stop(ctx.Context(), claims)
	if err != nil {
		return a.handleError(ctx, err)
	}

	a.setRefreshCookie(ctx, pair.RefreshToken)
	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
	})
}

// BalanceMutationRequest payload
type BalanceMutationRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount_kopecks"`
}

// Validate will run validation rules
func (r BalanceMutationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, validation.By(validateUUID)),
		validation.Field(&r.Amount, validation.Required, validation.Min(int64(1))),
	)
}

func (a *AuthController) AddBalancePost(ctx router.Context) error {
	payload := new(BalanceMutationRequest)
	if err := a.bindAndValidate(ctx, payload); err != nil {
		return a.handleError(ctx, err)
	}

	claims, err := a.sessionClaims(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	targetID, _ := uuid.Parse(payload.UserID)
	balance, err := a.Ledger.AddBalance(ctx.Context(), claims, targetID, payload.Amount)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"balance_kopecks": balance,
	})
}

// LicenseMutationRequest payload
type LicenseMutationRequest struct {
	UserID string `json:"user_id"`
	Days   int    `json:"days"`
}

// Validate will run validation rules
func (r LicenseMutationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, validation.By(validateUUID)),
		validation.Field(&r.Days, validation.Required, validation.Min(1)),
	)
}

func (a *AuthController) ExtendLicensePost(ctx router.Context) error {
	payload := new(LicenseMutationRequest)
	if err := a.bindAndValidate(ctx, payload); err != nil {
		return a.handleError(ctx, err)
	}

	claims, err := a.sessionClaims(ctx)
	if err != nil {
		return a.handleError(ctx, err)
	}

	targetID, _ := uuid.Parse(payload.UserID)
	expiry, err := a.Ledger.ExtendLicense(ctx.Context(), claims, targetID, payload.Days)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"license_expiry": expiry,
	})
}

func (a *AuthController) CreateUserPost(ctx router.Context) error {
	payload := new(ExternalIdentity)
	if err := a.bindAndValidate(ctx, payload); err != nil {
		return a.handleError(ctx, err)
	}

	user := &User{
		TelegramID:    payload.TelegramID,
		Username:      payload.Username,
		FirstName:     payload.FirstName,
		LastName:      payload.LastName,
		PhotoURL:      payload.PhotoURL,
		Balance:       payload.InitialBalance,
		LicenseExpiry: payload.InitialLicense,
	}

	user, err := a.Repo.Users().Create(ctx.Context(), user)
	if err != nil {
		return a.handleError(ctx, errors.Wrap(err, errors.CategoryConflict, "could not create user").
			WithCode(errors.CodeConflict))
	}

	return ctx.JSON(router.StatusCreated, user)
}

func (a *AuthController) InternalUpsert(ctx router.Context) error {
	payload := new(ExternalIdentity)
	if err := ctx.Bind(payload); err != nil {
		return a.handleError(ctx, errors.Wrap(err, errors.CategoryBadInput, "could not parse sync payload").
			WithCode(errors.CodeBadRequest))
	}

	user, err := a.Gateway.UpsertUser(ctx.Context(), a.internalToken(ctx), *payload)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, user)
}

func (a *AuthController) InternalUserState(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return a.handleError(ctx, ErrUserNotFound)
	}

	user, err := a.Gateway.UserState(ctx.Context(), a.internalToken(ctx), id)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, user)
}

func (a *AuthController) InternalSetOpenRouter(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return a.handleError(ctx, ErrUserNotFound)
	}

	payload := new(OpenRouterSettings)
	if err := ctx.Bind(payload); err != nil {
		return a.handleError(ctx, errors.Wrap(err, errors.CategoryBadInput, "could not parse settings payload").
			WithCode(errors.CodeBadRequest))
	}

	user, err := a.Gateway.SetOpenRouterSettings(ctx.Context(), a.internalToken(ctx), id, *payload)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, user)
}

// DebitRequest payload
type DebitRequest struct {
	Amount int64 `json:"amount_kopecks"`
}

// Validate will run validation rules
func (r DebitRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Amount, validation.Required, validation.Min(int64(1))),
	)
}

func (a *AuthController) InternalDebit(ctx router.Context) error {
	if err := a.Gateway.Authorize(a.internalToken(ctx)); err != nil {
		return a.handleError(ctx, err)
	}

	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return a.handleError(ctx, ErrUserNotFound)
	}

	payload := new(DebitRequest)
	if err := a.bindAndValidate(ctx, payload); err != nil {
		return a.handleError(ctx, err)
	}

	balance, err := a.Ledger.DebitBalance(ctx.Context(), id, id, payload.Amount)
	if err != nil {
		return a.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"balance_kopecks": balance,
	})
}

type validatable interface {
	Validate() error
}

func (a *AuthController) bindAndValidate(ctx router.Context, payload validatable) error {
	if err := ctx.Bind(payload); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "could not parse payload").
			WithCode(errors.CodeBadRequest)
	}
	if err := payload.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid payload").
			WithCode(errors.CodeBadRequest)
	}
	return nil
}

func (a *AuthController) sessionClaims(ctx router.Context) (AuthClaims, error) {
	return GetRouterSession(ctx, a.Config.GetContextKey())
}

func (a *AuthController) currentUser(ctx router.Context) (*User, AuthClaims, error) {
	claims, err := a.sessionClaims(ctx)
	if err != nil {
		return nil, nil, err
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), claims.UserID())
	if err != nil {
		return nil, nil, ErrUserNotFound
	}

	return user, claims, nil
}

func (a *AuthController) internalToken(ctx router.Context) string {
	return ctx.Header(InternalTokenHeader)
}

func (a *AuthController) setRefreshCookie(ctx router.Context, token string) {
	if ra, ok := a.Auther.(*RouteAuthenticator); ok {
		ra.SetSessionCookie(ctx, token)
	}
}

func (a *AuthController) handleError(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "unexpected error").
			WithCode(errors.CodeInternal)
	}

	status := statusForCategory(richErr)

	a.Logger.Error("request failed status=%d text_code=%s: %s", status, richErr.TextCode, richErr.Message)

	return ctx.JSON(status, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func statusForCategory(err *errors.Error) int {
	if err.Code > 0 {
		return err.Code
	}

	switch err.Category {
	case errors.CategoryAuth:
		return router.StatusUnauthorized
	case errors.CategoryAuthz:
		return router.StatusForbidden
	case errors.CategoryValidation, errors.CategoryBadInput:
		return router.StatusBadRequest
	case errors.CategoryNotFound:
		return router.StatusNotFound
	case errors.CategoryConflict:
		return router.StatusConflict
	default:
		return router.StatusInternalServerError
	}
}

func validateUUID(value any) error {
	s, _ := value.(string)
	if _, err := uuid.Parse(s); err != nil {
		return errors.New("must be a valid uuid", errors.CategoryValidation)
	}
	return nil
}
