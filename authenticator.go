package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Auther struct {
	verifier     *Verifier
	repo         RepositoryManager
	tokenService TokenService
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, cfg Config) *Auther {
	tokenService := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		time.Duration(cfg.GetAccessTokenMinutes())*time.Minute,
		time.Duration(cfg.GetRefreshTokenDays())*24*time.Hour,
		cfg.GetIssuer(),
		cfg.GetAudience(),
		defLogger{},
	)

	return &Auther{
		verifier:     NewVerifier(cfg.GetBotSecret()),
		repo:         repo,
		tokenService: tokenService,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithVerifier swaps the assertion verifier, mostly to adjust skew or clock.
func (s *Auther) WithVerifier(v *Verifier) *Auther {
	if v != nil {
		s.verifier = v
	}
	return s
}

// WithTokenService sets a custom token service.
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login verifies the assertion, gets or creates the user record, and opens
// a fresh session family. inviteCode is optional; it only binds when the
// user has no referrer and no active license yet.
func (s *Auther) Login(ctx context.Context, assertion LoginAssertion, inviteCode string) (*User, TokenPair, error) {
	verified, err := s.verifier.Verify(assertion)
	if err != nil {
		s.logger.Error("Login assertion verification failed: %v", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", "", map[string]any{
			"telegram_id": assertion.ID,
			"error":       err.Error(),
		})
		return nil, TokenPair{}, err
	}

	var user *User
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = s.upsertLoginTx(ctx, tx, verified, inviteCode)
		return err
	})
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", "", map[string]any{
			"telegram_id": verified.TelegramID,
			"error":       err.Error(),
		})
		return nil, TokenPair{}, err
	}

	pair, err := s.openSession(ctx, user, nil)
	if err != nil {
		return nil, TokenPair{}, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, user.ID.String(), user.ID.String(), map[string]any{
		"telegram_id": verified.TelegramID,
	})

	return user, pair, nil
}

func (s *Auther) upsertLoginTx(ctx context.Context, tx bun.Tx, verified VerifiedIdentity, inviteCode string) (*User, error) {
	users := s.repo.Users()

	user, err := users.GetByTelegramIDTx(ctx, tx, verified.TelegramID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}

	if user == nil || repository.IsRecordNotFound(err) {
		user = &User{
			TelegramID: verified.TelegramID,
			Username:   verified.Username,
			FirstName:  verified.FirstName,
			LastName:   verified.LastName,
			PhotoURL:   verified.PhotoURL,
		}
		if user, err = users.CreateTx(ctx, tx, user); err != nil {
			return nil, errors.Wrap(err, errors.CategoryConflict, "could not create user")
		}
	} else {
		user.Username = verified.Username
		user.FirstName = verified.FirstName
		user.LastName = verified.LastName
		user.PhotoURL = verified.PhotoURL
		if user, err = users.UpdateTx(ctx, tx, user, repository.UpdateByID(user.ID.String())); err != nil {
			return nil, err
		}
	}

	if inviteCode != "" && user.ReferredBy == nil && !user.HasActiveLicense(s.now()) {
		if err := s.bindReferralTx(ctx, tx, user, inviteCode); err != nil {
			// a bad invite code does not block the login
			s.logger.Info("Login referral binding skipped for code %s: %v", inviteCode, err)
		}
	}

	return user, nil
}

func (s *Auther) bindReferralTx(ctx context.Context, tx bun.Tx, user *User, inviteCode string) error {
	users := s.repo.Users()

	referrer, err := users.GetByRefCodeTx(ctx, tx, inviteCode)
	if err != nil {
		return err
	}

	if referrer.ID == user.ID {
		return errors.New("self-referral rejected", errors.CategoryValidation)
	}

	cyclic, err := users.ReferralChainContains(ctx, referrer.ID, user.ID)
	if err != nil {
		return err
	}
	if cyclic {
		return errors.New("referral would create a cycle", errors.CategoryValidation)
	}

	user.ReferredBy = &referrer.ID
	_, err = users.UpdateTx(ctx, tx, user, repository.UpdateByID(user.ID.String()))
	return err
}

// openSession creates a new refresh family and returns the first pair.
func (s *Auther) openSession(ctx context.Context, user *User, impersonatorID *uuid.UUID) (TokenPair, error) {
	now := s.now()
	family := &RefreshTokenFamily{
		ID:             uuid.New(),
		UserID:         user.ID,
		CurrentTokenID: uuid.New(),
		ImpersonatorID: impersonatorID,
		IssuedAt:       &now,
	}

	if _, err := s.repo.RefreshFamilies().Create(ctx, family); err != nil {
		return TokenPair{}, err
	}

	return s.mintPair(user, family, family.CurrentTokenID)
}

func (s *Auther) mintPair(user *User, family *RefreshTokenFamily, tokenID uuid.UUID) (TokenPair, error) {
	imp := ""
	if family.ImpersonatorID != nil {
		imp = family.ImpersonatorID.String()
	}

	access, err := s.tokenService.IssueAccessToken(user.ID.String(), user.Role, imp)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.tokenService.IssueRefreshCredential(family.ID, tokenID, user.ID.String())
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Rotate exchanges a refresh credential for a fresh pair. A credential that
// lost the race, or one replayed after a successful rotation, kills the
// whole family before the error is returned.
func (s *Auther) Rotate(ctx context.Context, refreshCredential string) (TokenPair, error) {
	claims, err := s.tokenService.ValidateRefresh(refreshCredential)
	if err != nil {
		return TokenPair{}, err
	}

	familyID, err := claims.FamilyID()
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}
	tokenID, err := claims.TokenID()
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}

	families := s.repo.RefreshFamilies()

	family, err := families.GetByID(ctx, familyID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, err
	}

	if family.Revoked {
		return TokenPair{}, ErrSessionRevoked
	}

	next := uuid.New()
	advanced, err := families.CompareAndAdvance(ctx, familyID, tokenID, next)
	if err != nil {
		return TokenPair{}, err
	}

	if !advanced {
		// the presented token is not the current one; either it was
		// already spent or a concurrent rotation won. Both are reuse.
		if revokeErr := families.Revoke(ctx, familyID); revokeErr != nil {
			s.logger.Error("Rotate failed to revoke family %s after reuse: %v", familyID, revokeErr)
		}
		s.emitAuthEvent(ctx, ActivityEventTokenReuse, family.UserID.String(), family.UserID.String(), map[string]any{
			"family": familyID.String(),
		})
		return TokenPair{}, ErrTokenReuseDetected
	}

	user, err := s.repo.Users().GetByID(ctx, family.UserID.String())
	if err != nil {
		return TokenPair{}, err
	}

	if family.ImpersonatorID != nil {
		if err := s.recheckImpersonator(ctx, *family.ImpersonatorID); err != nil {
			if revokeErr := families.Revoke(ctx, familyID); revokeErr != nil {
				s.logger.Error("Rotate failed to revoke impersonated family %s: %v", familyID, revokeErr)
			}
			return TokenPair{}, err
		}
	}

	return s.mintPair(user, family, next)
}

// recheckImpersonator refuses rotation for impersonated sessions whose
// operator lost admin since the session opened.
func (s *Auther) recheckImpersonator(ctx context.Context, impersonatorID uuid.UUID) error {
	impersonator, err := s.repo.Users().GetByID(ctx, impersonatorID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrSessionRevoked
		}
		return err
	}

	if !impersonator.Role.IsAdmin() {
		return ErrSessionRevoked
	}

	return nil
}

// Handover exchanges a valid access token for a brand new session family.
// A first-party client presents the token it already holds and gets a
// refresh credential scoped to this surface; the client's own credential
// is untouched. Impersonated tokens carry their operator into the new
// family so demotion checks keep applying.
func (s *Auther) Handover(ctx context.Context, accessToken string) (TokenPair, error) {
	claims, err := s.tokenService.Validate(accessToken)
	if err != nil {
		return TokenPair{}, err
	}

	// refresh credentials parse as claims without a role; only access
	// tokens open sessions here
	if claims.Role() == "" {
		return TokenPair{}, ErrTokenInvalid
	}

	user, err := s.repo.Users().GetByID(ctx, claims.UserID())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return TokenPair{}, ErrUserNotFound
		}
		return TokenPair{}, err
	}

	var impersonatorID *uuid.UUID
	if claims.IsImpersonated() {
		id, err := uuid.Parse(claims.Impersonator())
		if err != nil {
			return TokenPair{}, ErrTokenInvalid
		}
		if err := s.recheckImpersonator(ctx, id); err != nil {
			return TokenPair{}, err
		}
		impersonatorID = &id
	}

	return s.openSession(ctx, user, impersonatorID)
}

// Logout revokes the family behind the presented credential.
func (s *Auther) Logout(ctx context.Context, refreshCredential string) error {
	claims, err := s.tokenService.ValidateRefresh(refreshCredential)
	if err != nil {
		return err
	}

	familyID, err := claims.FamilyID()
	if err != nil {
		return ErrTokenInvalid
	}

	if err := s.repo.RefreshFamilies().Revoke(ctx, familyID); err != nil {
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventSessionRevoked, claims.Subject, claims.Subject, map[string]any{
		"family": familyID.String(),
	})

	return nil
}

// LogoutEverywhere revokes every live family for the user.
func (s *Auther) LogoutEverywhere(ctx context.Context, userID uuid.UUID) (int64, error) {
	revoked, err := s.repo.RefreshFamilies().RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.emitAuthEvent(ctx, ActivityEventSessionRevoked, userID.String(), userID.String(), map[string]any{
		"revoked_families": revoked,
	})

	return revoked, nil
}

// SessionFromToken validates an access token and returns its claims.
func (s *Auther) SessionFromToken(raw string) (AuthClaims, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		s.logger.Error("SessionFromToken validation failed: %v", err)
		return nil, err
	}
	return claims, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actorID, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		ActorID:   actorID,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Error("activity sink record error: %v", err)
	}
}

// Verify interface compliance
var _ Authenticator = (*Auther)(nil)
