package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// ImpersonationController opens and closes impersonated sessions. Depth is
// one: an impersonated session can only be closed, never stacked.
type ImpersonationController struct {
	repo         RepositoryManager
	auther       *Auther
	logger       Logger
	activitySink ActivitySink
}

func NewImpersonationController(repo RepositoryManager, auther *Auther) *ImpersonationController {
	if repo == nil {
		panic("Missing RepositoryManager in impersonation controller...")
	}
	if auther == nil {
		panic("Missing Authenticator in impersonation controller...")
	}

	return &ImpersonationController{
		repo:         repo,
		auther:       auther,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (ic *ImpersonationController) WithLogger(logger Logger) *ImpersonationController {
	if logger != nil {
		ic.logger = logger
	}
	return ic
}

func (ic *ImpersonationController) WithActivitySink(sink ActivitySink) *ImpersonationController {
	ic.activitySink = normalizeActivitySink(sink)
	return ic
}

// Start mints an impersonated session for targetUserID. The new pair carries
// the target's identity and role with the caller recorded as operator; the
// caller's own session is left alone so Stop can fall back to it.
func (ic *ImpersonationController) Start(ctx context.Context, caller AuthClaims, targetUserID uuid.UUID) (TokenPair, error) {
	if caller == nil {
		return TokenPair{}, ErrTokenInvalid
	}

	if caller.IsImpersonated() {
		ic.emitFailure(ctx, caller, targetUserID, ErrNestedImpersonation)
		return TokenPair{}, ErrNestedImpersonation
	}

	if !UserRole(caller.Role()).IsAdmin() {
		ic.emitFailure(ctx, caller, targetUserID, ErrInsufficientPrivilege)
		return TokenPair{}, ErrInsufficientPrivilege
	}

	callerID, err := uuid.Parse(caller.UserID())
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}

	if callerID == targetUserID {
		ic.emitFailure(ctx, caller, targetUserID, ErrInsufficientPrivilege)
		return TokenPair{}, ErrInsufficientPrivilege
	}

	target, err := ic.repo.Users().GetByID(ctx, targetUserID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			ic.emitFailure(ctx, caller, targetUserID, ErrUserNotFound)
			return TokenPair{}, ErrUserNotFound
		}
		return TokenPair{}, err
	}

	pair, err := ic.auther.openSession(ctx, target, &callerID)
	if err != nil {
		return TokenPair{}, err
	}

	ic.emit(ctx, ActivityEventImpersonationStart, caller.UserID(), target.ID.String(), map[string]any{
		"target": target.ID.String(),
	})

	return pair, nil
}

// Stop ends an impersonated session and hands back a first-party pair for
// the operator.
func (ic *ImpersonationController) Stop(ctx context.Context, caller AuthClaims) (TokenPair, error) {
	if caller == nil {
		return TokenPair{}, ErrTokenInvalid
	}

	if !caller.IsImpersonated() {
		return TokenPair{}, ErrNotImpersonating
	}

	operatorID, err := uuid.Parse(caller.Impersonator())
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}

	operator, err := ic.repo.Users().GetByID(ctx, operatorID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return TokenPair{}, ErrUserNotFound
		}
		return TokenPair{}, err
	}

	targetID, err := uuid.Parse(caller.UserID())
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}

	// close the impersonated lineage; the access token in flight expires
	// on its own, but the refresh family must not outlive the exit
	revoked, err := ic.repo.RefreshFamilies().RevokeImpersonated(ctx, operatorID, targetID)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := ic.auther.openSession(ctx, operator, nil)
	if err != nil {
		return TokenPair{}, err
	}

	ic.emit(ctx, ActivityEventImpersonationStop, operator.ID.String(), caller.UserID(), map[string]any{
		"target":           caller.UserID(),
		"revoked_families": revoked,
	})

	return pair, nil
}

func (ic *ImpersonationController) emit(ctx context.Context, eventType ActivityEventType, actorID, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		ActorID:    actorID,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := ic.activitySink.Record(ctx, event); err != nil {
		ic.logger.Error("activity sink record error: %v", err)
	}
}

func (ic *ImpersonationController) emitFailure(ctx context.Context, caller AuthClaims, targetUserID uuid.UUID, cause error) {
	ic.emit(ctx, ActivityEventImpersonationFailure, caller.UserID(), targetUserID.String(), map[string]any{
		"error": cause.Error(),
	})
}
