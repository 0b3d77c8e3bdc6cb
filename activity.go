package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventTokenReuse           ActivityEventType = "auth.token.reuse"
	ActivityEventSessionRevoked       ActivityEventType = "auth.session.revoked"
	ActivityEventImpersonationStart   ActivityEventType = "auth.impersonation.start"
	ActivityEventImpersonationStop    ActivityEventType = "auth.impersonation.stop"
	ActivityEventImpersonationFailure ActivityEventType = "auth.impersonation.failure"
	ActivityEventBalanceCredit        ActivityEventType = "ledger.balance.credit"
	ActivityEventBalanceDebit         ActivityEventType = "ledger.balance.debit"
	ActivityEventLicenseExtend        ActivityEventType = "ledger.license.extend"
	ActivityEventUserSynced           ActivityEventType = "sync.user.upserted"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	ActorID    string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
