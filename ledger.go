package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Ledger applies privileged balance and license mutations. Every mutation
// appends an entry in the same transaction, so the entries replay to the
// current state.
type Ledger struct {
	repo         RepositoryManager
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

func NewLedger(repo RepositoryManager) *Ledger {
	if repo == nil {
		panic("Missing RepositoryManager in ledger...")
	}

	return &Ledger{
		repo:         repo,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (l *Ledger) WithLogger(logger Logger) *Ledger {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *Ledger) WithActivitySink(sink ActivitySink) *Ledger {
	l.activitySink = normalizeActivitySink(sink)
	return l
}

// PartnerView is the one-hop referral neighborhood of a user.
type PartnerView struct {
	ReferredBy *UserSummary  `json:"referred_by,omitempty"`
	Referrals  []UserSummary `json:"referrals"`
	RefCode    string        `json:"ref_code,omitempty"`
}

// AddBalance credits amountKopecks to the target. Admin only; amounts are
// minor units and must be positive.
func (l *Ledger) AddBalance(ctx context.Context, actor AuthClaims, targetUserID uuid.UUID, amountKopecks int64) (int64, error) {
	actorID, err := l.requireAdmin(actor)
	if err != nil {
		return 0, err
	}

	if amountKopecks <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := l.repo.Users().CreditBalanceTx(ctx, tx, targetUserID, amountKopecks)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}
		balance = user.Balance

		return l.appendEntryTx(ctx, tx, &LedgerEntry{
			ActorID:      actorID,
			TargetUserID: targetUserID,
			Kind:         LedgerBalanceCredit,
			Amount:       amountKopecks,
		})
	})
	if err != nil {
		return 0, err
	}

	l.emit(ctx, ActivityEventBalanceCredit, actorID, targetUserID, map[string]any{
		"amount_kopecks": amountKopecks,
		"balance":        balance,
	})

	return balance, nil
}

// DebitBalance withdraws amountKopecks when the balance covers it. The
// internal sync surface calls this; actorID identifies the machine caller's
// acting user (the target itself for self-serve spends).
func (l *Ledger) DebitBalance(ctx context.Context, actorID, targetUserID uuid.UUID, amountKopecks int64) (int64, error) {
	if amountKopecks <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// existence first, so a missing user is not reported as broke
		if _, err := l.repo.Users().GetByIDTx(ctx, tx, targetUserID.String()); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		user, err := l.repo.Users().DebitBalanceTx(ctx, tx, targetUserID, amountKopecks)
		if err != nil {
			return err
		}
		balance = user.Balance

		return l.appendEntryTx(ctx, tx, &LedgerEntry{
			ActorID:      actorID,
			TargetUserID: targetUserID,
			Kind:         LedgerBalanceDebit,
			Amount:       amountKopecks,
		})
	})
	if err != nil {
		return 0, err
	}

	l.emit(ctx, ActivityEventBalanceDebit, actorID, targetUserID, map[string]any{
		"amount_kopecks": amountKopecks,
		"balance":        balance,
	})

	return balance, nil
}

// ExtendLicense advances the license expiry by days, from now or from the
// current expiry, whichever is later. Admin only.
func (l *Ledger) ExtendLicense(ctx context.Context, actor AuthClaims, targetUserID uuid.UUID, days int) (time.Time, error) {
	actorID, err := l.requireAdmin(actor)
	if err != nil {
		return time.Time{}, err
	}

	if days <= 0 {
		return time.Time{}, ErrInvalidDuration
	}

	var expiry time.Time
	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := l.repo.Users().ExtendLicenseTx(ctx, tx, targetUserID, days, l.now())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}
		expiry = *user.LicenseExpiry

		return l.appendEntryTx(ctx, tx, &LedgerEntry{
			ActorID:      actorID,
			TargetUserID: targetUserID,
			Kind:         LedgerLicenseExtend,
			DurationDays: days,
		})
	})
	if err != nil {
		return time.Time{}, err
	}

	l.emit(ctx, ActivityEventLicenseExtend, actorID, targetUserID, map[string]any{
		"days":   days,
		"expiry": expiry,
	})

	return expiry, nil
}

// Partners returns the caller's one-hop referral neighborhood. Any
// authenticated user reads their own view; there is no cross-user access.
func (l *Ledger) Partners(ctx context.Context, caller AuthClaims) (*PartnerView, error) {
	if caller == nil {
		return nil, ErrTokenInvalid
	}

	callerID, err := uuid.Parse(caller.UserID())
	if err != nil {
		return nil, ErrTokenInvalid
	}

	user, err := l.repo.Users().GetByID(ctx, callerID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	view := &PartnerView{
		RefCode:   user.RefCode,
		Referrals: []UserSummary{},
	}

	if user.ReferredBy != nil {
		referrer, err := l.repo.Users().GetByID(ctx, user.ReferredBy.String())
		if err == nil {
			summary := referrer.Summary()
			view.ReferredBy = &summary
		} else if !repository.IsRecordNotFound(err) {
			return nil, err
		}
	}

	referrals, err := l.repo.Users().ListReferrals(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range referrals {
		view.Referrals = append(view.Referrals, r.Summary())
	}

	return view, nil
}

func (l *Ledger) appendEntryTx(ctx context.Context, tx bun.Tx, entry *LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if _, err := l.repo.Ledger().CreateTx(ctx, tx, entry); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "could not append ledger entry")
	}
	return nil
}

func (l *Ledger) requireAdmin(actor AuthClaims) (uuid.UUID, error) {
	if actor == nil {
		return uuid.Nil, ErrTokenInvalid
	}

	// impersonated sessions carry the target's role and never pass here
	if !IsFirstPartyAdmin(actor) {
		return uuid.Nil, ErrInsufficientPrivilege
	}

	actorID, err := uuid.Parse(actor.UserID())
	if err != nil {
		return uuid.Nil, ErrTokenInvalid
	}

	return actorID, nil
}

func (l *Ledger) emit(ctx context.Context, eventType ActivityEventType, actorID, targetUserID uuid.UUID, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		ActorID:    actorID.String(),
		UserID:     targetUserID.String(),
		Metadata:   metadata,
		OccurredAt: l.now(),
	}
	if err := l.activitySink.Record(ctx, event); err != nil {
		l.logger.Error("activity sink record error: %v", err)
	}
}
