package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var CreditBalanceSQL = `UPDATE "users" AS "usr"
SET
	"balance_kopecks" = "balance_kopecks" + ?,
	"updated_at" = ?
WHERE
	"usr"."id" = ?
RETURNING *;`

var DebitBalanceSQL = `UPDATE "users" AS "usr"
SET
	"balance_kopecks" = "balance_kopecks" - ?,
	"updated_at" = ?
WHERE
	"usr"."id" = ?
AND "usr"."balance_kopecks" >= ?
RETURNING *;`

// how many times GenerateRefCode may collide before we give up
const refCodeAttempts = 10

// how deep a referral ancestry walk goes before we call it a cycle
const maxReferralDepth = 64

type Users interface {
	repository.Repository[*User]

	GetByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	GetByTelegramIDTx(ctx context.Context, tx bun.IDB, telegramID int64) (*User, error)
	GetByRefCode(ctx context.Context, code string) (*User, error)
	GetByRefCodeTx(ctx context.Context, tx bun.IDB, code string) (*User, error)

	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	CreditBalanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, amount int64) (*User, error)
	DebitBalanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, amount int64) (*User, error)
	ExtendLicenseTx(ctx context.Context, tx bun.IDB, id uuid.UUID, days int, now time.Time) (*User, error)

	ListReferrals(ctx context.Context, referrerID uuid.UUID) ([]*User, error)
	ReferralChainContains(ctx context.Context, startID, candidateID uuid.UUID) (bool, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	return a.GetByTelegramIDTx(ctx, a.db, telegramID)
}

func (a *users) GetByTelegramIDTx(ctx context.Context, tx bun.IDB, telegramID int64) (*User, error) {
	record := &User{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.telegram_id = ?", telegramID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"telegram_id": telegramID,
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) GetByRefCode(ctx context.Context, code string) (*User, error) {
	return a.GetByRefCodeTx(ctx, a.db, code)
}

func (a *users) GetByRefCodeTx(ctx context.Context, tx bun.IDB, code string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.ref_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"ref_code": code,
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	if err := a.prepareUserDefaultsTx(ctx, tx, record); err != nil {
		return nil, err
	}
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) CreditBalanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, amount int64) (*User, error) {
	res, err := a.Repository.RawTx(ctx, tx, CreditBalanceSQL, amount, time.Now(), id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

// DebitBalanceTx decrements the balance only when funds cover the amount.
// An empty result for an existing user means insufficient funds; the caller
// decides how to report it.
func (a *users) DebitBalanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, amount int64) (*User, error) {
	res, err := a.Repository.RawTx(ctx, tx, DebitBalanceSQL, amount, time.Now(), id.String(), amount)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, ErrInsufficientFunds
	}

	return res[0], nil
}

// ExtendLicenseTx applies new = max(existing, now) + days. The guarded
// update keeps the expiry monotonic under concurrent extensions.
func (a *users) ExtendLicenseTx(ctx context.Context, tx bun.IDB, id uuid.UUID, days int, now time.Time) (*User, error) {
	for attempt := 0; attempt < 3; attempt++ {
		user, err := a.Repository.GetByIDTx(ctx, tx, id.String())
		if err != nil {
			return nil, err
		}

		base := now
		if user.LicenseExpiry != nil && user.LicenseExpiry.After(now) {
			base = *user.LicenseExpiry
		}
		next := base.AddDate(0, 0, days)

		q := tx.NewUpdate().Model((*User)(nil)).
			Set("license_expiry = ?", next).
			Set("updated_at = ?", now).
			Where("?TableAlias.id = ?", id)

		if user.LicenseExpiry == nil {
			q = q.Where("?TableAlias.license_expiry IS NULL")
		} else {
			q = q.Where("?TableAlias.license_expiry = ?", *user.LicenseExpiry)
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return nil, err
		}

		if rows, err := res.RowsAffected(); err == nil && rows == 1 {
			user.LicenseExpiry = &next
			return user, nil
		}
	}

	return nil, errors.New("license update contention", errors.CategoryConflict)
}

func (a *users) ListReferrals(ctx context.Context, referrerID uuid.UUID) ([]*User, error) {
	var records []*User
	err := a.db.NewSelect().Model(&records).
		Where("?TableAlias.referred_by = ?", referrerID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ReferralChainContains walks the referred_by ancestry of startID looking
// for candidateID. The walk is bounded; hitting the bound is treated as a
// cycle and reported as containment.
func (a *users) ReferralChainContains(ctx context.Context, startID, candidateID uuid.UUID) (bool, error) {
	current := startID
	for depth := 0; depth < maxReferralDepth; depth++ {
		if current == candidateID {
			return true, nil
		}

		user, err := a.Repository.GetByID(ctx, current.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return false, nil
			}
			return false, err
		}

		if user.ReferredBy == nil {
			return false, nil
		}
		current = *user.ReferredBy
	}

	return true, nil
}

// prepareUserDefaultsTx fills role, derived id, and a unique ref code.
func (a *users) prepareUserDefaultsTx(ctx context.Context, tx bun.IDB, record *User) error {
	if record == nil {
		return nil
	}

	if record.Role == "" {
		record.Role = RoleStandard
	}

	if record.ID == uuid.Nil && record.TelegramID != 0 {
		if id, err := hashid.NewUUID(telegramKey(record.TelegramID)); err == nil {
			record.ID = id
		}
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.RefCode == "" {
		code, err := a.uniqueRefCodeTx(ctx, tx)
		if err != nil {
			return err
		}
		record.RefCode = code
	}

	return nil
}

// telegramKey is the stable input hashid derives user ids from.
func telegramKey(id int64) string {
	return fmt.Sprintf("telegram:%d", id)
}

func (a *users) uniqueRefCodeTx(ctx context.Context, tx bun.IDB) (string, error) {
	for attempt := 0; attempt < refCodeAttempts; attempt++ {
		code, err := GenerateRefCode()
		if err != nil {
			return "", err
		}

		_, err = a.GetByRefCodeTx(ctx, tx, code)
		if repository.IsRecordNotFound(err) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}

	return "", errors.New("could not generate unique ref code", errors.CategoryInternal)
}
