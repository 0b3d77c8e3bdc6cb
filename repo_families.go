package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RefreshFamilies is the session store. One row per login session; rotation
// is a compare-and-advance of current_token_id.
type RefreshFamilies interface {
	repository.Repository[*RefreshTokenFamily]

	CompareAndAdvance(ctx context.Context, familyID, expected, next uuid.UUID) (bool, error)
	CompareAndAdvanceTx(ctx context.Context, tx bun.IDB, familyID, expected, next uuid.UUID) (bool, error)
	Revoke(ctx context.Context, familyID uuid.UUID) error
	RevokeTx(ctx context.Context, tx bun.IDB, familyID uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	RevokeImpersonated(ctx context.Context, operatorID, targetUserID uuid.UUID) (int64, error)
}

type refreshFamilies struct {
	repository.Repository[*RefreshTokenFamily]
	db *bun.DB
}

var (
	_ RefreshFamilies                            = (*refreshFamilies)(nil)
	_ repository.Repository[*RefreshTokenFamily] = (*refreshFamilies)(nil)
)

func NewRefreshFamiliesRepository(db *bun.DB) RefreshFamilies {
	repo := repository.NewRepository[*RefreshTokenFamily](db, repository.ModelHandlers[*RefreshTokenFamily]{
		NewRecord: func() *RefreshTokenFamily { return &RefreshTokenFamily{} },
		GetID: func(f *RefreshTokenFamily) uuid.UUID {
			if f == nil {
				return uuid.Nil
			}
			return f.ID
		},
		SetID: func(f *RefreshTokenFamily, id uuid.UUID) {
			if f != nil {
				f.ID = id
			}
		},
	})

	return &refreshFamilies{
		Repository: repo,
		db:         db,
	}
}

func (r *refreshFamilies) CompareAndAdvance(ctx context.Context, familyID, expected, next uuid.UUID) (bool, error) {
	return r.CompareAndAdvanceTx(ctx, r.db, familyID, expected, next)
}

// CompareAndAdvanceTx advances the family's current token in one conditional
// UPDATE. Rows affected decides the winner; there is no other path that
// moves current_token_id forward.
func (r *refreshFamilies) CompareAndAdvanceTx(ctx context.Context, tx bun.IDB, familyID, expected, next uuid.UUID) (bool, error) {
	now := time.Now()
	res, err := tx.NewUpdate().Model((*RefreshTokenFamily)(nil)).
		Set("current_token_id = ?", next).
		Set("rotation_count = rotation_count + 1").
		Set("last_used_at = ?", now).
		Where("?TableAlias.id = ?", familyID).
		Where("?TableAlias.current_token_id = ?", expected).
		Where("NOT ?TableAlias.revoked").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (r *refreshFamilies) Revoke(ctx context.Context, familyID uuid.UUID) error {
	return r.RevokeTx(ctx, r.db, familyID)
}

// RevokeTx is terminal; a revoked family never rotates again.
func (r *refreshFamilies) RevokeTx(ctx context.Context, tx bun.IDB, familyID uuid.UUID) error {
	_, err := tx.NewUpdate().Model((*RefreshTokenFamily)(nil)).
		Set("revoked = ?", true).
		Where("?TableAlias.id = ?", familyID).
		Exec(ctx)
	return err
}

// RevokeAllForUser supports logout-everywhere. Returns how many live
// families were revoked.
func (r *refreshFamilies) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := r.db.NewUpdate().Model((*RefreshTokenFamily)(nil)).
		Set("revoked = ?", true).
		Where("?TableAlias.user_id = ?", userID).
		Where("NOT ?TableAlias.revoked").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeImpersonated closes every live family the operator opened against
// the target. Used when the operator exits impersonation.
func (r *refreshFamilies) RevokeImpersonated(ctx context.Context, operatorID, targetUserID uuid.UUID) (int64, error) {
	res, err := r.db.NewUpdate().Model((*RefreshTokenFamily)(nil)).
		Set("revoked = ?", true).
		Where("?TableAlias.impersonator_id = ?", operatorID).
		Where("?TableAlias.user_id = ?", targetUserID).
		Where("NOT ?TableAlias.revoked").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
