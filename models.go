package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model. Identities originate on the messaging platform,
// so TelegramID is the natural key and ID is derived from it at creation.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	TelegramID    int64      `bun:"telegram_id,notnull,unique" json:"telegram_id,omitempty"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Username      string     `bun:"username" json:"username,omitempty"`
	FirstName     string     `bun:"first_name" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name" json:"last_name,omitempty"`
	PhotoURL      string     `bun:"photo_url" json:"photo_url,omitempty"`
	ReferredBy    *uuid.UUID `bun:"referred_by,nullzero,type:uuid" json:"referred_by,omitempty"`
	RefCode       string     `bun:"ref_code,nullzero,unique" json:"ref_code,omitempty"`
	Balance       int64      `bun:"balance_kopecks,notnull,default:0" json:"balance_kopecks"`
	LicenseExpiry *time.Time `bun:"license_expiry,nullzero" json:"license_expiry,omitempty"`
	ORAPIKey      string     `bun:"or_api_key" json:"or_api_key,omitempty"`
	ORAPIHash     string     `bun:"or_api_hash" json:"or_api_hash,omitempty"`
	ORModel       string     `bun:"or_model" json:"or_model,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// HasActiveLicense reports whether the license covers the given instant.
func (u *User) HasActiveLicense(now time.Time) bool {
	return u.LicenseExpiry != nil && u.LicenseExpiry.After(now)
}

// RefreshTokenFamily tracks one login session. Every rotation replaces
// CurrentTokenID; a presented token that does not match the current one is
// evidence of reuse and kills the family.
type RefreshTokenFamily struct {
	bun.BaseModel  `bun:"table:refresh_token_families,alias:rtf"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User           *User      `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	CurrentTokenID uuid.UUID  `bun:"current_token_id,notnull,type:uuid" json:"current_token_id,omitempty"`
	RotationCount  int        `bun:"rotation_count,notnull,default:0" json:"rotation_count"`
	Revoked        bool       `bun:"revoked,notnull,default:false" json:"revoked"`
	ImpersonatorID *uuid.UUID `bun:"impersonator_id,nullzero,type:uuid" json:"impersonator_id,omitempty"`
	IssuedAt       *time.Time `bun:"issued_at,nullzero,default:current_timestamp" json:"issued_at,omitempty"`
	LastUsedAt     *time.Time `bun:"last_used_at,nullzero" json:"last_used_at,omitempty"`
}

// LedgerKind labels a privileged ledger mutation.
type LedgerKind = string

const (
	LedgerBalanceCredit LedgerKind = "balance-credit"
	LedgerBalanceDebit  LedgerKind = "balance-debit"
	LedgerLicenseExtend LedgerKind = "license-extend"
)

// LedgerEntry is an append-only record of a balance or license mutation.
// Rows are only ever inserted.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:ledger_entries,alias:led"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ActorID       uuid.UUID  `bun:"actor_id,notnull,type:uuid" json:"actor_id,omitempty"`
	TargetUserID  uuid.UUID  `bun:"target_user_id,notnull,type:uuid" json:"target_user_id,omitempty"`
	Kind          LedgerKind `bun:"kind,notnull" json:"kind,omitempty"`
	Amount        int64      `bun:"amount_kopecks,notnull,default:0" json:"amount_kopecks"`
	DurationDays  int        `bun:"duration_days,notnull,default:0" json:"duration_days"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// UserSummary is the projection exposed by the partner view.
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
}

// Summary projects the public subset of a user record.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
