package identity

import (
	"context"
	"crypto/subtle"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ExternalIdentity is the payload a trusted internal service pushes when it
// sees a user. Balance and license only apply when the record is created;
// the update path never touches them.
type ExternalIdentity struct {
	TelegramID     int64      `json:"telegram_id"`
	Username       string     `json:"username,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	PhotoURL       string     `json:"photo_url,omitempty"`
	InitialBalance int64      `json:"initial_balance_kopecks,omitempty"`
	InitialLicense *time.Time `json:"initial_license_expiry,omitempty"`
}

// Validate will run validation rules
func (e ExternalIdentity) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.TelegramID, validation.Required),
		validation.Field(&e.InitialBalance, validation.Min(int64(0))),
	)
}

// OpenRouterSettings is the opaque model-gateway profile blob.
type OpenRouterSettings struct {
	APIKey  string `json:"api_key,omitempty"`
	APIHash string `json:"api_hash,omitempty"`
	Model   string `json:"model,omitempty"`
}

// SyncGateway is the machine-to-machine surface. Callers authenticate with
// a shared secret; an empty configured secret refuses everything.
type SyncGateway struct {
	secret       string
	repo         RepositoryManager
	logger       Logger
	activitySink ActivitySink
}

func NewSyncGateway(secret string, repo RepositoryManager) *SyncGateway {
	if repo == nil {
		panic("Missing RepositoryManager in sync gateway...")
	}

	return &SyncGateway{
		secret:       secret,
		repo:         repo,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (g *SyncGateway) WithLogger(logger Logger) *SyncGateway {
	if logger != nil {
		g.logger = logger
	}
	return g
}

func (g *SyncGateway) WithActivitySink(sink ActivitySink) *SyncGateway {
	g.activitySink = normalizeActivitySink(sink)
	return g
}

// Authorize compares the presented token in constant time.
func (g *SyncGateway) Authorize(presented string) error {
	if g.secret == "" {
		return ErrSyncUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(g.secret), []byte(presented)) != 1 {
		return ErrSyncUnauthorized
	}
	return nil
}

// UpsertUser creates or refreshes a user record keyed by telegram id. The
// call is idempotent: repeating it with the same payload changes nothing
// but profile fields.
func (g *SyncGateway) UpsertUser(ctx context.Context, presented string, ext ExternalIdentity) (*User, error) {
	if err := g.Authorize(presented); err != nil {
		return nil, err
	}

	if err := ext.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid sync payload").
			WithCode(errors.CodeBadRequest)
	}

	var user *User
	err := g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = g.upsertTx(ctx, tx, ext)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.emit(ctx, user.ID, map[string]any{
		"telegram_id": ext.TelegramID,
	})

	return user, nil
}

func (g *SyncGateway) upsertTx(ctx context.Context, tx bun.Tx, ext ExternalIdentity) (*User, error) {
	users := g.repo.Users()

	user, err := users.GetByTelegramIDTx(ctx, tx, ext.TelegramID)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			return nil, err
		}

		user = &User{
			TelegramID:    ext.TelegramID,
			Username:      ext.Username,
			FirstName:     ext.FirstName,
			LastName:      ext.LastName,
			PhotoURL:      ext.PhotoURL,
			Balance:       ext.InitialBalance,
			LicenseExpiry: ext.InitialLicense,
		}
		return users.CreateTx(ctx, tx, user)
	}

	// update path: mutable profile fields only
	user.Username = ext.Username
	user.FirstName = ext.FirstName
	user.LastName = ext.LastName
	user.PhotoURL = ext.PhotoURL
	return users.UpdateTx(ctx, tx, user, repository.UpdateByID(user.ID.String()))
}

// UserState reads a user back for internal callers.
func (g *SyncGateway) UserState(ctx context.Context, presented string, userID uuid.UUID) (*User, error) {
	if err := g.Authorize(presented); err != nil {
		return nil, err
	}

	user, err := g.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

// SetOpenRouterSettings stores the model-gateway profile for a user.
func (g *SyncGateway) SetOpenRouterSettings(ctx context.Context, presented string, userID uuid.UUID, s OpenRouterSettings) (*User, error) {
	if err := g.Authorize(presented); err != nil {
		return nil, err
	}

	users := g.repo.Users()

	user, err := users.GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	user.ORAPIKey = s.APIKey
	user.ORAPIHash = s.APIHash
	user.ORModel = s.Model

	return users.Update(ctx, user, repository.UpdateByID(user.ID.String()))
}

func (g *SyncGateway) emit(ctx context.Context, userID uuid.UUID, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  ActivityEventUserSynced,
		ActorID:    "sync",
		UserID:     userID.String(),
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := g.activitySink.Record(ctx, event); err != nil {
		g.logger.Error("activity sink record error: %v", err)
	}
}
