package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	RefreshFamilies() RefreshFamilies
	Ledger() repository.Repository[*LedgerEntry]
}

type mngr struct {
	db       *bun.DB
	users    Users
	families RefreshFamilies
	ledger   repository.Repository[*LedgerEntry]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:       db,
		users:    NewUsersRepository(db),
		families: NewRefreshFamiliesRepository(db),
		ledger:   NewLedgerRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.families == nil {
		return errors.New("repository refreshFamilies should be initialized")
	}

	if m.ledger == nil {
		return errors.New("repository ledger should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) RefreshFamilies() RefreshFamilies {
	return m.families
}

func (m mngr) Ledger() repository.Repository[*LedgerEntry] {
	return m.ledger
}
