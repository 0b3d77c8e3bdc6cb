package identity

import (
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

func NewLedgerRepository(db *bun.DB) repository.Repository[*LedgerEntry] {
	handlers := repository.ModelHandlers[*LedgerEntry]{
		NewRecord: func() *LedgerEntry {
			return &LedgerEntry{}
		},
		GetID: func(record *LedgerEntry) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *LedgerEntry, id uuid.UUID) {
			record.ID = id
		},
	}
	return repository.NewRepository(db, handlers)
}
