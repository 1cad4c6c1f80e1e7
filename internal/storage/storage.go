// Package storage defines the transactional store contract shared by the
// services. Implementations live in storage/memory and storage/postgres.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/shopledger/internal/ledger"
)

// Store runs units of work atomically. fn's writes commit together when it
// returns nil and are discarded otherwise. A ctx deadline that expires
// inside the unit rolls it back and surfaces errs.ErrTxTimeout.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ready(ctx context.Context) error
	Close()
}

// EntryFilter narrows a journal scan. Zero fields are ignored.
type EntryFilter struct {
	AccountID           uuid.UUID
	ExcludeAccountID    uuid.UUID
	DescriptionContains string
	Amount              *money.Amount
	// Day matches entries dated on the same UTC calendar day.
	Day                 *time.Time
	// WithoutMirrors drops entries that already have a mirror pointing at them.
	WithoutMirrors      bool
}

// Tx is the record-level API available inside a unit of work.
// Balance and stock changes are increments so concurrent units commute.
type Tx interface {
	// Accounts
	CreateAccount(ctx context.Context, a ledger.Account) error
	UpdateAccount(ctx context.Context, a ledger.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	AccountByCode(ctx context.Context, code string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	AddAccountBalance(ctx context.Context, id uuid.UUID, delta money.Amount) error
	SetAccountBalance(ctx context.Context, id uuid.UUID, balance money.Amount) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	// AccountUsage counts records that reference the account, keyed by label.
	AccountUsage(ctx context.Context, id uuid.UUID) (map[string]int, error)

	// Journal
	InsertEntry(ctx context.Context, e *ledger.JournalEntry) error
	GetEntry(ctx context.Context, id int64) (ledger.JournalEntry, error)
	DeleteEntry(ctx context.Context, id int64) error
	// EntriesByAccount returns the account's journal ordered by (Date, ID) ascending.
	EntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]ledger.JournalEntry, error)
	EntriesByPurchase(ctx context.Context, purchaseID uuid.UUID) ([]ledger.JournalEntry, error)
	MirrorsOf(ctx context.Context, entryID int64) ([]ledger.JournalEntry, error)
	FindEntries(ctx context.Context, f EntryFilter) ([]ledger.JournalEntry, error)

	// Banks
	CreateBank(ctx context.Context, b ledger.Bank) error
	GetBank(ctx context.Context, id uuid.UUID) (ledger.Bank, error)
	ListBanks(ctx context.Context) ([]ledger.Bank, error)
	AddBankBalance(ctx context.Context, id uuid.UUID, delta money.Amount) error

	// Products and stock
	CreateProduct(ctx context.Context, p ledger.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (ledger.Product, error)
	ListProducts(ctx context.Context) ([]ledger.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	ProductUsage(ctx context.Context, id uuid.UUID) (map[string]int, error)
	AddProductStock(ctx context.Context, id uuid.UUID, delta int64) error
	InsertStockMovements(ctx context.Context, ms []ledger.StockMovement) error

	// Purchases (items and payments are written and deleted with the header)
	InsertPurchase(ctx context.Context, p ledger.Purchase) error
	GetPurchase(ctx context.Context, id uuid.UUID) (ledger.Purchase, error)
	ListPurchases(ctx context.Context, supplierID uuid.UUID) ([]ledger.Purchase, error)
	DeletePurchase(ctx context.Context, id uuid.UUID) error

	// Idempotency
	GetOperation(ctx context.Context, key string) (ledger.OperationRecord, bool, error)
	SaveOperation(ctx context.Context, rec ledger.OperationRecord) error
}
