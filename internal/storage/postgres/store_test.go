package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/storage"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

func mustOpen(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn, "PKR", 4)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// prepare applies the schema relative to this file and empties every table.
func prepare(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	b, err := os.ReadFile(filepath.Join(repoRoot, "db", "migrations", "0001_init.sql"))
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, string(b))
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `truncate table operations, journal_entries, stock_movements, purchase_payments, purchase_items, purchases, products, banks, accounts cascade`)
	require.NoError(t, err)
}

func pkr(t *testing.T, minor int64) money.Amount {
	t.Helper()
	a, err := money.NewAmountFromMinorUnits("PKR", minor)
	require.NoError(t, err)
	return a
}

func TestStore_AccountsEntriesAndPurchases(t *testing.T) {
	s := mustOpen(t, getTestDSN(t))
	prepare(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Ready(ctx))

	now := time.Now().UTC().Truncate(time.Microsecond)
	supplier := ledger.Account{ID: uuid.New(), Code: "hamid", Name: "Hamid Fabrics", Kind: ledger.AccountKindSupplier, Balance: pkr(t, 0), CreatedAt: now}
	product := ledger.Product{ID: uuid.New(), Name: "Cotton", CreatedAt: now}

	var entryID int64
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.CreateAccount(ctx, supplier))
		require.NoError(t, tx.CreateProduct(ctx, product))
		e := &ledger.JournalEntry{AccountID: supplier.ID, Side: ledger.SideCredit, Amount: pkr(t, 1234), Description: "opening", Date: now}
		require.NoError(t, tx.InsertEntry(ctx, e))
		entryID = e.ID
		return tx.AddAccountBalance(ctx, supplier.ID, e.Effect())
	}))
	assert.NotZero(t, entryID)

	pid := uuid.New()
	p := ledger.Purchase{
		ID: pid, SupplierID: supplier.ID, InvoiceNo: "INV-1", Date: now, CreatedAt: now,
		Items:    []ledger.PurchaseItem{{ID: uuid.New(), PurchaseID: pid, ProductID: product.ID, Quantity: 10, UnitCost: pkr(t, 100)}},
		Payments: []ledger.Payment{{ID: uuid.New(), PurchaseID: pid, Amount: pkr(t, 400), Method: ledger.MethodCash}},
	}
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.InsertPurchase(ctx, p))
		require.NoError(t, tx.AddProductStock(ctx, product.ID, 10))
		return tx.InsertStockMovements(ctx, []ledger.StockMovement{{ID: uuid.New(), ProductID: product.ID, Quantity: 10, Reason: ledger.StockReasonPurchase, PurchaseID: &pid, Date: now}})
	}))

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetAccount(ctx, supplier.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(-1234), mustMinor(t, got.Balance))

		gp, err := tx.GetPurchase(ctx, pid)
		require.NoError(t, err)
		assert.Len(t, gp.Items, 1)
		assert.Len(t, gp.Payments, 1)

		usage, err := tx.ProductUsage(ctx, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, usage["purchase items"])
		assert.Equal(t, 1, usage["stock movements"])
		return nil
	}))

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateAccount(ctx, ledger.Account{ID: uuid.New(), Code: "other", Name: "hamid fabrics", Kind: ledger.AccountKindSupplier, Balance: pkr(t, 0), CreatedAt: now})
	})
	assert.ErrorIs(t, err, errs.ErrConflict)

	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteEntry(ctx, entryID+1000)
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_OperationKeyConflicts(t *testing.T) {
	s := mustOpen(t, getTestDSN(t))
	prepare(t, s)
	ctx := context.Background()
	rec := ledger.OperationRecord{Key: "k1", Operation: "entry.create", ResourceID: "1", CreatedAt: time.Now().UTC()}

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error { return tx.SaveOperation(ctx, rec) }))
	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error { return tx.SaveOperation(ctx, rec) })
	assert.ErrorIs(t, err, errs.ErrConflict)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, ok, err := tx.GetOperation(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "entry.create", got.Operation)
		return nil
	}))
}

func mustMinor(t *testing.T, a money.Amount) int64 {
	t.Helper()
	m, ok := a.MinorUnits()
	require.True(t, ok)
	return m
}
