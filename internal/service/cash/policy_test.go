package cash

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/storage"
	"github.com/tinoosan/shopledger/internal/storage/memory"
)

func newPolicy() *Policy {
	return New("cash", "Cash Account", "PKR", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolve_CreatesOnceAndPins(t *testing.T) {
	s := memory.New()
	p := newPolicy()

	first, err := p.Resolve(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, first.System)
	assert.Equal(t, ledger.AccountKindCash, first.Kind)

	second, err := newPolicy().Resolve(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	id, ok := p.AccountID()
	require.True(t, ok)
	assert.Equal(t, first.ID, id)
	assert.True(t, p.IsCash(first.ID))
}

func TestResolve_RejectsCodeHeldByOtherKind(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateAccount(ctx, ledger.Account{ID: uuid.New(), Code: "cash", Name: "Cash Traders", Kind: ledger.AccountKindSupplier, Balance: ledger.Zero("PKR")})
	}))
	_, err := newPolicy().Resolve(context.Background(), s)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestMirror_PostsOppositeSideOnce(t *testing.T) {
	s := memory.New()
	p := newPolicy()
	cashAcc, err := p.Resolve(context.Background(), s)
	require.NoError(t, err)
	customer := ledger.Account{ID: uuid.New(), Code: "ali", Name: "Ali", Kind: ledger.AccountKindCustomer, Balance: ledger.Zero("PKR")}
	amt, _ := money.NewAmountFromMinorUnits("PKR", 400)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.CreateAccount(ctx, customer))
		primary := &ledger.JournalEntry{AccountID: customer.ID, Side: ledger.SideCredit, Amount: amt, Method: ledger.MethodCash, Date: time.Now()}
		require.NoError(t, tx.InsertEntry(ctx, primary))
		m, err := p.Mirror(ctx, tx, *primary)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, ledger.SideDebit, m.Side)
		assert.Equal(t, primary.ID, *m.MirrorOf)
		return nil
	}))

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetAccount(ctx, cashAcc.ID)
		require.NoError(t, err)
		minor, ok := got.Balance.MinorUnits()
		require.True(t, ok)
		assert.Equal(t, int64(400), minor)
		es, err := tx.EntriesByAccount(ctx, cashAcc.ID)
		require.NoError(t, err)
		assert.Len(t, es, 1)
		return nil
	}))
}

func TestMirror_UnresolvedIsDriftNotFailure(t *testing.T) {
	s := memory.New()
	p := newPolicy()
	customer := ledger.Account{ID: uuid.New(), Code: "ali", Name: "Ali", Kind: ledger.AccountKindCustomer, Balance: ledger.Zero("PKR")}
	amt, _ := money.NewAmountFromMinorUnits("PKR", 400)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.CreateAccount(ctx, customer))
		m, err := p.Mirror(ctx, tx, ledger.JournalEntry{ID: 1, AccountID: customer.ID, Side: ledger.SideCredit, Amount: amt})
		assert.NoError(t, err)
		assert.Nil(t, m)
		return nil
	}))
}
