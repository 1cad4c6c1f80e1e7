package report

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage"
	"github.com/tinoosan/shopledger/internal/storage/memory"
)

var staff = txn.WithActor(context.Background(), txn.Actor{ID: "clerk", Role: txn.RoleStaff})

func pkr(minor int64) money.Amount {
	a, _ := money.NewAmountFromMinorUnits("PKR", minor)
	return a
}

func seed(t *testing.T) (*Reporter, uuid.UUID) {
	t.Helper()
	s := memory.New()
	id := uuid.New()
	d := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateAccount(ctx, ledger.Account{ID: id, Code: "ali", Name: "Ali", Kind: ledger.AccountKindCustomer, Balance: pkr(26000)}); err != nil {
			return err
		}
		for _, e := range []ledger.JournalEntry{
			{AccountID: id, Side: ledger.SideCredit, Amount: pkr(24000), Description: "Cash received", Method: ledger.MethodCash, Date: d.AddDate(0, 0, 2)},
			{AccountID: id, Side: ledger.SideDebit, Amount: pkr(50000), Description: "Opening balance", Date: d},
		} {
			e := e
			if err := tx.InsertEntry(ctx, &e); err != nil {
				return err
			}
		}
		return nil
	}))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(txn.New(s, log, txn.Options{}), "PKR"), id
}

func TestStatement_RunningBalanceInDateOrder(t *testing.T) {
	r, id := seed(t)
	st, err := r.Statement(staff, id)
	require.NoError(t, err)
	require.Len(t, st.Lines, 2)
	assert.Equal(t, "Opening balance", st.Lines[0].Entry.Description)

	var running []int64
	for _, l := range st.Lines {
		m, _ := l.Running.MinorUnits()
		running = append(running, m)
	}
	assert.Equal(t, []int64{50000, 26000}, running)
	assert.False(t, st.Drifted())
}

func TestStatement_RequiresActorAndAccount(t *testing.T) {
	r, id := seed(t)
	_, err := r.Statement(context.Background(), id)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = r.Statement(staff, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestWriteXLSX(t *testing.T) {
	r, id := seed(t)
	st, err := r.Statement(staff, id)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, st))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheet}, f.GetSheetList())
	name, err := f.GetCellValue(sheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Ali", name)
	bal, err := f.GetCellValue(sheet, "G7")
	require.NoError(t, err)
	assert.Equal(t, "260.00", bal)
	desc, err := f.GetCellValue(sheet, "C6")
	require.NoError(t, err)
	assert.Equal(t, "Opening balance", desc)
}
