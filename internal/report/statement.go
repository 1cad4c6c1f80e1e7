// Package report renders account statements from the journal.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/xuri/excelize/v2"

	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage"
)

// Line is one journal entry with the balance after it was applied.
type Line struct {
	Entry   ledger.JournalEntry
	Running money.Amount
}

// Statement is an account's journal in posting order.
type Statement struct {
	Account ledger.Account
	Lines   []Line
	// Closing is the replayed balance; it differs from Account.Balance only
	// when the cache has drifted.
	Closing     money.Amount
	GeneratedAt time.Time
}

// Drifted reports whether the cached balance disagrees with the journal.
func (s Statement) Drifted() bool {
	d, err := s.Closing.Sub(s.Account.Balance)
	return err != nil || !d.IsZero()
}

type Reporter struct {
	coord    *txn.Coordinator
	currency string
}

func New(coord *txn.Coordinator, currency string) *Reporter {
	return &Reporter{coord: coord, currency: currency}
}

// Statement reads the account and its entries in one transaction and
// computes the running balance in (Date, ID) order.
func (r *Reporter) Statement(ctx context.Context, accountID uuid.UUID) (Statement, error) {
	if err := txn.Authorize(ctx, txn.OpReportStatement); err != nil {
		return Statement{}, err
	}
	var st Statement
	err := r.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		entries, err := tx.EntriesByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		running := ledger.Zero(r.currency)
		lines := make([]Line, 0, len(entries))
		for _, e := range entries {
			running, err = running.Add(e.Effect())
			if err != nil {
				return fmt.Errorf("entry %d: %w", e.ID, err)
			}
			lines = append(lines, Line{Entry: e, Running: running})
		}
		st = Statement{Account: a, Lines: lines, Closing: running, GeneratedAt: time.Now().UTC()}
		return nil
	})
	return st, err
}

const sheet = "Statement"

// WriteXLSX renders st as a single-sheet workbook.
func WriteXLSX(w io.Writer, st Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"305496"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	cells := []struct {
		cell string
		val  any
	}{
		{"A1", st.Account.Name},
		{"A2", "Code"}, {"B2", st.Account.Code},
		{"A3", "Generated"}, {"B3", st.GeneratedAt.Format(time.RFC3339)},
	}
	for _, c := range cells {
		if err := f.SetCellValue(sheet, c.cell, c.val); err != nil {
			return err
		}
	}
	_ = f.SetCellStyle(sheet, "A1", "A1", bold)

	const first = 5
	if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", first), &[]any{"Date", "Entry", "Description", "Method", "Debit", "Credit", "Balance"}); err != nil {
		return err
	}
	_ = f.SetCellStyle(sheet, fmt.Sprintf("A%d", first), fmt.Sprintf("G%d", first), header)

	row := first + 1
	for _, l := range st.Lines {
		e := l.Entry
		var debit, credit any
		if e.Side == ledger.SideDebit {
			debit = e.Amount.Decimal().String()
		} else {
			credit = e.Amount.Decimal().String()
		}
		vals := []any{e.Date.Format("2006-01-02"), e.ID, e.Description, string(e.Method), debit, credit, l.Running.Decimal().String()}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &vals); err != nil {
			return err
		}
		row++
	}
	if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row+1), &[]any{"Closing", nil, nil, nil, nil, nil, st.Closing.Decimal().String()}); err != nil {
		return err
	}
	_ = f.SetCellStyle(sheet, fmt.Sprintf("A%d", row+1), fmt.Sprintf("G%d", row+1), bold)

	_ = f.SetColWidth(sheet, "A", "A", 12)
	_ = f.SetColWidth(sheet, "C", "C", 40)
	_ = f.SetColWidth(sheet, "E", "G", 14)

	_, err = f.WriteTo(w)
	return err
}
