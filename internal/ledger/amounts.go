package ledger

import (
	"fmt"

	"github.com/govalues/decimal"
	"github.com/govalues/money"
)

// Zero returns a zero amount in curr.
func Zero(curr string) money.Amount {
	z, err := money.NewAmountFromMinorUnits(curr, 0)
	if err != nil {
		panic(fmt.Sprintf("ledger: unsupported currency %q", curr))
	}
	return z
}

// Signed returns amt with the balance sign of side: DEBIT positive, CREDIT negative.
func Signed(side Side, amt money.Amount) money.Amount {
	if side == SideCredit {
		return amt.Neg()
	}
	return amt
}

// Effect is the change e applies to its account's balance.
func (e JournalEntry) Effect() money.Amount { return Signed(e.Side, e.Amount) }

// LineTotal returns Quantity × UnitCost. It fails rather than round when the
// product no longer fits the currency's minor units.
func (i PurchaseItem) LineTotal() (money.Amount, error) {
	q, err := decimal.New(i.Quantity, 0)
	if err != nil {
		return money.Amount{}, fmt.Errorf("quantity %d: %w", i.Quantity, err)
	}
	lt, err := i.UnitCost.Mul(q)
	if err != nil {
		return money.Amount{}, fmt.Errorf("line total %s × %d: %w", i.UnitCost, i.Quantity, err)
	}
	if err := fitsMinorUnits(lt); err != nil {
		return money.Amount{}, err
	}
	return lt, nil
}

// Total is the invoice total: the sum of line totals.
func (p Purchase) Total(curr string) (money.Amount, error) {
	total := Zero(curr)
	for _, it := range p.Items {
		lt, err := it.LineTotal()
		if err != nil {
			return money.Amount{}, err
		}
		if total, err = total.Add(lt); err != nil {
			return money.Amount{}, err
		}
	}
	if err := fitsMinorUnits(total); err != nil {
		return money.Amount{}, err
	}
	return total, nil
}

func fitsMinorUnits(a money.Amount) error {
	if _, ok := a.MinorUnits(); !ok {
		return fmt.Errorf("amount %s out of range", a)
	}
	return nil
}

// Paid is the sum of all payments.
func (p Purchase) Paid(curr string) (money.Amount, error) {
	paid := Zero(curr)
	for _, pm := range p.Payments {
		var err error
		if paid, err = paid.Add(pm.Amount); err != nil {
			return money.Amount{}, err
		}
	}
	return paid, nil
}

// Replay folds entries into a running total, in the order given.
func Replay(curr string, entries []JournalEntry) (money.Amount, error) {
	running := Zero(curr)
	for _, e := range entries {
		var err error
		if running, err = running.Add(e.Effect()); err != nil {
			return money.Amount{}, fmt.Errorf("entry %d: %w", e.ID, err)
		}
	}
	return running, nil
}
