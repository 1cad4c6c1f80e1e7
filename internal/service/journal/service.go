// Package journal owns the immutable journal and the balance cache it feeds.
// Every entry written or removed here moves the owning account's balance in
// the same unit of work.
package journal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/cash"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage"
)

// Post inserts e and increments its account's balance by e's effect.
func Post(ctx context.Context, tx storage.Tx, e *ledger.JournalEntry) error {
	if err := tx.InsertEntry(ctx, e); err != nil {
		return err
	}
	return tx.AddAccountBalance(ctx, e.AccountID, e.Effect())
}

// Unpost deletes e and takes its effect back out of the balance.
func Unpost(ctx context.Context, tx storage.Tx, e ledger.JournalEntry) error {
	if err := tx.DeleteEntry(ctx, e.ID); err != nil {
		return err
	}
	return tx.AddAccountBalance(ctx, e.AccountID, e.Effect().Neg())
}

// BankDelta is how a payment entry moves its bank: a CREDIT on the
// counterparty is money in, a DEBIT is money out.
func BankDelta(e ledger.JournalEntry) money.Amount { return e.Effect().Neg() }

// EntryInput is a request to post one entry against a customer or supplier.
type EntryInput struct {
	AccountID   uuid.UUID
	Side        ledger.Side
	Amount      money.Amount
	Description string
	Method      ledger.PaymentMethod
	BankID      *uuid.UUID
	Date        time.Time
}

// Service posts and removes individual journal entries.
type Service interface {
	ValidateEntry(in EntryInput) error
	CreateEntry(ctx context.Context, in EntryInput) (ledger.JournalEntry, bool, error)
	DeleteEntry(ctx context.Context, id int64) error
	GetEntry(ctx context.Context, id int64) (ledger.JournalEntry, error)
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]ledger.JournalEntry, error)
}

type service struct {
	coord    *txn.Coordinator
	cash     *cash.Policy
	currency string
	now      func() time.Time
}

func New(coord *txn.Coordinator, cashPolicy *cash.Policy, currency string) Service {
	return &service{coord: coord, cash: cashPolicy, currency: currency, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) ValidateEntry(in EntryInput) error {
	if in.AccountID == uuid.Nil {
		return errs.Invalidf("account_id required")
	}
	if !in.Side.Valid() {
		return errs.Invalidf("side must be DEBIT or CREDIT")
	}
	if err := positive(in.Amount, s.currency); err != nil {
		return err
	}
	switch in.Method {
	case ledger.MethodNone, ledger.MethodCash:
		if in.BankID != nil {
			return errs.Invalidf("bank_id only allowed with method BANK")
		}
	case ledger.MethodBank:
		if in.BankID == nil || *in.BankID == uuid.Nil {
			return errs.Invalidf("bank_id required for method BANK")
		}
	default:
		return errs.Invalidf("method must be CASH or BANK")
	}
	return nil
}

// positive checks amount is > 0 and in the ledger currency.
func positive(a money.Amount, currency string) error {
	if a.Curr().Code() != currency {
		return errs.Invalidf("amount currency must be %s", currency)
	}
	if a.Sign() <= 0 {
		return errs.Invalidf("amount must be > 0")
	}
	return nil
}

// CreateEntry posts the entry, its Cash mirror for CASH, and the bank
// movement for BANK. The bool is true when an idempotent replay returned the
// original entry.
func (s *service) CreateEntry(ctx context.Context, in EntryInput) (ledger.JournalEntry, bool, error) {
	if err := s.ValidateEntry(in); err != nil {
		return ledger.JournalEntry{}, false, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var created ledger.JournalEntry
	res, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpEntryCreate, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		if _, err := tx.GetAccount(ctx, in.AccountID); err != nil {
			return txn.Result{}, err
		}
		if in.Method == ledger.MethodBank {
			if _, err := tx.GetBank(ctx, *in.BankID); err != nil {
				return txn.Result{}, err
			}
		}
		e := &ledger.JournalEntry{
			AccountID:   in.AccountID,
			Side:        in.Side,
			Amount:      in.Amount,
			Description: in.Description,
			Method:      in.Method,
			BankID:      in.BankID,
			Date:        in.Date,
		}
		if err := Post(ctx, tx, e); err != nil {
			return txn.Result{}, err
		}
		switch in.Method {
		case ledger.MethodCash:
			if _, err := s.cash.Mirror(ctx, tx, *e); err != nil {
				return txn.Result{}, err
			}
		case ledger.MethodBank:
			if err := tx.AddBankBalance(ctx, *in.BankID, BankDelta(*e)); err != nil {
				return txn.Result{}, err
			}
		}
		created = *e
		return txn.Result{ResourceID: strconv.FormatInt(e.ID, 10)}, nil
	}})
	if err != nil {
		return ledger.JournalEntry{}, false, err
	}
	if res.Replayed {
		id, err := strconv.ParseInt(res.ResourceID, 10, 64)
		if err != nil {
			return ledger.JournalEntry{}, true, fmt.Errorf("replayed entry id %q: %w", res.ResourceID, err)
		}
		e, err := s.GetEntry(ctx, id)
		return e, true, err
	}
	return created, false, nil
}

// DeleteEntry removes an entry with its Cash mirrors and reverses every
// balance it touched. Mirrors and purchase-linked entries are removed only
// through their primary or their purchase.
func (s *service) DeleteEntry(ctx context.Context, id int64) error {
	_, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpEntryDelete, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		e, err := tx.GetEntry(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		if e.MirrorOf != nil {
			return txn.Result{}, errs.Invalidf("entry %d mirrors entry %d; delete the primary entry", e.ID, *e.MirrorOf)
		}
		if e.PurchaseID != nil {
			return txn.Result{}, errs.Invalidf("entry %d belongs to purchase %s; delete the purchase", e.ID, *e.PurchaseID)
		}
		mirrors, err := tx.MirrorsOf(ctx, e.ID)
		if err != nil {
			return txn.Result{}, err
		}
		for _, m := range mirrors {
			if err := Unpost(ctx, tx, m); err != nil {
				return txn.Result{}, err
			}
		}
		if err := Unpost(ctx, tx, e); err != nil {
			return txn.Result{}, err
		}
		if e.Method == ledger.MethodBank && e.BankID != nil {
			if err := tx.AddBankBalance(ctx, *e.BankID, BankDelta(e).Neg()); err != nil {
				return txn.Result{}, err
			}
		}
		return txn.Result{ResourceID: strconv.FormatInt(e.ID, 10)}, nil
	}})
	return err
}

func (s *service) GetEntry(ctx context.Context, id int64) (ledger.JournalEntry, error) {
	var e ledger.JournalEntry
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		e, err = tx.GetEntry(ctx, id)
		return err
	})
	return e, err
}

// ListEntries returns the account's journal in replay order.
func (s *service) ListEntries(ctx context.Context, accountID uuid.UUID) ([]ledger.JournalEntry, error) {
	var out []ledger.JournalEntry
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		var err error
		out, err = tx.EntriesByAccount(ctx, accountID)
		return err
	})
	return out, err
}
