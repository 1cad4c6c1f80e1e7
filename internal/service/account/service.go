// Package account implements the account rules: slug codes, opening balances,
// manual balance adjustments, and deletes blocked by dependent records.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/journal"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/slug"
	"github.com/tinoosan/shopledger/internal/storage"
)

// Descriptions written on system-generated entries.
const (
	OpeningBalanceDescription = "Opening balance"
	AdjustmentDescription     = "Balance adjustment"
)

// CreateInput describes a new customer or supplier.
type CreateInput struct {
	Name string
	// Code is optional; it defaults to a unique slug of Name.
	Code           string
	Kind           ledger.AccountKind
	Phone          string
	OpeningBalance money.Amount
	Date           time.Time
}

// UpdateInput carries the editable fields; nil leaves a field unchanged.
type UpdateInput struct {
	ID    uuid.UUID
	Name  *string
	Code  *string
	Phone *string
}

// Adjustment is the outcome of a manual balance change. Entry is nil when
// the requested balance equalled the stored one.
type Adjustment struct {
	Account ledger.Account
	Entry   *ledger.JournalEntry
}

// Service is the account surface used by the HTTP layer.
type Service interface {
	ValidateCreate(in CreateInput) error
	Create(ctx context.Context, in CreateInput) (ledger.Account, error)
	Get(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	List(ctx context.Context) ([]ledger.Account, error)
	Update(ctx context.Context, in UpdateInput) (ledger.Account, error)
	AdjustBalance(ctx context.Context, id uuid.UUID, target money.Amount, date time.Time) (Adjustment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	coord    *txn.Coordinator
	currency string
	now      func() time.Time
}

// New returns a Service whose amounts are in currency.
func New(coord *txn.Coordinator, currency string) Service {
	return &service{coord: coord, currency: currency, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) ValidateCreate(in CreateInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return errs.Invalidf("name is required")
	}
	switch in.Kind {
	case ledger.AccountKindCustomer, ledger.AccountKindSupplier:
	case ledger.AccountKindCash:
		return errs.Invalidf("kind cash is reserved for the Cash Account")
	default:
		return errs.Invalidf("kind must be customer or supplier")
	}
	if in.Code != "" && !slug.IsSlug(in.Code) {
		return errs.Invalidf("code must match ^[a-z0-9_]{2,40}$")
	}
	if in.OpeningBalance != (money.Amount{}) && in.OpeningBalance.Curr().Code() != s.currency {
		return errs.Invalidf("opening_balance currency must be %s", s.currency)
	}
	return nil
}

// Create inserts the account and, for a non-zero opening balance, one
// journal entry that justifies it.
func (s *service) Create(ctx context.Context, in CreateInput) (ledger.Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := s.ValidateCreate(in); err != nil {
		return ledger.Account{}, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var created ledger.Account
	res, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpAccountCreate, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		code := in.Code
		if code == "" {
			var err error
			code, err = slug.Unique(in.Name, string(in.Kind), codeTaken(ctx, tx))
			if err != nil {
				return txn.Result{}, err
			}
		}
		a := ledger.Account{
			ID:        uuid.New(),
			Code:      code,
			Name:      in.Name,
			Kind:      in.Kind,
			Phone:     in.Phone,
			Balance:   ledger.Zero(s.currency),
			CreatedAt: s.now(),
		}
		if err := tx.CreateAccount(ctx, a); err != nil {
			return txn.Result{}, err
		}
		if in.OpeningBalance != (money.Amount{}) && !in.OpeningBalance.IsZero() {
			e := &ledger.JournalEntry{
				AccountID:   a.ID,
				Side:        sideOf(in.OpeningBalance),
				Amount:      in.OpeningBalance.Abs(),
				Description: OpeningBalanceDescription,
				Date:        in.Date,
			}
			if err := journal.Post(ctx, tx, e); err != nil {
				return txn.Result{}, err
			}
			a.Balance = in.OpeningBalance
		}
		created = a
		return txn.Result{ResourceID: a.ID.String()}, nil
	}})
	if err != nil {
		return ledger.Account{}, err
	}
	if res.Replayed {
		id, err := uuid.Parse(res.ResourceID)
		if err != nil {
			return ledger.Account{}, fmt.Errorf("replayed account id %q: %w", res.ResourceID, err)
		}
		return s.Get(ctx, id)
	}
	return created, nil
}

func codeTaken(ctx context.Context, tx storage.Tx) func(string) (bool, error) {
	return func(code string) (bool, error) {
		_, err := tx.AccountByCode(ctx, code)
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// sideOf maps a signed balance change onto the side that produces it.
func sideOf(delta money.Amount) ledger.Side {
	if delta.Sign() < 0 {
		return ledger.SideCredit
	}
	return ledger.SideDebit
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	var a ledger.Account
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		a, err = tx.GetAccount(ctx, id)
		return err
	})
	return a, err
}

func (s *service) List(ctx context.Context) ([]ledger.Account, error) {
	var out []ledger.Account
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListAccounts(ctx)
		return err
	})
	return out, err
}

// Update renames an account or changes its phone. The Cash Account is
// read-only here since its code is how it is found at startup.
func (s *service) Update(ctx context.Context, in UpdateInput) (ledger.Account, error) {
	if in.ID == uuid.Nil {
		return ledger.Account{}, errs.Invalidf("id is required")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return ledger.Account{}, errs.Invalidf("name must not be empty")
	}
	if in.Code != nil && !slug.IsSlug(*in.Code) {
		return ledger.Account{}, errs.Invalidf("code must match ^[a-z0-9_]{2,40}$")
	}
	var updated ledger.Account
	_, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpAccountUpdate, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		a, err := tx.GetAccount(ctx, in.ID)
		if err != nil {
			return txn.Result{}, err
		}
		if a.System {
			return txn.Result{}, fmt.Errorf("%w: %w", errs.ErrForbidden, errs.ErrSystemAccount)
		}
		if in.Name != nil {
			a.Name = strings.TrimSpace(*in.Name)
		}
		if in.Code != nil {
			a.Code = *in.Code
		}
		if in.Phone != nil {
			a.Phone = strings.TrimSpace(*in.Phone)
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return txn.Result{}, err
		}
		updated = a
		return txn.Result{ResourceID: a.ID.String()}, nil
	}})
	if err != nil {
		return ledger.Account{}, err
	}
	return updated, nil
}

// AdjustBalance sets the balance to target and journals the difference.
func (s *service) AdjustBalance(ctx context.Context, id uuid.UUID, target money.Amount, date time.Time) (Adjustment, error) {
	if target.Curr().Code() != s.currency {
		return Adjustment{}, errs.Invalidf("balance currency must be %s", s.currency)
	}
	if date.IsZero() {
		date = s.now()
	}
	var out Adjustment
	res, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpAccountAdjustBalance, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		diff, err := target.Sub(a.Balance)
		if err != nil {
			return txn.Result{}, err
		}
		if !diff.IsZero() {
			e := &ledger.JournalEntry{
				AccountID:   a.ID,
				Side:        sideOf(diff),
				Amount:      diff.Abs(),
				Description: AdjustmentDescription,
				Date:        date,
			}
			if err := tx.InsertEntry(ctx, e); err != nil {
				return txn.Result{}, err
			}
			out.Entry = e
		}
		if err := tx.SetAccountBalance(ctx, a.ID, target); err != nil {
			return txn.Result{}, err
		}
		a.Balance = target
		out.Account = a
		return txn.Result{ResourceID: a.ID.String()}, nil
	}})
	if err != nil {
		return Adjustment{}, err
	}
	if res.Replayed {
		a, err := s.Get(ctx, id)
		return Adjustment{Account: a}, err
	}
	return out, nil
}

// Delete removes an account with no journal entries and no purchases.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpAccountDelete, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		if a.System {
			return txn.Result{}, fmt.Errorf("%w: %w", errs.ErrForbidden, errs.ErrSystemAccount)
		}
		usage, err := tx.AccountUsage(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		if err := errs.InUse("account", usage); err != nil {
			return txn.Result{}, err
		}
		if err := tx.DeleteAccount(ctx, id); err != nil {
			return txn.Result{}, err
		}
		return txn.Result{ResourceID: id.String()}, nil
	}})
	return err
}
