// Package inventory manages products and banks, the two non-account records
// that purchases move.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage"
)

// ProductInput describes a stocked item. Stock starts at zero and only
// purchases move it.
type ProductInput struct {
	Name string
	SKU  string
}

// BankInput describes a bank the shop pays from or into.
type BankInput struct {
	Name           string
	AccountNo      string
	OpeningBalance money.Amount
}

// Service manages products and banks.
type Service interface {
	CreateProduct(ctx context.Context, in ProductInput) (ledger.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (ledger.Product, error)
	ListProducts(ctx context.Context) ([]ledger.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	CreateBank(ctx context.Context, in BankInput) (ledger.Bank, error)
	GetBank(ctx context.Context, id uuid.UUID) (ledger.Bank, error)
	ListBanks(ctx context.Context) ([]ledger.Bank, error)
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

func (s *service) CreateProduct(ctx context.Context, in ProductInput) (ledger.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return ledger.Product{}, errs.Invalidf("name is required")
	}
	p := ledger.Product{ID: uuid.New(), Name: in.Name, SKU: strings.TrimSpace(in.SKU), CreatedAt: s.now()}
	res, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpProductCreate, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		if err := tx.CreateProduct(ctx, p); err != nil {
			return txn.Result{}, err
		}
		return txn.Result{ResourceID: p.ID.String()}, nil
	}})
	if err != nil {
		return ledger.Product{}, err
	}
	if res.Replayed {
		id, err := uuid.Parse(res.ResourceID)
		if err != nil {
			return ledger.Product{}, fmt.Errorf("replayed product id %q: %w", res.ResourceID, err)
		}
		return s.GetProduct(ctx, id)
	}
	return p, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (ledger.Product, error) {
	var p ledger.Product
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	return p, err
}

func (s *service) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	var out []ledger.Product
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListProducts(ctx)
		return err
	})
	return out, err
}

// DeleteProduct refuses while purchase items or stock movements reference it.
func (s *service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	_, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpProductDelete, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		if _, err := tx.GetProduct(ctx, id); err != nil {
			return txn.Result{}, err
		}
		usage, err := tx.ProductUsage(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		if err := errs.InUse("product", usage); err != nil {
			return txn.Result{}, err
		}
		return txn.Result{ResourceID: id.String()}, tx.DeleteProduct(ctx, id)
	}})
	return err
}

// CreateBank stores the bank with its opening balance; banks have no journal.
func (s *service) CreateBank(ctx context.Context, in BankInput) (ledger.Bank, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return ledger.Bank{}, errs.Invalidf("name is required")
	}
	bal := ledger.Zero(s.currency)
	if in.OpeningBalance != (money.Amount{}) {
		if in.OpeningBalance.Curr().Code() != s.currency {
			return ledger.Bank{}, errs.Invalidf("opening_balance currency must be %s", s.currency)
		}
		bal = in.OpeningBalance
	}
	b := ledger.Bank{ID: uuid.New(), Name: in.Name, AccountNo: strings.TrimSpace(in.AccountNo), Balance: bal, CreatedAt: s.now()}
	res, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpBankCreate, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		if err := tx.CreateBank(ctx, b); err != nil {
			return txn.Result{}, err
		}
		return txn.Result{ResourceID: b.ID.String()}, nil
	}})
	if err != nil {
		return ledger.Bank{}, err
	}
	if res.Replayed {
		id, err := uuid.Parse(res.ResourceID)
		if err != nil {
			return ledger.Bank{}, fmt.Errorf("replayed bank id %q: %w", res.ResourceID, err)
		}
		return s.GetBank(ctx, id)
	}
	return b, nil
}

func (s *service) GetBank(ctx context.Context, id uuid.UUID) (ledger.Bank, error) {
	var b ledger.Bank
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		b, err = tx.GetBank(ctx, id)
		return err
	})
	return b, err
}

func (s *service) ListBanks(ctx context.Context) ([]ledger.Bank, error) {
	var out []ledger.Bank
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListBanks(ctx)
		return err
	})
	return out, err
}
