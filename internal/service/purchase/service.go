// Package purchase records supplier invoices and reverses them completely.
package purchase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/cash"
	"github.com/tinoosan/shopledger/internal/service/journal"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage"
)

// ItemInput is one invoice line: Quantity units of a product at UnitCost each.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int64
	UnitCost  money.Amount
}

// PaymentInput is money handed to the supplier against the invoice. BankID
// is required for BANK payments and rejected for CASH ones.
type PaymentInput struct {
	Amount    money.Amount
	Method    ledger.PaymentMethod
	BankID    *uuid.UUID
	Reference string
}

// CreateInput describes a supplier invoice with its lines and any payments
// made at purchase time.
type CreateInput struct {
	SupplierID uuid.UUID
	InvoiceNo  string
	Date       time.Time
	Notes      string
	Items      []ItemInput
	Payments   []PaymentInput
}

// Service records purchases. Create and Delete each run as one coordinator
// unit, so a purchase and all its side effects land or vanish together.
type Service interface {
	Validate(in CreateInput) error
	Create(ctx context.Context, in CreateInput) (ledger.Purchase, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (ledger.Purchase, error)
	List(ctx context.Context, supplierID uuid.UUID) ([]ledger.Purchase, error)
}

type service struct {
	coord    *txn.Coordinator
	cash     *cash.Policy
	currency string
	now      func() time.Time
}

// New returns a Service that mirrors CASH payments through cashPolicy.
func New(coord *txn.Coordinator, cashPolicy *cash.Policy, currency string) Service {
	return &service{coord: coord, cash: cashPolicy, currency: currency, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) amountOK(a money.Amount, field string) error {
	if a.Curr().Code() != s.currency {
		return errs.Invalidf("%s currency must be %s", field, s.currency)
	}
	if a.Sign() <= 0 {
		return errs.Invalidf("%s must be > 0", field)
	}
	return nil
}

// Validate checks the input without touching the store, including that
// payments do not exceed the invoice total.
func (s *service) Validate(in CreateInput) error {
	if in.SupplierID == uuid.Nil {
		return errs.Invalidf("supplier_id required")
	}
	if strings.TrimSpace(in.InvoiceNo) == "" {
		return errs.Invalidf("invoice_no required")
	}
	if len(in.Items) == 0 {
		return errs.Invalidf("at least one item required")
	}
	p := ledger.Purchase{}
	for i, it := range in.Items {
		if it.ProductID == uuid.Nil {
			return errs.Invalidf("items[%d].product_id required", i)
		}
		if it.Quantity <= 0 {
			return errs.Invalidf("items[%d].quantity must be > 0", i)
		}
		if err := s.amountOK(it.UnitCost, fmt.Sprintf("items[%d].unit_cost", i)); err != nil {
			return err
		}
		p.Items = append(p.Items, ledger.PurchaseItem{Quantity: it.Quantity, UnitCost: it.UnitCost})
	}
	for i, pm := range in.Payments {
		if err := s.amountOK(pm.Amount, fmt.Sprintf("payments[%d].amount", i)); err != nil {
			return err
		}
		switch pm.Method {
		case ledger.MethodCash:
			if pm.BankID != nil {
				return errs.Invalidf("payments[%d].bank_id only allowed with method BANK", i)
			}
		case ledger.MethodBank:
			if pm.BankID == nil || *pm.BankID == uuid.Nil {
				return errs.Invalidf("payments[%d].bank_id required for method BANK", i)
			}
		default:
			return errs.Invalidf("payments[%d].method must be CASH or BANK", i)
		}
		p.Payments = append(p.Payments, ledger.Payment{Amount: pm.Amount})
	}
	total, err := p.Total(s.currency)
	if err != nil {
		return errs.Invalidf("total: %v", err)
	}
	paid, err := p.Paid(s.currency)
	if err != nil {
		return errs.Invalidf("paid: %v", err)
	}
	if over, _ := paid.Sub(total); over.Sign() > 0 {
		return errs.Invalidf("payments %s exceed invoice total %s", paid, total)
	}
	return nil
}

// Create writes the purchase and every side effect in one unit: the
// supplier's CREDIT for the total, a DEBIT per payment, Cash mirrors for
// CASH payments, bank debits for BANK payments, and stock increments.
func (s *service) Create(ctx context.Context, in CreateInput) (ledger.Purchase, error) {
	in.InvoiceNo = strings.TrimSpace(in.InvoiceNo)
	if err := s.Validate(in); err != nil {
		return ledger.Purchase{}, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	p := s.build(in)

	res, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpPurchaseCreate, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		if err := s.apply(ctx, tx, p); err != nil {
			return txn.Result{}, err
		}
		return txn.Result{ResourceID: p.ID.String()}, nil
	}})
	if err != nil {
		return ledger.Purchase{}, err
	}
	if res.Replayed {
		id, err := uuid.Parse(res.ResourceID)
		if err != nil {
			return ledger.Purchase{}, fmt.Errorf("replayed purchase id %q: %w", res.ResourceID, err)
		}
		return s.Get(ctx, id)
	}
	return p, nil
}

func (s *service) build(in CreateInput) ledger.Purchase {
	p := ledger.Purchase{
		ID:         uuid.New(),
		SupplierID: in.SupplierID,
		InvoiceNo:  in.InvoiceNo,
		Date:       in.Date,
		Notes:      strings.TrimSpace(in.Notes),
		CreatedAt:  s.now(),
	}
	for _, it := range in.Items {
		p.Items = append(p.Items, ledger.PurchaseItem{ID: uuid.New(), PurchaseID: p.ID, ProductID: it.ProductID, Quantity: it.Quantity, UnitCost: it.UnitCost})
	}
	for _, pm := range in.Payments {
		p.Payments = append(p.Payments, ledger.Payment{ID: uuid.New(), PurchaseID: p.ID, Amount: pm.Amount, Method: pm.Method, BankID: pm.BankID, Reference: strings.TrimSpace(pm.Reference)})
	}
	return p
}

func (s *service) apply(ctx context.Context, tx storage.Tx, p ledger.Purchase) error {
	supplier, err := tx.GetAccount(ctx, p.SupplierID)
	if err != nil {
		return err
	}
	if supplier.Kind != ledger.AccountKindSupplier {
		return errs.Invalidf("account %s is not a supplier", supplier.Code)
	}
	stock := make(map[uuid.UUID]int64, len(p.Items))
	for _, it := range p.Items {
		if _, ok := stock[it.ProductID]; !ok {
			if _, err := tx.GetProduct(ctx, it.ProductID); err != nil {
				return err
			}
		}
		stock[it.ProductID] += it.Quantity
	}
	for _, pm := range p.Payments {
		if pm.Method == ledger.MethodBank {
			if _, err := tx.GetBank(ctx, *pm.BankID); err != nil {
				return err
			}
		}
	}
	if err := tx.InsertPurchase(ctx, p); err != nil {
		return err
	}

	total, err := p.Total(s.currency)
	if err != nil {
		return err
	}
	pid := p.ID
	invoice := &ledger.JournalEntry{
		AccountID:   supplier.ID,
		Side:        ledger.SideCredit,
		Amount:      total,
		Description: "Purchase " + p.InvoiceNo,
		PurchaseID:  &pid,
		Date:        p.Date,
	}
	if err := journal.Post(ctx, tx, invoice); err != nil {
		return err
	}
	for _, pm := range p.Payments {
		e := &ledger.JournalEntry{
			AccountID:   supplier.ID,
			Side:        ledger.SideDebit,
			Amount:      pm.Amount,
			Description: paymentDescription(p.InvoiceNo, pm),
			Method:      pm.Method,
			PurchaseID:  &pid,
			BankID:      pm.BankID,
			Date:        p.Date,
		}
		if err := journal.Post(ctx, tx, e); err != nil {
			return err
		}
		switch pm.Method {
		case ledger.MethodCash:
			if _, err := s.cash.Mirror(ctx, tx, *e); err != nil {
				return err
			}
		case ledger.MethodBank:
			if err := tx.AddBankBalance(ctx, *pm.BankID, journal.BankDelta(*e)); err != nil {
				return err
			}
		}
	}

	moves := make([]ledger.StockMovement, 0, len(p.Items))
	for _, it := range p.Items {
		moves = append(moves, ledger.StockMovement{ID: uuid.New(), ProductID: it.ProductID, Quantity: it.Quantity, Reason: ledger.StockReasonPurchase, PurchaseID: &pid, Date: p.Date})
	}
	for productID, qty := range stock {
		if err := tx.AddProductStock(ctx, productID, qty); err != nil {
			return err
		}
	}
	return tx.InsertStockMovements(ctx, moves)
}

func paymentDescription(invoice string, pm ledger.Payment) string {
	d := string(pm.Method) + " payment for " + invoice
	if pm.Reference != "" {
		d += " (" + pm.Reference + ")"
	}
	return d
}

// Delete reverses every effect of Create. Account balances are reversed
// from the journal rows actually removed, so a skipped Cash mirror is not
// reversed either.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpPurchaseDelete, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		p, err := tx.GetPurchase(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		entries, err := tx.EntriesByPurchase(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		for _, e := range entries {
			if err := journal.Unpost(ctx, tx, e); err != nil {
				return txn.Result{}, err
			}
		}
		for _, pm := range p.Payments {
			if pm.Method == ledger.MethodBank && pm.BankID != nil {
				if err := tx.AddBankBalance(ctx, *pm.BankID, pm.Amount); err != nil {
					return txn.Result{}, err
				}
			}
		}
		now := s.now()
		moves := make([]ledger.StockMovement, 0, len(p.Items))
		for _, it := range p.Items {
			if err := tx.AddProductStock(ctx, it.ProductID, -it.Quantity); err != nil {
				return txn.Result{}, err
			}
			moves = append(moves, ledger.StockMovement{ID: uuid.New(), ProductID: it.ProductID, Quantity: -it.Quantity, Reason: ledger.StockReasonPurchaseReversal, PurchaseID: &p.ID, Date: now})
		}
		if err := tx.InsertStockMovements(ctx, moves); err != nil {
			return txn.Result{}, err
		}
		if err := tx.DeletePurchase(ctx, id); err != nil {
			return txn.Result{}, err
		}
		return txn.Result{ResourceID: id.String()}, nil
	}})
	return err
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (ledger.Purchase, error) {
	var p ledger.Purchase
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		p, err = tx.GetPurchase(ctx, id)
		return err
	})
	return p, err
}

// List returns purchases for supplierID, or all purchases for uuid.Nil.
func (s *service) List(ctx context.Context, supplierID uuid.UUID) ([]ledger.Purchase, error) {
	var out []ledger.Purchase
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListPurchases(ctx, supplierID)
		return err
	})
	return out, err
}
