package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/report"
	"github.com/tinoosan/shopledger/internal/service/migrate"
	"github.com/tinoosan/shopledger/internal/service/reconcile"
)

// Amounts travel as minor units (paisa for PKR) plus a formatted string.

type moneyResponse struct {
	Minor    int64  `json:"minor"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoney(a money.Amount) moneyResponse {
	m, _ := a.MinorUnits()
	return moneyResponse{Minor: m, Amount: a.Decimal().String(), Currency: a.Curr().Code()}
}

// Accounts

type postAccountRequest struct {
	Name                string     `json:"name" validate:"required,max=120"`
	Code                string     `json:"code,omitempty" validate:"omitempty,max=40"`
	Kind                string     `json:"kind" validate:"required,oneof=customer supplier"`
	Phone               string     `json:"phone,omitempty" validate:"omitempty,max=32"`
	OpeningBalanceMinor int64      `json:"opening_balance_minor"`
	Date                *time.Time `json:"date,omitempty"`
}

type patchAccountRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Code  *string `json:"code,omitempty" validate:"omitempty,min=2,max=40"`
	Phone *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type adjustBalanceRequest struct {
	BalanceMinor *int64     `json:"balance_minor" validate:"required"`
	Date         *time.Time `json:"date,omitempty"`
}

type accountResponse struct {
	ID        uuid.UUID     `json:"id"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	Phone     string        `json:"phone,omitempty"`
	Balance   moneyResponse `json:"balance"`
	System    bool          `json:"system"`
	CreatedAt time.Time     `json:"created_at"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Code:      a.Code,
		Name:      a.Name,
		Kind:      string(a.Kind),
		Phone:     a.Phone,
		Balance:   toMoney(a.Balance),
		System:    a.System,
		CreatedAt: a.CreatedAt,
	}
}

type adjustmentResponse struct {
	Account accountResponse `json:"account"`
	Entry   *entryResponse  `json:"entry,omitempty"`
}

// Entries

type postEntryRequest struct {
	AccountID   uuid.UUID  `json:"account_id" validate:"required"`
	Side        string     `json:"side" validate:"required,oneof=DEBIT CREDIT"`
	AmountMinor int64      `json:"amount_minor" validate:"gt=0"`
	Description string     `json:"description" validate:"max=500"`
	Method      string     `json:"method,omitempty" validate:"omitempty,oneof=CASH BANK"`
	BankID      *uuid.UUID `json:"bank_id,omitempty" validate:"required_if=Method BANK,excluded_unless=Method BANK"`
	Date        *time.Time `json:"date,omitempty"`
}

type entryResponse struct {
	ID          int64         `json:"id"`
	AccountID   uuid.UUID     `json:"account_id"`
	Side        string        `json:"side"`
	Amount      moneyResponse `json:"amount"`
	Description string        `json:"description"`
	Method      string        `json:"method,omitempty"`
	PurchaseID  *uuid.UUID    `json:"purchase_id,omitempty"`
	MirrorOf    *int64        `json:"mirror_of,omitempty"`
	BankID      *uuid.UUID    `json:"bank_id,omitempty"`
	Date        time.Time     `json:"date"`
	CreatedAt   time.Time     `json:"created_at"`
}

func toEntryResponse(e ledger.JournalEntry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		AccountID:   e.AccountID,
		Side:        string(e.Side),
		Amount:      toMoney(e.Amount),
		Description: e.Description,
		Method:      string(e.Method),
		PurchaseID:  e.PurchaseID,
		MirrorOf:    e.MirrorOf,
		BankID:      e.BankID,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
}

type ledgerLineResponse struct {
	entryResponse
	Running moneyResponse `json:"running_balance"`
}

type ledgerResponse struct {
	Account accountResponse      `json:"account"`
	Lines   []ledgerLineResponse `json:"lines"`
	Closing moneyResponse        `json:"closing_balance"`
	Drifted bool                 `json:"drifted"`
}

func toLedgerResponse(st report.Statement) ledgerResponse {
	lines := make([]ledgerLineResponse, 0, len(st.Lines))
	for _, l := range st.Lines {
		lines = append(lines, ledgerLineResponse{entryResponse: toEntryResponse(l.Entry), Running: toMoney(l.Running)})
	}
	return ledgerResponse{
		Account: toAccountResponse(st.Account),
		Lines:   lines,
		Closing: toMoney(st.Closing),
		Drifted: st.Drifted(),
	}
}

// Purchases

type purchaseItemRequest struct {
	ProductID     uuid.UUID `json:"product_id" validate:"required"`
	Quantity      int64     `json:"quantity" validate:"gt=0,max=1000000000"`
	UnitCostMinor int64     `json:"unit_cost_minor" validate:"gt=0,max=100000000000000"`
}

type purchasePaymentRequest struct {
	AmountMinor int64      `json:"amount_minor" validate:"gt=0,max=100000000000000"`
	Method      string     `json:"method" validate:"required,oneof=CASH BANK"`
	BankID      *uuid.UUID `json:"bank_id,omitempty" validate:"required_if=Method BANK,excluded_unless=Method BANK"`
	Reference   string     `json:"reference,omitempty" validate:"max=120"`
}

type postPurchaseRequest struct {
	SupplierID uuid.UUID                `json:"supplier_id" validate:"required"`
	InvoiceNo  string                   `json:"invoice_no" validate:"required,max=64"`
	Date       *time.Time               `json:"date,omitempty"`
	Notes      string                   `json:"notes,omitempty" validate:"max=1000"`
	Items      []purchaseItemRequest    `json:"items" validate:"required,min=1,dive"`
	Payments   []purchasePaymentRequest `json:"payments,omitempty" validate:"dive"`
}

type purchaseItemResponse struct {
	ID        uuid.UUID     `json:"id"`
	ProductID uuid.UUID     `json:"product_id"`
	Quantity  int64         `json:"quantity"`
	UnitCost  moneyResponse `json:"unit_cost"`
}

type paymentResponse struct {
	ID        uuid.UUID     `json:"id"`
	Amount    moneyResponse `json:"amount"`
	Method    string        `json:"method"`
	BankID    *uuid.UUID    `json:"bank_id,omitempty"`
	Reference string        `json:"reference,omitempty"`
}

type purchaseResponse struct {
	ID         uuid.UUID              `json:"id"`
	SupplierID uuid.UUID              `json:"supplier_id"`
	InvoiceNo  string                 `json:"invoice_no"`
	Date       time.Time              `json:"date"`
	Notes      string                 `json:"notes,omitempty"`
	Total      moneyResponse          `json:"total"`
	Paid       moneyResponse          `json:"paid"`
	Items      []purchaseItemResponse `json:"items"`
	Payments   []paymentResponse      `json:"payments"`
	CreatedAt  time.Time              `json:"created_at"`
}

func toPurchaseResponse(p ledger.Purchase, currency string) purchaseResponse {
	out := purchaseResponse{
		ID:         p.ID,
		SupplierID: p.SupplierID,
		InvoiceNo:  p.InvoiceNo,
		Date:       p.Date,
		Notes:      p.Notes,
		Items:      make([]purchaseItemResponse, 0, len(p.Items)),
		Payments:   make([]paymentResponse, 0, len(p.Payments)),
		CreatedAt:  p.CreatedAt,
	}
	if total, err := p.Total(currency); err == nil {
		out.Total = toMoney(total)
	}
	if paid, err := p.Paid(currency); err == nil {
		out.Paid = toMoney(paid)
	}
	for _, it := range p.Items {
		out.Items = append(out.Items, purchaseItemResponse{ID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity, UnitCost: toMoney(it.UnitCost)})
	}
	for _, pm := range p.Payments {
		out.Payments = append(out.Payments, paymentResponse{ID: pm.ID, Amount: toMoney(pm.Amount), Method: string(pm.Method), BankID: pm.BankID, Reference: pm.Reference})
	}
	return out
}

// Products and banks

type postProductRequest struct {
	Name string `json:"name" validate:"required,max=120"`
	SKU  string `json:"sku,omitempty" validate:"max=64"`
}

type productResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku,omitempty"`
	Stock     int64     `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
}

func toProductResponse(p ledger.Product) productResponse {
	return productResponse{ID: p.ID, Name: p.Name, SKU: p.SKU, Stock: p.Stock, CreatedAt: p.CreatedAt}
}

type postBankRequest struct {
	Name                string `json:"name" validate:"required,max=120"`
	AccountNo           string `json:"account_no,omitempty" validate:"max=64"`
	OpeningBalanceMinor int64  `json:"opening_balance_minor"`
}

type bankResponse struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	AccountNo string        `json:"account_no,omitempty"`
	Balance   moneyResponse `json:"balance"`
	CreatedAt time.Time     `json:"created_at"`
}

func toBankResponse(b ledger.Bank) bankResponse {
	return bankResponse{ID: b.ID, Name: b.Name, AccountNo: b.AccountNo, Balance: toMoney(b.Balance), CreatedAt: b.CreatedAt}
}

// Maintenance

type driftResponse struct {
	AccountID uuid.UUID     `json:"account_id"`
	Code      string        `json:"code"`
	Stored    moneyResponse `json:"stored"`
	Computed  moneyResponse `json:"computed"`
}

type reconcileResponse struct {
	Accounts   int             `json:"accounts"`
	Repaired   int             `json:"repaired"`
	Failed     int             `json:"failed"`
	Drifts     []driftResponse `json:"drifts"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

func toDriftResponse(d reconcile.Drift) driftResponse {
	return driftResponse{AccountID: d.AccountID, Code: d.Code, Stored: toMoney(d.Stored), Computed: toMoney(d.Computed)}
}

func toReconcileResponse(rep reconcile.Report) reconcileResponse {
	out := reconcileResponse{
		Accounts:   rep.Accounts,
		Repaired:   rep.Repaired,
		Failed:     rep.Failed,
		Drifts:     make([]driftResponse, 0, len(rep.Drifts)),
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
	}
	for _, d := range rep.Drifts {
		out.Drifts = append(out.Drifts, toDriftResponse(d))
	}
	return out
}

type migrationResponse struct {
	Scanned    int `json:"scanned"`
	Posted     int `json:"posted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func toMigrationResponse(rep migrate.Report) migrationResponse {
	return migrationResponse(rep)
}
