package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
)

// Side represents the accounting position of a journal entry.
type Side string

const (
	// SideDebit increases an account's balance (money owed to the shop, or cash in).
	SideDebit Side = "DEBIT"
	// SideCredit decreases an account's balance (money the shop owes, or cash out).
	SideCredit Side = "CREDIT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// Valid reports whether s is DEBIT or CREDIT.
func (s Side) Valid() bool { return s == SideDebit || s == SideCredit }

// AccountKind classifies ledger-bearing parties.
type AccountKind string

const (
	AccountKindCustomer AccountKind = "customer"
	AccountKindSupplier AccountKind = "supplier"
	// AccountKindCash is reserved for the single system Cash Account.
	AccountKindCash AccountKind = "cash"
)

// PaymentMethod is how money moved for a payment.
type PaymentMethod string

const (
	MethodNone PaymentMethod = ""
	MethodCash PaymentMethod = "CASH"
	MethodBank PaymentMethod = "BANK"
)

// StockReason tags a stock movement.
type StockReason string

const (
	StockReasonPurchase         StockReason = "purchase"
	StockReasonPurchaseReversal StockReason = "purchase_reversal"
)

// Account is a customer, supplier or the Cash Account. Balance is a cache of
// the account's journal: DEBIT positive, CREDIT negative.
type Account struct {
	ID        uuid.UUID
	Code      string
	Name      string
	Kind      AccountKind
	Phone     string
	Balance   money.Amount
	// System marks reserved accounts (the Cash Account).
	System    bool
	CreatedAt time.Time
}

// JournalEntry is an immutable signed monetary record against one account.
// ID is assigned by the store and increases monotonically; it breaks ties
// between entries sharing a Date.
type JournalEntry struct {
	ID          int64
	AccountID   uuid.UUID
	Side        Side
	Amount      money.Amount
	Description string
	Method      PaymentMethod
	PurchaseID  *uuid.UUID
	// MirrorOf links a Cash Account mirror to the primary entry it copies.
	MirrorOf    *int64
	BankID      *uuid.UUID
	Date        time.Time
	CreatedAt   time.Time
}

// Bank holds its own balance, moved in lockstep with BANK payments.
type Bank struct {
	ID        uuid.UUID
	Name      string
	AccountNo string
	Balance   money.Amount
	CreatedAt time.Time
}

// Product is a stocked item (fabric, buttons, thread).
type Product struct {
	ID        uuid.UUID
	Name      string
	SKU       string
	Stock     int64
	CreatedAt time.Time
}

// StockMovement records a signed change to a product's stock.
type StockMovement struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	Quantity   int64
	Reason     StockReason
	PurchaseID *uuid.UUID
	Date       time.Time
}

// Purchase is a supplier invoice with its line items and payments.
type Purchase struct {
	ID         uuid.UUID
	SupplierID uuid.UUID
	InvoiceNo  string
	Date       time.Time
	Notes      string
	Items      []PurchaseItem
	Payments   []Payment
	CreatedAt  time.Time
}

// PurchaseItem is one invoice line.
type PurchaseItem struct {
	ID         uuid.UUID
	PurchaseID uuid.UUID
	ProductID  uuid.UUID
	Quantity   int64
	UnitCost   money.Amount
}

// Payment settles part of a purchase.
type Payment struct {
	ID         uuid.UUID
	PurchaseID uuid.UUID
	Amount     money.Amount
	Method     PaymentMethod
	BankID     *uuid.UUID
	Reference  string
}

// OperationRecord remembers an applied idempotency key.
type OperationRecord struct {
	Key        string
	Operation  string
	ResourceID string
	CreatedAt  time.Time
}
