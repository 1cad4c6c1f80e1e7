// Package memory provides an in-memory store used for development and tests.
// Units of work run one at a time on a private copy of the state which
// replaces the live state only on success, so a failed unit leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/storage"
)

// entryKey tracks ordering for entries per account: sorted asc by (Date, ID)
type entryKey struct {
	Date time.Time
	ID   int64
}

func (k entryKey) less(o entryKey) bool {
	if !k.Date.Equal(o.Date) {
		return k.Date.Before(o.Date)
	}
	return k.ID < o.ID
}

type state struct {
	nextEntryID int64
	accounts    map[uuid.UUID]ledger.Account
	entries     map[int64]ledger.JournalEntry
	// Per-account sorted index of entries for ordered replay
	entryKeysByAccount map[uuid.UUID][]entryKey
	banks              map[uuid.UUID]ledger.Bank
	products           map[uuid.UUID]ledger.Product
	movements          []ledger.StockMovement
	purchases          map[uuid.UUID]ledger.Purchase
	operations         map[string]ledger.OperationRecord
}

func newState() *state {
	return &state{
		nextEntryID:        1,
		accounts:           make(map[uuid.UUID]ledger.Account),
		entries:            make(map[int64]ledger.JournalEntry),
		entryKeysByAccount: make(map[uuid.UUID][]entryKey),
		banks:              make(map[uuid.UUID]ledger.Bank),
		products:           make(map[uuid.UUID]ledger.Product),
		purchases:          make(map[uuid.UUID]ledger.Purchase),
		operations:         make(map[string]ledger.OperationRecord),
	}
}

func (st *state) clone() *state {
	c := &state{
		nextEntryID:        st.nextEntryID,
		accounts:           make(map[uuid.UUID]ledger.Account, len(st.accounts)),
		entries:            make(map[int64]ledger.JournalEntry, len(st.entries)),
		entryKeysByAccount: make(map[uuid.UUID][]entryKey, len(st.entryKeysByAccount)),
		banks:              make(map[uuid.UUID]ledger.Bank, len(st.banks)),
		products:           make(map[uuid.UUID]ledger.Product, len(st.products)),
		movements:          append([]ledger.StockMovement(nil), st.movements...),
		purchases:          make(map[uuid.UUID]ledger.Purchase, len(st.purchases)),
		operations:         make(map[string]ledger.OperationRecord, len(st.operations)),
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.entries {
		c.entries[k] = v
	}
	for k, v := range st.entryKeysByAccount {
		c.entryKeysByAccount[k] = append([]entryKey(nil), v...)
	}
	for k, v := range st.banks {
		c.banks[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.purchases {
		c.purchases[k] = copyPurchase(v)
	}
	for k, v := range st.operations {
		c.operations[k] = v
	}
	return c
}

func copyPurchase(p ledger.Purchase) ledger.Purchase {
	p.Items = append([]ledger.PurchaseItem(nil), p.Items...)
	p.Payments = append([]ledger.Payment(nil), p.Payments...)
	return p
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New constructs an empty in-memory store.
func New() *Store { return &Store{state: newState()} }

// InTx runs fn against a copy of the state and publishes it on success.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return mapCtxErr(err)
	}
	// A unit that ran past its deadline is not committed.
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	s.state = work
	return nil
}

// Ready always succeeds for the in-memory store.
func (s *Store) Ready(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errs.ErrTxTimeout) {
		return fmt.Errorf("%w: %v", errs.ErrTxTimeout, err)
	}
	return err
}

type tx struct{ st *state }

func notFound(what string) error { return fmt.Errorf("%s: %w", what, errs.ErrNotFound) }

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrConflict, fmt.Sprintf(format, args...))
}

// --- Accounts ---

func (t *tx) checkAccountUnique(a ledger.Account) error {
	for _, other := range t.st.accounts {
		if other.ID == a.ID {
			continue
		}
		if strings.EqualFold(other.Code, a.Code) {
			return conflict("account code %q already exists", a.Code)
		}
		if strings.EqualFold(other.Name, a.Name) {
			return conflict("account name %q already exists", a.Name)
		}
	}
	return nil
}

func (t *tx) CreateAccount(ctx context.Context, a ledger.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[a.ID]; ok {
		return conflict("account %s already exists", a.ID)
	}
	if err := t.checkAccountUnique(a); err != nil {
		return err
	}
	t.st.accounts[a.ID] = a
	return nil
}

// UpdateAccount persists descriptive fields; the balance is left untouched.
func (t *tx) UpdateAccount(ctx context.Context, a ledger.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := t.st.accounts[a.ID]
	if !ok {
		return notFound("account")
	}
	if err := t.checkAccountUnique(a); err != nil {
		return err
	}
	cur.Name, cur.Code, cur.Phone = a.Name, a.Code, a.Phone
	t.st.accounts[a.ID] = cur
	return nil
}

func (t *tx) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	a, ok := t.st.accounts[id]
	if !ok {
		return ledger.Account{}, notFound("account")
	}
	return a, nil
}

func (t *tx) AccountByCode(ctx context.Context, code string) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	for _, a := range t.st.accounts {
		if strings.EqualFold(a.Code, code) {
			return a, nil
		}
	}
	return ledger.Account{}, notFound("account")
}

func (t *tx) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ledger.Account, 0, len(t.st.accounts))
	for _, a := range t.st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (t *tx) AddAccountBalance(ctx context.Context, id uuid.UUID, delta money.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, ok := t.st.accounts[id]
	if !ok {
		return notFound("account")
	}
	nb, err := a.Balance.Add(delta)
	if err != nil {
		return err
	}
	a.Balance = nb
	t.st.accounts[id] = a
	return nil
}

func (t *tx) SetAccountBalance(ctx context.Context, id uuid.UUID, balance money.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, ok := t.st.accounts[id]
	if !ok {
		return notFound("account")
	}
	a.Balance = balance
	t.st.accounts[id] = a
	return nil
}

func (t *tx) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[id]; !ok {
		return notFound("account")
	}
	delete(t.st.accounts, id)
	delete(t.st.entryKeysByAccount, id)
	return nil
}

func (t *tx) AccountUsage(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var purchases int
	for _, p := range t.st.purchases {
		if p.SupplierID == id {
			purchases++
		}
	}
	return map[string]int{
		"journal entries": len(t.st.entryKeysByAccount[id]),
		"purchases":       purchases,
	}, nil
}

// --- Journal ---

func (t *tx) InsertEntry(ctx context.Context, e *ledger.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[e.AccountID]; !ok {
		return notFound("account")
	}
	e.ID = t.st.nextEntryID
	t.st.nextEntryID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.st.entries[e.ID] = *e
	t.insertEntryIndex(e.AccountID, entryKey{Date: e.Date, ID: e.ID})
	return nil
}

func (t *tx) GetEntry(ctx context.Context, id int64) (ledger.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return ledger.JournalEntry{}, err
	}
	e, ok := t.st.entries[id]
	if !ok {
		return ledger.JournalEntry{}, notFound("journal entry")
	}
	return e, nil
}

func (t *tx) DeleteEntry(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, ok := t.st.entries[id]
	if !ok {
		return notFound("journal entry")
	}
	delete(t.st.entries, id)
	keys := t.st.entryKeysByAccount[e.AccountID]
	for i, k := range keys {
		if k.ID == id {
			t.st.entryKeysByAccount[e.AccountID] = append(keys[:i:i], keys[i+1:]...)
			break
		}
	}
	return nil
}

func (t *tx) EntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]ledger.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := t.st.entryKeysByAccount[accountID]
	out := make([]ledger.JournalEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.st.entries[k.ID])
	}
	return out, nil
}

func (t *tx) EntriesByPurchase(ctx context.Context, purchaseID uuid.UUID) ([]ledger.JournalEntry, error) {
	return t.scan(ctx, func(e ledger.JournalEntry) bool { return e.PurchaseID != nil && *e.PurchaseID == purchaseID })
}

func (t *tx) MirrorsOf(ctx context.Context, entryID int64) ([]ledger.JournalEntry, error) {
	return t.scan(ctx, func(e ledger.JournalEntry) bool { return e.MirrorOf != nil && *e.MirrorOf == entryID })
}

func (t *tx) FindEntries(ctx context.Context, f storage.EntryFilter) ([]ledger.JournalEntry, error) {
	var mirrored map[int64]struct{}
	if f.WithoutMirrors {
		mirrored = make(map[int64]struct{})
		for _, e := range t.st.entries {
			if e.MirrorOf != nil {
				mirrored[*e.MirrorOf] = struct{}{}
			}
		}
	}
	return t.scan(ctx, func(e ledger.JournalEntry) bool {
		if f.AccountID != uuid.Nil && e.AccountID != f.AccountID {
			return false
		}
		if f.ExcludeAccountID != uuid.Nil && e.AccountID == f.ExcludeAccountID {
			return false
		}
		if f.DescriptionContains != "" && !strings.Contains(strings.ToLower(e.Description), strings.ToLower(f.DescriptionContains)) {
			return false
		}
		if f.Amount != nil {
			d, err := e.Amount.Sub(*f.Amount)
			if err != nil || !d.IsZero() {
				return false
			}
		}
		if f.Day != nil && !sameDay(e.Date, *f.Day) {
			return false
		}
		if mirrored != nil {
			if _, ok := mirrored[e.ID]; ok {
				return false
			}
		}
		return true
	})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// scan returns matching entries ordered by (Date, ID).
func (t *tx) scan(ctx context.Context, match func(ledger.JournalEntry) bool) ([]ledger.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ledger.JournalEntry, 0)
	for _, e := range t.st.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return entryKey{Date: out[i].Date, ID: out[i].ID}.less(entryKey{Date: out[j].Date, ID: out[j].ID})
	})
	return out, nil
}

// insertEntryIndex inserts k into the per-account sorted index, keeping order asc by (Date, ID).
func (t *tx) insertEntryIndex(accountID uuid.UUID, k entryKey) {
	keys := t.st.entryKeysByAccount[accountID]
	i := sort.Search(len(keys), func(i int) bool { return k.less(keys[i]) })
	if i == len(keys) {
		t.st.entryKeysByAccount[accountID] = append(keys, k)
		return
	}
	keys = append(keys, entryKey{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	t.st.entryKeysByAccount[accountID] = keys
}

// --- Banks ---

func (t *tx) CreateBank(ctx context.Context, b ledger.Bank) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, other := range t.st.banks {
		if strings.EqualFold(other.Name, b.Name) {
			return conflict("bank %q already exists", b.Name)
		}
	}
	t.st.banks[b.ID] = b
	return nil
}

func (t *tx) GetBank(ctx context.Context, id uuid.UUID) (ledger.Bank, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Bank{}, err
	}
	b, ok := t.st.banks[id]
	if !ok {
		return ledger.Bank{}, notFound("bank")
	}
	return b, nil
}

func (t *tx) ListBanks(ctx context.Context) ([]ledger.Bank, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ledger.Bank, 0, len(t.st.banks))
	for _, b := range t.st.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) AddBankBalance(ctx context.Context, id uuid.UUID, delta money.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, ok := t.st.banks[id]
	if !ok {
		return notFound("bank")
	}
	nb, err := b.Balance.Add(delta)
	if err != nil {
		return err
	}
	b.Balance = nb
	t.st.banks[id] = b
	return nil
}

// --- Products ---

func (t *tx) CreateProduct(ctx context.Context, p ledger.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, other := range t.st.products {
		if strings.EqualFold(other.Name, p.Name) {
			return conflict("product %q already exists", p.Name)
		}
	}
	t.st.products[p.ID] = p
	return nil
}

func (t *tx) GetProduct(ctx context.Context, id uuid.UUID) (ledger.Product, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Product{}, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return ledger.Product{}, notFound("product")
	}
	return p, nil
}

func (t *tx) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ledger.Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.products[id]; !ok {
		return notFound("product")
	}
	delete(t.st.products, id)
	return nil
}

func (t *tx) ProductUsage(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items, moves int
	for _, p := range t.st.purchases {
		for _, it := range p.Items {
			if it.ProductID == id {
				items++
			}
		}
	}
	for _, m := range t.st.movements {
		if m.ProductID == id {
			moves++
		}
	}
	return map[string]int{"purchase items": items, "stock movements": moves}, nil
}

func (t *tx) AddProductStock(ctx context.Context, id uuid.UUID, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := t.st.products[id]
	if !ok {
		return notFound("product")
	}
	p.Stock += delta
	t.st.products[id] = p
	return nil
}

func (t *tx) InsertStockMovements(ctx context.Context, ms []ledger.StockMovement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, m := range ms {
		if _, ok := t.st.products[m.ProductID]; !ok {
			return notFound("product")
		}
	}
	t.st.movements = append(t.st.movements, ms...)
	return nil
}

// --- Purchases ---

func (t *tx) InsertPurchase(ctx context.Context, p ledger.Purchase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[p.SupplierID]; !ok {
		return notFound("supplier")
	}
	for _, other := range t.st.purchases {
		if other.SupplierID == p.SupplierID && strings.EqualFold(other.InvoiceNo, p.InvoiceNo) {
			return conflict("invoice %q already recorded for supplier", p.InvoiceNo)
		}
	}
	t.st.purchases[p.ID] = copyPurchase(p)
	return nil
}

func (t *tx) GetPurchase(ctx context.Context, id uuid.UUID) (ledger.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Purchase{}, err
	}
	p, ok := t.st.purchases[id]
	if !ok {
		return ledger.Purchase{}, notFound("purchase")
	}
	return copyPurchase(p), nil
}

func (t *tx) ListPurchases(ctx context.Context, supplierID uuid.UUID) ([]ledger.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ledger.Purchase, 0)
	for _, p := range t.st.purchases {
		if supplierID != uuid.Nil && p.SupplierID != supplierID {
			continue
		}
		out = append(out, copyPurchase(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].InvoiceNo < out[j].InvoiceNo
	})
	return out, nil
}

func (t *tx) DeletePurchase(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.purchases[id]; !ok {
		return notFound("purchase")
	}
	delete(t.st.purchases, id)
	return nil
}

// --- Idempotency ---

func (t *tx) GetOperation(ctx context.Context, key string) (ledger.OperationRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return ledger.OperationRecord{}, false, err
	}
	rec, ok := t.st.operations[key]
	return rec, ok, nil
}

func (t *tx) SaveOperation(ctx context.Context, rec ledger.OperationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := t.st.operations[rec.Key]; exists {
		return conflict("idempotency key %q already used", rec.Key)
	}
	t.st.operations[rec.Key] = rec
	return nil
}
