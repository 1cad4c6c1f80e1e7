package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/storage"
)

// Tx wraps a pgx.Tx and implements storage.Tx.
type Tx struct {
	tx       pgx.Tx
	currency string
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) amount(minor int64) (money.Amount, error) {
	return money.NewAmountFromMinorUnits(t.currency, minor)
}

func minorOf(a money.Amount) (int64, error) {
	units, ok := a.MinorUnits()
	if !ok {
		return 0, fmt.Errorf("%w: amount %s exceeds currency precision", errs.ErrInvalid, a)
	}
	return units, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, errs.ErrNotFound)
	}
	return mapErr(err)
}

func affected(what string, ok bool) error {
	if !ok {
		return fmt.Errorf("%s: %w", what, errs.ErrNotFound)
	}
	return nil
}

// --- Accounts ---

const accountColumns = `id, code, name, kind, phone, balance_minor, system, created_at`

func (t *Tx) scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	var bal int64
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Kind, &a.Phone, &bal, &a.System, &a.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	b, err := t.amount(bal)
	if err != nil {
		return ledger.Account{}, err
	}
	a.Balance = b
	return a, nil
}

func (t *Tx) CreateAccount(ctx context.Context, a ledger.Account) error {
	bal, err := minorOf(a.Balance)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
        insert into accounts (id, code, name, kind, phone, balance_minor, system, created_at)
        values ($1,$2,$3,$4,$5,$6,$7,$8)
    `, a.ID, a.Code, a.Name, a.Kind, a.Phone, bal, a.System, a.CreatedAt)
	return mapErr(err)
}

func (t *Tx) UpdateAccount(ctx context.Context, a ledger.Account) error {
	ct, err := t.tx.Exec(ctx, `update accounts set code=$1, name=$2, phone=$3 where id=$4`, a.Code, a.Name, a.Phone, a.ID)
	if err != nil {
		return mapErr(err)
	}
	return affected("account", ct.RowsAffected() > 0)
}

func (t *Tx) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	a, err := t.scanAccount(t.tx.QueryRow(ctx, `select `+accountColumns+` from accounts where id=$1`, id))
	if err != nil {
		return ledger.Account{}, notFound("account", err)
	}
	return a, nil
}

func (t *Tx) AccountByCode(ctx context.Context, code string) (ledger.Account, error) {
	a, err := t.scanAccount(t.tx.QueryRow(ctx, `select `+accountColumns+` from accounts where lower(code)=lower($1)`, code))
	if err != nil {
		return ledger.Account{}, notFound("account", err)
	}
	return a, nil
}

func (t *Tx) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := t.tx.Query(ctx, `select `+accountColumns+` from accounts order by lower(name)`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		a, err := t.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}

// AddAccountBalance is an increment, never a read-modify-write.
func (t *Tx) AddAccountBalance(ctx context.Context, id uuid.UUID, delta money.Amount) error {
	d, err := minorOf(delta)
	if err != nil {
		return err
	}
	ct, err := t.tx.Exec(ctx, `update accounts set balance_minor = balance_minor + $1 where id=$2`, d, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("account", ct.RowsAffected() > 0)
}

func (t *Tx) SetAccountBalance(ctx context.Context, id uuid.UUID, balance money.Amount) error {
	b, err := minorOf(balance)
	if err != nil {
		return err
	}
	ct, err := t.tx.Exec(ctx, `update accounts set balance_minor = $1 where id=$2`, b, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("account", ct.RowsAffected() > 0)
}

func (t *Tx) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	ct, err := t.tx.Exec(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("account", ct.RowsAffected() > 0)
}

func (t *Tx) AccountUsage(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	var entries, purchases int
	err := t.tx.QueryRow(ctx, `
        select
            (select count(*) from journal_entries where account_id = $1),
            (select count(*) from purchases where supplier_id = $1)
    `, id).Scan(&entries, &purchases)
	if err != nil {
		return nil, mapErr(err)
	}
	return map[string]int{"journal entries": entries, "purchases": purchases}, nil
}

// --- Journal ---

const entryColumns = `id, account_id, side, amount_minor, description, method, purchase_id, mirror_of, bank_id, date, created_at`

func (t *Tx) scanEntry(row pgx.Row) (ledger.JournalEntry, error) {
	var e ledger.JournalEntry
	var minor int64
	if err := row.Scan(&e.ID, &e.AccountID, &e.Side, &minor, &e.Description, &e.Method, &e.PurchaseID, &e.MirrorOf, &e.BankID, &e.Date, &e.CreatedAt); err != nil {
		return ledger.JournalEntry{}, err
	}
	a, err := t.amount(minor)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	e.Amount = a
	return e, nil
}

func (t *Tx) queryEntries(ctx context.Context, sql string, args ...any) ([]ledger.JournalEntry, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.JournalEntry, 0)
	for rows.Next() {
		e, err := t.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

func (t *Tx) InsertEntry(ctx context.Context, e *ledger.JournalEntry) error {
	minor, err := minorOf(e.Amount)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err = t.tx.QueryRow(ctx, `
        insert into journal_entries (account_id, side, amount_minor, description, method, purchase_id, mirror_of, bank_id, date, created_at)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        returning id
    `, e.AccountID, e.Side, minor, e.Description, e.Method, e.PurchaseID, e.MirrorOf, e.BankID, e.Date, e.CreatedAt).Scan(&e.ID)
	return mapErr(err)
}

func (t *Tx) GetEntry(ctx context.Context, id int64) (ledger.JournalEntry, error) {
	e, err := t.scanEntry(t.tx.QueryRow(ctx, `select `+entryColumns+` from journal_entries where id=$1`, id))
	if err != nil {
		return ledger.JournalEntry{}, notFound("journal entry", err)
	}
	return e, nil
}

func (t *Tx) DeleteEntry(ctx context.Context, id int64) error {
	ct, err := t.tx.Exec(ctx, `delete from journal_entries where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("journal entry", ct.RowsAffected() > 0)
}

func (t *Tx) EntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]ledger.JournalEntry, error) {
	return t.queryEntries(ctx, `select `+entryColumns+` from journal_entries where account_id=$1 order by date asc, id asc`, accountID)
}

func (t *Tx) EntriesByPurchase(ctx context.Context, purchaseID uuid.UUID) ([]ledger.JournalEntry, error) {
	return t.queryEntries(ctx, `select `+entryColumns+` from journal_entries where purchase_id=$1 order by date asc, id asc`, purchaseID)
}

func (t *Tx) MirrorsOf(ctx context.Context, entryID int64) ([]ledger.JournalEntry, error) {
	return t.queryEntries(ctx, `select `+entryColumns+` from journal_entries where mirror_of=$1 order by date asc, id asc`, entryID)
}

func (t *Tx) FindEntries(ctx context.Context, f storage.EntryFilter) ([]ledger.JournalEntry, error) {
	sql := `select ` + entryColumns + ` from journal_entries e where true`
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.AccountID != uuid.Nil {
		sql += ` and e.account_id = ` + arg(f.AccountID)
	}
	if f.ExcludeAccountID != uuid.Nil {
		sql += ` and e.account_id <> ` + arg(f.ExcludeAccountID)
	}
	if f.DescriptionContains != "" {
		sql += ` and strpos(lower(e.description), lower(` + arg(f.DescriptionContains) + `)) > 0`
	}
	if f.Amount != nil {
		minor, err := minorOf(*f.Amount)
		if err != nil {
			return nil, err
		}
		sql += ` and e.amount_minor = ` + arg(minor)
	}
	if f.Day != nil {
		sql += ` and (e.date at time zone 'UTC')::date = ` + arg(f.Day.UTC().Format("2006-01-02")) + `::date`
	}
	if f.WithoutMirrors {
		sql += ` and not exists (select 1 from journal_entries m where m.mirror_of = e.id)`
	}
	sql += ` order by e.date asc, e.id asc`
	return t.queryEntries(ctx, sql, args...)
}

// --- Banks ---

func (t *Tx) scanBank(row pgx.Row) (ledger.Bank, error) {
	var b ledger.Bank
	var bal int64
	if err := row.Scan(&b.ID, &b.Name, &b.AccountNo, &bal, &b.CreatedAt); err != nil {
		return ledger.Bank{}, err
	}
	a, err := t.amount(bal)
	if err != nil {
		return ledger.Bank{}, err
	}
	b.Balance = a
	return b, nil
}

func (t *Tx) CreateBank(ctx context.Context, b ledger.Bank) error {
	bal, err := minorOf(b.Balance)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
        insert into banks (id, name, account_no, balance_minor, created_at) values ($1,$2,$3,$4,$5)
    `, b.ID, b.Name, b.AccountNo, bal, b.CreatedAt)
	return mapErr(err)
}

func (t *Tx) GetBank(ctx context.Context, id uuid.UUID) (ledger.Bank, error) {
	b, err := t.scanBank(t.tx.QueryRow(ctx, `select id, name, account_no, balance_minor, created_at from banks where id=$1`, id))
	if err != nil {
		return ledger.Bank{}, notFound("bank", err)
	}
	return b, nil
}

func (t *Tx) ListBanks(ctx context.Context) ([]ledger.Bank, error) {
	rows, err := t.tx.Query(ctx, `select id, name, account_no, balance_minor, created_at from banks order by name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.Bank, 0)
	for rows.Next() {
		b, err := t.scanBank(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err())
}

func (t *Tx) AddBankBalance(ctx context.Context, id uuid.UUID, delta money.Amount) error {
	d, err := minorOf(delta)
	if err != nil {
		return err
	}
	ct, err := t.tx.Exec(ctx, `update banks set balance_minor = balance_minor + $1 where id=$2`, d, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("bank", ct.RowsAffected() > 0)
}

// --- Products ---

func (t *Tx) CreateProduct(ctx context.Context, p ledger.Product) error {
	_, err := t.tx.Exec(ctx, `
        insert into products (id, name, sku, stock, created_at) values ($1,$2,$3,$4,$5)
    `, p.ID, p.Name, p.SKU, p.Stock, p.CreatedAt)
	return mapErr(err)
}

func (t *Tx) GetProduct(ctx context.Context, id uuid.UUID) (ledger.Product, error) {
	var p ledger.Product
	err := t.tx.QueryRow(ctx, `select id, name, sku, stock, created_at from products where id=$1`, id).
		Scan(&p.ID, &p.Name, &p.SKU, &p.Stock, &p.CreatedAt)
	if err != nil {
		return ledger.Product{}, notFound("product", err)
	}
	return p, nil
}

func (t *Tx) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	rows, err := t.tx.Query(ctx, `select id, name, sku, stock, created_at from products order by name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.Product, 0)
	for rows.Next() {
		var p ledger.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Stock, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (t *Tx) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	ct, err := t.tx.Exec(ctx, `delete from products where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("product", ct.RowsAffected() > 0)
}

func (t *Tx) ProductUsage(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	var items, moves int
	err := t.tx.QueryRow(ctx, `
        select
            (select count(*) from purchase_items where product_id = $1),
            (select count(*) from stock_movements where product_id = $1)
    `, id).Scan(&items, &moves)
	if err != nil {
		return nil, mapErr(err)
	}
	return map[string]int{"purchase items": items, "stock movements": moves}, nil
}

func (t *Tx) AddProductStock(ctx context.Context, id uuid.UUID, delta int64) error {
	ct, err := t.tx.Exec(ctx, `update products set stock = stock + $1 where id=$2`, delta, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("product", ct.RowsAffected() > 0)
}

// InsertStockMovements writes all movements with a single COPY.
func (t *Tx) InsertStockMovements(ctx context.Context, ms []ledger.StockMovement) error {
	if len(ms) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"stock_movements"},
		[]string{"id", "product_id", "quantity", "reason", "purchase_id", "date"},
		pgx.CopyFromSlice(len(ms), func(i int) ([]any, error) {
			m := ms[i]
			return []any{m.ID, m.ProductID, m.Quantity, string(m.Reason), m.PurchaseID, m.Date}, nil
		}),
	)
	return mapErr(err)
}

// --- Purchases ---

// InsertPurchase writes the header, items and payments in one batch round trip.
func (t *Tx) InsertPurchase(ctx context.Context, p ledger.Purchase) error {
	b := &pgx.Batch{}
	b.Queue(`
        insert into purchases (id, supplier_id, invoice_no, date, notes, created_at)
        values ($1,$2,$3,$4,$5,$6)
    `, p.ID, p.SupplierID, p.InvoiceNo, p.Date, p.Notes, p.CreatedAt)
	for _, it := range p.Items {
		cost, err := minorOf(it.UnitCost)
		if err != nil {
			return err
		}
		b.Queue(`
            insert into purchase_items (id, purchase_id, product_id, quantity, unit_cost_minor)
            values ($1,$2,$3,$4,$5)
        `, it.ID, p.ID, it.ProductID, it.Quantity, cost)
	}
	for _, pm := range p.Payments {
		amt, err := minorOf(pm.Amount)
		if err != nil {
			return err
		}
		b.Queue(`
            insert into purchase_payments (id, purchase_id, amount_minor, method, bank_id, reference)
            values ($1,$2,$3,$4,$5,$6)
        `, pm.ID, p.ID, amt, string(pm.Method), pm.BankID, pm.Reference)
	}
	br := t.tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return mapErr(err)
		}
	}
	return mapErr(br.Close())
}

func (t *Tx) GetPurchase(ctx context.Context, id uuid.UUID) (ledger.Purchase, error) {
	var p ledger.Purchase
	err := t.tx.QueryRow(ctx, `
        select id, supplier_id, invoice_no, date, notes, created_at from purchases where id=$1
    `, id).Scan(&p.ID, &p.SupplierID, &p.InvoiceNo, &p.Date, &p.Notes, &p.CreatedAt)
	if err != nil {
		return ledger.Purchase{}, notFound("purchase", err)
	}
	if err := t.loadPurchaseLines(ctx, []*ledger.Purchase{&p}); err != nil {
		return ledger.Purchase{}, err
	}
	return p, nil
}

func (t *Tx) ListPurchases(ctx context.Context, supplierID uuid.UUID) ([]ledger.Purchase, error) {
	rows, err := t.tx.Query(ctx, `
        select id, supplier_id, invoice_no, date, notes, created_at from purchases
        where ($1::uuid is null or supplier_id = $1)
        order by date asc, invoice_no asc
    `, nullableUUID(supplierID))
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]ledger.Purchase, 0)
	for rows.Next() {
		var p ledger.Purchase
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.InvoiceNo, &p.Date, &p.Notes, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	ptrs := make([]*ledger.Purchase, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := t.loadPurchaseLines(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (t *Tx) loadPurchaseLines(ctx context.Context, ps []*ledger.Purchase) error {
	if len(ps) == 0 {
		return nil
	}
	idx := make(map[uuid.UUID]*ledger.Purchase, len(ps))
	ids := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		idx[p.ID] = p
		ids = append(ids, p.ID)
	}
	rows, err := t.tx.Query(ctx, `
        select id, purchase_id, product_id, quantity, unit_cost_minor
        from purchase_items where purchase_id = any($1) order by id
    `, ids)
	if err != nil {
		return mapErr(err)
	}
	for rows.Next() {
		var it ledger.PurchaseItem
		var cost int64
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ProductID, &it.Quantity, &cost); err != nil {
			rows.Close()
			return err
		}
		if it.UnitCost, err = t.amount(cost); err != nil {
			rows.Close()
			return err
		}
		p := idx[it.PurchaseID]
		p.Items = append(p.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapErr(err)
	}

	rows, err = t.tx.Query(ctx, `
        select id, purchase_id, amount_minor, method, bank_id, reference
        from purchase_payments where purchase_id = any($1) order by id
    `, ids)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var pm ledger.Payment
		var minor int64
		if err := rows.Scan(&pm.ID, &pm.PurchaseID, &minor, &pm.Method, &pm.BankID, &pm.Reference); err != nil {
			return err
		}
		if pm.Amount, err = t.amount(minor); err != nil {
			return err
		}
		p := idx[pm.PurchaseID]
		p.Payments = append(p.Payments, pm)
	}
	return mapErr(rows.Err())
}

// DeletePurchase removes the header; items and payments cascade.
func (t *Tx) DeletePurchase(ctx context.Context, id uuid.UUID) error {
	ct, err := t.tx.Exec(ctx, `delete from purchases where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	return affected("purchase", ct.RowsAffected() > 0)
}

// --- Idempotency ---

func (t *Tx) GetOperation(ctx context.Context, key string) (ledger.OperationRecord, bool, error) {
	var rec ledger.OperationRecord
	err := t.tx.QueryRow(ctx, `
        select key, operation, resource_id, created_at from operations where key=$1
    `, key).Scan(&rec.Key, &rec.Operation, &rec.ResourceID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.OperationRecord{}, false, nil
	}
	if err != nil {
		return ledger.OperationRecord{}, false, mapErr(err)
	}
	return rec, true, nil
}

// SaveOperation fails with errs.ErrConflict when the key is taken, which
// also catches two concurrent units racing on the same key.
func (t *Tx) SaveOperation(ctx context.Context, rec ledger.OperationRecord) error {
	_, err := t.tx.Exec(ctx, `
        insert into operations (key, operation, resource_id, created_at) values ($1,$2,$3,$4)
    `, rec.Key, rec.Operation, rec.ResourceID, rec.CreatedAt)
	return mapErr(err)
}
