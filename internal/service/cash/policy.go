// Package cash mirrors CASH-method payments onto the shop's single Cash Account.
package cash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/storage"
)

// DriftTotal counts soft reconciliation failures by source.
var DriftTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shopledger",
		Name:      "reconciliation_drift_total",
		Help:      "Mirrors or migrations skipped because a counterpart was missing",
	},
	[]string{"source"},
)

// Drift sources.
const (
	SourceCashMirror = "cash_mirror"
	SourceMigration  = "legacy_migration"
	SourceReconcile  = "reconcile"
)

// Policy knows the Cash Account's identity. It is resolved once at startup;
// after that no lookups by name or code happen on the hot path.
type Policy struct {
	code     string
	name     string
	currency string
	log      *slog.Logger
	id       atomic.Pointer[uuid.UUID]
}

// New returns an unresolved policy for the Cash Account with the given code.
func New(code, name, currency string, log *slog.Logger) *Policy {
	if log == nil {
		log = slog.Default()
	}
	return &Policy{code: code, name: name, currency: currency, log: log}
}

// Resolve finds the Cash Account by its reserved code, creating it when
// absent, and pins its ID.
func (p *Policy) Resolve(ctx context.Context, store storage.Store) (ledger.Account, error) {
	var acc ledger.Account
	err := store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		found, err := tx.AccountByCode(ctx, p.code)
		if err == nil {
			if found.Kind != ledger.AccountKindCash {
				return fmt.Errorf("%w: account code %q is reserved for the Cash Account", errs.ErrConflict, p.code)
			}
			acc = found
			return nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		acc = ledger.Account{
			ID:        uuid.New(),
			Code:      p.code,
			Name:      p.name,
			Kind:      ledger.AccountKindCash,
			Balance:   ledger.Zero(p.currency),
			System:    true,
			CreatedAt: time.Now().UTC(),
		}
		return tx.CreateAccount(ctx, acc)
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("resolve cash account: %w", err)
	}
	id := acc.ID
	p.id.Store(&id)
	p.log.Info("cash account resolved", "account_id", id.String(), "code", p.code)
	return acc, nil
}

// AccountID returns the pinned Cash Account ID.
func (p *Policy) AccountID() (uuid.UUID, bool) {
	id := p.id.Load()
	if id == nil {
		return uuid.Nil, false
	}
	return *id, true
}

// IsCash reports whether id is the Cash Account.
func (p *Policy) IsCash(id uuid.UUID) bool {
	cid, ok := p.AccountID()
	return ok && cid == id
}

// Mirror posts the equal-and-opposite of primary on the Cash Account and
// moves its balance. A missing Cash Account is drift: it is logged and
// counted, and the caller's unit still commits. The returned entry is nil
// when nothing was posted.
func (p *Policy) Mirror(ctx context.Context, tx storage.Tx, primary ledger.JournalEntry) (*ledger.JournalEntry, error) {
	cid, ok := p.AccountID()
	if !ok {
		p.drift(SourceCashMirror, "cash account not resolved", primary)
		return nil, nil
	}
	if cid == primary.AccountID {
		return nil, nil
	}
	if _, err := tx.GetAccount(ctx, cid); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			p.drift(SourceCashMirror, "cash account missing", primary)
			return nil, nil
		}
		return nil, err
	}
	src := primary.ID
	m := &ledger.JournalEntry{
		AccountID:   cid,
		Side:        primary.Side.Opposite(),
		Amount:      primary.Amount,
		Description: primary.Description,
		Method:      ledger.MethodCash,
		PurchaseID:  primary.PurchaseID,
		MirrorOf:    &src,
		Date:        primary.Date,
	}
	if err := tx.InsertEntry(ctx, m); err != nil {
		return nil, err
	}
	if err := tx.AddAccountBalance(ctx, cid, m.Effect()); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Policy) drift(source, reason string, e ledger.JournalEntry) {
	DriftTotal.WithLabelValues(source).Inc()
	p.log.Warn("reconciliation drift",
		"err", errs.ErrDrift,
		"source", source,
		"reason", reason,
		"entry_id", e.ID,
		"account_id", e.AccountID.String(),
		"amount", e.Amount.String(),
	)
}

// Drift records a soft failure raised outside Mirror.
func (p *Policy) Drift(source, reason string, e ledger.JournalEntry) { p.drift(source, reason, e) }
