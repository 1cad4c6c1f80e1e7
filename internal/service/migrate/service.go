// Package migrate backfills Cash Account mirrors for entries written before
// cash mirroring existed.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/cash"
	"github.com/tinoosan/shopledger/internal/service/journal"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage"
)

// KeyPrefix namespaces the idempotency key recorded per migrated entry.
const KeyPrefix = "legacy-cash:"

// Report counts what a run did with each candidate entry.
type Report struct {
	Scanned int
	Posted  int
	// Duplicates already had an equivalent Cash Account entry.
	Duplicates int
	// Skipped were handled by an earlier run.
	Skipped int
	Failed  int
}

type Service struct {
	coord  *txn.Coordinator
	cash   *cash.Policy
	marker string
	log    *slog.Logger
}

func New(coord *txn.Coordinator, cashPolicy *cash.Policy, marker string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{coord: coord, cash: cashPolicy, marker: marker, log: log}
}

type outcome int

const (
	posted outcome = iota
	duplicate
	gone
)

// Run finds entries whose description contains the marker, that are not on
// the Cash Account and have no mirror, and posts the missing mirror. Each
// entry is its own unit keyed by KeyPrefix+entryID, so a rerun never posts
// twice for an entry it already handled. Entries with an equivalent Cash
// Account entry (same amount, same day, description naming the
// counterparty) are treated as mirrored by hand and left alone.
func (s *Service) Run(ctx context.Context) (Report, error) {
	if err := txn.Authorize(ctx, txn.OpMigrateLegacyCash); err != nil {
		return Report{}, err
	}
	cid, ok := s.cash.AccountID()
	if !ok {
		return Report{}, fmt.Errorf("%w: cash account not resolved", errs.ErrDrift)
	}

	var candidates []ledger.JournalEntry
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		candidates, err = tx.FindEntries(ctx, storage.EntryFilter{
			ExcludeAccountID:    cid,
			DescriptionContains: s.marker,
			WithoutMirrors:      true,
		})
		return err
	})
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for _, c := range candidates {
		if c.MirrorOf != nil || c.Method == ledger.MethodBank {
			continue
		}
		rep.Scanned++
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, out, err := s.migrate(ctx, c.ID)
		switch {
		case err != nil:
			rep.Failed++
			cash.DriftTotal.WithLabelValues(cash.SourceMigration).Inc()
			s.log.Warn("legacy cash entry not migrated", "err", err, "entry_id", c.ID)
		case res.Replayed, out == gone:
			rep.Skipped++
		case out == duplicate:
			rep.Duplicates++
		case out == posted:
			rep.Posted++
		}
	}
	s.log.Info("legacy cash migration complete",
		"scanned", rep.Scanned, "posted", rep.Posted, "duplicates", rep.Duplicates,
		"skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}

func (s *Service) migrate(ctx context.Context, entryID int64) (txn.Result, outcome, error) {
	cid, _ := s.cash.AccountID()
	var out outcome
	ctx = txn.WithIdempotencyKey(ctx, KeyPrefix+strconv.FormatInt(entryID, 10))
	res, err := s.coord.Execute(ctx, txn.Func{Op: txn.OpMigrateLegacyCash, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		e, err := tx.GetEntry(ctx, entryID)
		if errors.Is(err, errs.ErrNotFound) {
			out = gone
			return txn.Result{ResourceID: "gone"}, nil
		}
		if err != nil {
			return txn.Result{}, err
		}
		mirrors, err := tx.MirrorsOf(ctx, e.ID)
		if err != nil {
			return txn.Result{}, err
		}
		if len(mirrors) > 0 {
			out = duplicate
			return txn.Result{ResourceID: strconv.FormatInt(mirrors[0].ID, 10)}, nil
		}
		counterparty, err := tx.GetAccount(ctx, e.AccountID)
		if err != nil {
			return txn.Result{}, err
		}
		day := e.Date
		amt := e.Amount
		equivalent, err := tx.FindEntries(ctx, storage.EntryFilter{
			AccountID:           cid,
			Amount:              &amt,
			Day:                 &day,
			DescriptionContains: counterparty.Name,
		})
		if err != nil {
			return txn.Result{}, err
		}
		if len(equivalent) > 0 {
			out = duplicate
			return txn.Result{ResourceID: strconv.FormatInt(equivalent[0].ID, 10)}, nil
		}
		src := e.ID
		m := &ledger.JournalEntry{
			AccountID:   cid,
			Side:        e.Side.Opposite(),
			Amount:      e.Amount,
			Description: counterparty.Name + ": " + e.Description,
			Method:      ledger.MethodCash,
			PurchaseID:  e.PurchaseID,
			MirrorOf:    &src,
			Date:        e.Date,
		}
		if err := journal.Post(ctx, tx, m); err != nil {
			return txn.Result{}, err
		}
		out = posted
		return txn.Result{ResourceID: strconv.FormatInt(m.ID, 10)}, nil
	}})
	return res, out, err
}
