// Package reconcile rebuilds every cached balance from its journal.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/service/cash"
	"github.com/tinoosan/shopledger/internal/service/txn"
	"github.com/tinoosan/shopledger/internal/storage"
)

// Drift is an account whose stored balance disagreed with its journal.
type Drift struct {
	AccountID uuid.UUID
	Code      string
	Stored    money.Amount
	Computed  money.Amount
}

// Report summarises one run.
type Report struct {
	Accounts int
	Repaired int
	// Failed accounts were left as they were; the next run retries them.
	Failed     int
	Drifts     []Drift
	StartedAt  time.Time
	FinishedAt time.Time
}

type Service struct {
	coord       *txn.Coordinator
	currency    string
	parallelism int
	log         *slog.Logger
}

func New(coord *txn.Coordinator, currency string, parallelism int, log *slog.Logger) *Service {
	if parallelism <= 0 {
		parallelism = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{coord: coord, currency: currency, parallelism: parallelism, log: log}
}

// Run replays every account's journal in (Date, ID) order and overwrites the
// stored balance with the result. Each account is its own unit of work, so a
// write racing with the run is never lost for longer than one account.
// Running twice in a row yields the same balances.
func (s *Service) Run(ctx context.Context) (Report, error) {
	if err := txn.Authorize(ctx, txn.OpReconcileRun); err != nil {
		return Report{}, err
	}
	// Per-account units must not share a caller's key.
	ctx = txn.WithIdempotencyKey(ctx, "")
	rep := Report{StartedAt: time.Now().UTC()}

	var ids []uuid.UUID
	err := s.coord.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		as, err := tx.ListAccounts(ctx)
		for _, a := range as {
			ids = append(ids, a.ID)
		}
		return err
	})
	if err != nil {
		return Report{}, err
	}
	rep.Accounts = len(ids)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			d, drifted, err := s.Account(ctx, id)
			if errors.Is(err, errs.ErrNotFound) {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				s.log.Error("reconcile account failed", "account_id", id.String(), "err", err)
			case drifted:
				rep.Repaired++
				rep.Drifts = append(rep.Drifts, d)
			}
			return nil
		})
	}
	_ = g.Wait()
	rep.FinishedAt = time.Now().UTC()
	s.log.Info("reconciliation complete", "accounts", rep.Accounts, "repaired", rep.Repaired, "failed", rep.Failed, "duration", rep.FinishedAt.Sub(rep.StartedAt).String())
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// Account reconciles a single account. drifted reports whether the stored
// balance had to be corrected.
func (s *Service) Account(ctx context.Context, id uuid.UUID) (d Drift, drifted bool, err error) {
	_, err = s.coord.Execute(ctx, txn.Func{Op: txn.OpReconcileAccount, Fn: func(ctx context.Context, tx storage.Tx) (txn.Result, error) {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		entries, err := tx.EntriesByAccount(ctx, id)
		if err != nil {
			return txn.Result{}, err
		}
		computed, err := ledger.Replay(s.currency, entries)
		if err != nil {
			return txn.Result{}, err
		}
		diff, err := computed.Sub(a.Balance)
		if err != nil {
			return txn.Result{}, err
		}
		if diff.IsZero() {
			drifted = false
			return txn.Result{ResourceID: id.String()}, nil
		}
		if err := tx.SetAccountBalance(ctx, id, computed); err != nil {
			return txn.Result{}, err
		}
		d = Drift{AccountID: id, Code: a.Code, Stored: a.Balance, Computed: computed}
		drifted = true
		return txn.Result{ResourceID: id.String()}, nil
	}})
	if err != nil {
		return Drift{}, false, err
	}
	if drifted {
		cash.DriftTotal.WithLabelValues(cash.SourceReconcile).Inc()
		s.log.Warn("balance repaired", "account_id", id.String(), "code", d.Code, "stored", d.Stored.String(), "computed", d.Computed.String())
	}
	return d, drifted, nil
}
