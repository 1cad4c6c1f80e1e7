package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tinoosan/shopledger/internal/service/migrate"
	"github.com/tinoosan/shopledger/internal/service/reconcile"
	"github.com/tinoosan/shopledger/internal/service/txn"
)

const (
	reconcileLockKey = "shopledger:lock:reconcile"
	migrateLockKey   = "shopledger:lock:migrate_legacy_cash"
)

// Reconciler and Migrator are the services the handlers drive.
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

type Migrator interface {
	Run(ctx context.Context) (migrate.Report, error)
}

type Handlers struct {
	reconcile Reconciler
	migrate   Migrator
	lock      Locker
	lockTTL   time.Duration
	log       *slog.Logger
}

// NewHandlers wires the task handlers. A nil lock disables cross-replica
// locking, which is fine for a single worker.
func NewHandlers(r Reconciler, m Migrator, lock Locker, lockTTL time.Duration, log *slog.Logger) *Handlers {
	if lock == nil {
		lock = noLock{}
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{reconcile: r, migrate: m, lock: lock, lockTTL: lockTTL, log: log}
}

// Register mounts the handlers on mux.
func Register(mux *asynq.ServeMux, h *Handlers) {
	mux.HandleFunc(TypeReconcile, h.HandleReconcile)
	mux.HandleFunc(TypeMigrateLegacyCash, h.HandleMigrateLegacyCash)
}

func (h *Handlers) HandleReconcile(ctx context.Context, _ *asynq.Task) error {
	unlock, ok, err := h.lock.TryLock(ctx, reconcileLockKey, h.lockTTL)
	if err != nil {
		return fmt.Errorf("reconcile lock: %w", err)
	}
	if !ok {
		h.log.Info("reconciliation already running elsewhere; skipping")
		return nil
	}
	defer unlock()

	rep, err := h.reconcile.Run(txn.WithActor(ctx, txn.System))
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, d := range rep.Drifts {
		h.log.Warn("reconcile drift", "account_id", d.AccountID.String(), "code", d.Code, "stored", d.Stored.String(), "computed", d.Computed.String())
	}
	if rep.Failed > 0 {
		return fmt.Errorf("reconcile: %d accounts failed", rep.Failed)
	}
	return nil
}

func (h *Handlers) HandleMigrateLegacyCash(ctx context.Context, _ *asynq.Task) error {
	unlock, ok, err := h.lock.TryLock(ctx, migrateLockKey, h.lockTTL)
	if err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	if !ok {
		h.log.Info("legacy cash migration already running elsewhere; skipping")
		return nil
	}
	defer unlock()

	rep, err := h.migrate.Run(txn.WithActor(ctx, txn.System))
	if err != nil {
		return fmt.Errorf("migrate legacy cash: %w", err)
	}
	if rep.Failed > 0 {
		// retry picks up only the failed entries; the rest are keyed
		return fmt.Errorf("migrate legacy cash: %d entries failed", rep.Failed)
	}
	return nil
}
