// Package txn runs every ledger mutation as one atomic unit of work.
//
// The Coordinator authorizes the caller, queues the unit behind a bounded
// number of concurrent slots, applies a time budget, and records
// idempotency keys in the same transaction as the unit's effects.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tinoosan/shopledger/internal/errs"
	"github.com/tinoosan/shopledger/internal/ledger"
	"github.com/tinoosan/shopledger/internal/storage"
)

// Operation names. Admin-only operations are listed in adminOnly.
const (
	OpAccountCreate        = "account.create"
	OpAccountUpdate        = "account.update"
	OpAccountAdjustBalance = "account.adjust_balance"
	OpAccountDelete        = "account.delete"
	OpEntryCreate          = "entry.create"
	OpEntryDelete          = "entry.delete"
	OpPurchaseCreate       = "purchase.create"
	OpPurchaseDelete       = "purchase.delete"
	OpProductCreate        = "product.create"
	OpProductDelete        = "product.delete"
	OpBankCreate           = "bank.create"
	OpReconcileRun         = "reconcile.run"
	OpReconcileAccount     = "reconcile.account"
	OpMigrateLegacyCash    = "migrate.legacy_cash"
	OpReportStatement      = "report.statement"
)

var adminOnly = map[string]bool{
	OpPurchaseDelete:       true,
	OpAccountDelete:        true,
	OpAccountAdjustBalance: true,
	OpReconcileRun:         true,
	OpReconcileAccount:     true,
	OpMigrateLegacyCash:    true,
}

// RequiresAdmin reports whether name is restricted to RoleAdmin.
func RequiresAdmin(name string) bool { return adminOnly[name] }

// Result is what a unit of work reports back. On replay only ResourceID is
// populated and Replayed is true.
type Result struct {
	ResourceID string
	Replayed   bool
}

// Operation is one atomic mutation.
type Operation interface {
	Name() string
	Apply(ctx context.Context, tx storage.Tx) (Result, error)
}

// Func adapts a function to Operation.
type Func struct {
	Op string
	Fn func(ctx context.Context, tx storage.Tx) (Result, error)
}

func (f Func) Name() string { return f.Op }

func (f Func) Apply(ctx context.Context, tx storage.Tx) (Result, error) { return f.Fn(ctx, tx) }

// Options bound the coordinator's resource use.
type Options struct {
	MaxConcurrent int64
	MaxWait       time.Duration
	Timeout       time.Duration
}

// DefaultOptions mirror the config defaults.
var DefaultOptions = Options{MaxConcurrent: 8, MaxWait: 5 * time.Second, Timeout: 20 * time.Second}

// Coordinator executes operations against a store.
type Coordinator struct {
	store storage.Store
	log   *slog.Logger
	opts  Options
	slots *semaphore.Weighted
	now   func() time.Time
}

// New builds a Coordinator. Zero option fields take DefaultOptions values.
func New(store storage.Store, log *slog.Logger, opts Options) *Coordinator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultOptions.MaxConcurrent
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultOptions.MaxWait
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store: store,
		log:   log,
		opts:  opts,
		slots: semaphore.NewWeighted(opts.MaxConcurrent),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Authorize checks that the actor in ctx may run the named operation.
func Authorize(ctx context.Context, name string) error {
	a, ok := ActorFrom(ctx)
	if !ok || a.ID == "" {
		return fmt.Errorf("%w: no authenticated actor", errs.ErrForbidden)
	}
	if RequiresAdmin(name) && a.Role != RoleAdmin {
		return fmt.Errorf("%w: %s requires role %s", errs.ErrForbidden, name, RoleAdmin)
	}
	return nil
}

// Execute runs op as one unit of work. Any error leaves no partial effect.
func (c *Coordinator) Execute(ctx context.Context, op Operation) (Result, error) {
	start := time.Now()
	name := op.Name()
	key := IdempotencyKeyFrom(ctx)

	res, err := c.execute(ctx, op, key)

	outcome := outcomeOf(err)
	if err == nil && res.Replayed {
		outcome = "replayed"
	}
	txTotal.WithLabelValues(name, outcome).Inc()
	txDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	attrs := []any{"operation", name, "outcome", outcome, "duration", time.Since(start).String()}
	if a, ok := ActorFrom(ctx); ok {
		attrs = append(attrs, "actor", a.ID)
	}
	if res.ResourceID != "" {
		attrs = append(attrs, "resource_id", res.ResourceID)
	}
	switch {
	case err == nil:
		c.log.Info("tx committed", attrs...)
	case outcome == "error" || outcome == "timeout":
		c.log.Error("tx failed", append(attrs, "err", err)...)
	default:
		c.log.Warn("tx rejected", append(attrs, "err", err)...)
	}
	return res, err
}

func (c *Coordinator) execute(ctx context.Context, op Operation, key string) (Result, error) {
	name := op.Name()
	if err := Authorize(ctx, name); err != nil {
		return Result{}, err
	}
	release, err := c.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	tctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var res Result
	err = c.store.InTx(tctx, func(ctx context.Context, tx storage.Tx) error {
		if key != "" {
			rec, ok, err := tx.GetOperation(ctx, key)
			if err != nil {
				return err
			}
			if ok {
				if rec.Operation != name {
					return fmt.Errorf("%w: idempotency key already used for %s", errs.ErrConflict, rec.Operation)
				}
				res = Result{ResourceID: rec.ResourceID, Replayed: true}
				return nil
			}
		}
		r, err := op.Apply(ctx, tx)
		if err != nil {
			return err
		}
		if key != "" {
			if err := tx.SaveOperation(ctx, ledger.OperationRecord{Key: key, Operation: name, ResourceID: r.ResourceID, CreatedAt: c.now()}); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errs.ErrTxTimeout) {
			err = fmt.Errorf("%w: %v", errs.ErrTxTimeout, err)
		}
		return Result{}, err
	}
	return res, nil
}

// View runs a read-only unit under the same time budget, without queueing
// or idempotency.
func (c *Coordinator) View(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	err := c.store.InTx(tctx, fn)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errs.ErrTxTimeout) {
		return fmt.Errorf("%w: %v", errs.ErrTxTimeout, err)
	}
	return err
}

// acquire waits at most MaxWait for a slot.
func (c *Coordinator) acquire(ctx context.Context) (func(), error) {
	if c.slots.TryAcquire(1) {
		return func() { c.slots.Release(1) }, nil
	}
	txWaiting.Inc()
	defer txWaiting.Dec()
	wctx, cancel := context.WithTimeout(ctx, c.opts.MaxWait)
	defer cancel()
	if err := c.slots.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: waited %s for a free slot", errs.ErrTxTimeout, c.opts.MaxWait)
	}
	return func() { c.slots.Release(1) }, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrForbidden):
		return "forbidden"
	case errors.Is(err, errs.ErrInvalid):
		return "invalid"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrConflict):
		return "conflict"
	case errors.Is(err, errs.ErrInUse):
		return "in_use"
	case errors.Is(err, errs.ErrTxTimeout):
		return "timeout"
	default:
		return "error"
	}
}
