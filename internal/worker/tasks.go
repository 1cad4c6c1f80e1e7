// Package worker runs reconciliation and the legacy cash migration as asynq
// background tasks.
package worker

import (
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeReconcile         = "ledger:reconcile"
	TypeMigrateLegacyCash = "ledger:migrate_legacy_cash"
)

// QueueMaintenance is where both task types are enqueued.
const QueueMaintenance = "maintenance"

func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeReconcile, nil,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
	)
}

func NewMigrateLegacyCashTask() *asynq.Task {
	return asynq.NewTask(TypeMigrateLegacyCash, nil,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Timeout(time.Hour),
	)
}
