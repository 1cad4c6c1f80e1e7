package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// NewServer returns an asynq server that consumes the maintenance queue.
func NewServer(opt asynq.RedisConnOpt, concurrency int, log *slog.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueMaintenance: 1,
		},
		Logger: asynqLogger{log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			log.Error("task failed", "type", task.Type(), "retry", retried, "err", err)
		}),
	})
}

// NewScheduler registers the periodic reconciliation task under cron.
func NewScheduler(opt asynq.RedisConnOpt, cron string, log *slog.Logger) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Logger: asynqLogger{log}})
	id, err := s.Register(cron, NewReconcileTask())
	if err != nil {
		return nil, fmt.Errorf("register reconcile schedule %q: %w", cron, err)
	}
	log.Info("reconciliation scheduled", "cron", cron, "entry_id", id)
	return s, nil
}

// asynqLogger adapts slog to asynq's printf-less logger interface.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
