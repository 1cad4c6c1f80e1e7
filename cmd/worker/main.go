package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tinoosan/shopledger/internal/config"
	"github.com/tinoosan/shopledger/internal/service/cash"
	"github.com/tinoosan/shopledger/internal/service/migrate"
	"github.com/tinoosan/shopledger/internal/service/reconcile"
	"github.com/tinoosan/shopledger/internal/service/txn"
	pgstore "github.com/tinoosan/shopledger/internal/storage/postgres"
	"github.com/tinoosan/shopledger/internal/worker"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file (default ./.env if present)")
	once := flag.String("once", "", "run one job inline and exit: reconcile | migrate-legacy-cash")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DB.URL == "" {
		logger.Error("DATABASE_URL is required for the worker")
		os.Exit(1)
	}
	store, err := pgstore.Open(ctx, cfg.DB.URL, cfg.Ledger.Currency, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	policy := cash.New(cfg.Ledger.CashCode, cfg.Ledger.CashName, cfg.Ledger.Currency, logger)
	if _, err := policy.Resolve(ctx, store); err != nil {
		logger.Error("cash account not resolved", "err", err)
	}
	coord := txn.New(store, logger, txn.Options{
		MaxConcurrent: cfg.Tx.MaxConcurrent,
		MaxWait:       cfg.Tx.MaxWait,
		Timeout:       cfg.Tx.Timeout,
	})

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	h := worker.NewHandlers(
		reconcile.New(coord, cfg.Ledger.Currency, cfg.Reconcile.Parallelism, logger),
		migrate.New(coord, policy, cfg.Ledger.LegacyMarker, logger),
		worker.NewRedisLock(rdb),
		cfg.Reconcile.LockTTL,
		logger,
	)

	if *once != "" {
		var task *asynq.Task
		switch *once {
		case "reconcile":
			task = worker.NewReconcileTask()
		case "migrate-legacy-cash":
			task = worker.NewMigrateLegacyCashTask()
		default:
			logger.Error("unknown job", "once", *once)
			os.Exit(2)
		}
		mux := asynq.NewServeMux()
		worker.Register(mux, h)
		if err := mux.ProcessTask(ctx, task); err != nil {
			logger.Error("job failed", "job", *once, "err", err)
			os.Exit(1)
		}
		logger.Info("job complete", "job", *once)
		return
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	sched, err := worker.NewScheduler(redisOpt, cfg.Reconcile.Cron, logger)
	if err != nil {
		logger.Error("scheduler", "err", err)
		os.Exit(1)
	}
	if err := sched.Start(); err != nil {
		logger.Error("scheduler start", "err", err)
		os.Exit(1)
	}
	defer sched.Shutdown()

	srv := worker.NewServer(redisOpt, cfg.Worker.Concurrency, logger)
	mux := asynq.NewServeMux()
	worker.Register(mux, h)
	if err := srv.Start(mux); err != nil {
		logger.Error("worker start", "err", err)
		os.Exit(1)
	}
	logger.Info("worker running", "concurrency", cfg.Worker.Concurrency, "reconcile_cron", cfg.Reconcile.Cron)

	<-ctx.Done()
	logger.Info("shutting down worker")
	srv.Shutdown()
}
