package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/config"
	"github.com/SirClappington/ledgersync/internal/joblock"
	"github.com/SirClappington/ledgersync/internal/notify"
	"github.com/SirClappington/ledgersync/internal/queue"
	"github.com/SirClappington/ledgersync/internal/reconcile"
	"github.com/SirClappington/ledgersync/internal/sheets"
	"github.com/SirClappington/ledgersync/internal/storage"
	"github.com/SirClappington/ledgersync/internal/worker"
)

func main() {
	cfg := config.Load()
	log, _ := zap.NewProduction()
	if cfg.AppEnv == "dev" {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	adapter, err := sheets.NewGoogle(ctx, cfg.GoogleCredsPath, cfg.AdapterTimeout)
	if err != nil {
		log.Fatal("google adapter", zap.Error(err))
	}

	store := storage.New(db)
	locks := joblock.New(rdb, cfg.LockTTL)
	q := queue.New(rdb, cfg.QueueName)
	notifier := notify.NewRedis(rdb, cfg.NotifyStream)
	svc := reconcile.NewService(store, adapter, locks, log).WithAccessRole(cfg.SheetAccessRole)
	tracker := reconcile.NewTracker(store, log)

	pool := worker.NewPool(q, locks, svc, tracker, store, adapter, notifier,
		cfg.WorkerCount, cfg.MaxAttempts, log)

	log.Info("worker pool starting", zap.Int("workers", cfg.WorkerCount))
	if err := pool.Run(ctx); err != nil {
		log.Fatal("worker pool", zap.Error(err))
	}
	log.Info("worker pool stopped")
}
