package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/config"
	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/queue"
)

// advisoryLockID keeps a single scheduler active when several replicas run.
const advisoryLockID = 4217

func main() {
	cfg := config.Load()
	log, _ := zap.NewProduction()
	if cfg.AppEnv == "dev" {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	q := queue.New(rdb, cfg.QueueName)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	var lastScan time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-tick.C:
		}

		// leader election
		var leader bool
		if err := db.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", advisoryLockID).Scan(&leader); err != nil {
			log.Warn("advisory lock", zap.Error(err))
			continue
		}
		if !leader {
			continue
		}

		if err := q.MoveDue(ctx, time.Now().UTC().Unix(), 200); err != nil {
			log.Warn("move due tasks", zap.Error(err))
		}

		if time.Since(lastScan) >= cfg.ScanInterval {
			lastScan = time.Now()
			for _, kind := range domain.Kinds() {
				t := queue.Task{ID: uuid.NewString(), Type: queue.TaskScanRevisions, Kind: kind}
				if err := q.Enqueue(ctx, t, time.Now()); err != nil {
					log.Warn("enqueue scan", zap.String("kind", string(kind)), zap.Error(err))
				}
			}
			log.Info("revision scans enqueued")
		}
	}
}
