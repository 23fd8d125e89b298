package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/config"
	"github.com/SirClappington/ledgersync/internal/httpapi"
	"github.com/SirClappington/ledgersync/internal/joblock"
	"github.com/SirClappington/ledgersync/internal/queue"
	"github.com/SirClappington/ledgersync/internal/storage"
)

func main() {
	cfg := config.Load()
	log, _ := zap.NewProduction()
	if cfg.AppEnv == "dev" {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	ctx := context.Background()

	// migrations run through database/sql; the app itself uses the pool
	mdb, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open migration db", zap.Error(err))
	}
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("goose dialect", zap.Error(err))
	}
	if err := goose.Up(mdb, cfg.MigrationsDir); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	mdb.Close()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(db)
	locks := joblock.New(rdb, cfg.LockTTL)
	q := queue.New(rdb, cfg.QueueName)

	srv := httpapi.NewServer(store, locks, q, log)
	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, srv.Router()); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}
