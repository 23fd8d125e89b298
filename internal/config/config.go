package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"dev"`
	APIAddr string `env:"API_ADDR" envDefault:":8080"`

	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	GoogleCredsPath string `env:"GOOGLE_CREDS_PATH,notEmpty"`
	SheetAccessRole string `env:"SHEET_ACCESS_ROLE" envDefault:"writer"`

	QueueName    string `env:"QUEUE_NAME" envDefault:"sheets"`
	NotifyStream string `env:"NOTIFY_STREAM" envDefault:"bot:messages"`

	// LockTTL must exceed the slowest expected sheet job with margin; the TTL
	// is the only recovery path after a worker crash.
	LockTTL        time.Duration `env:"LOCK_TTL" envDefault:"15m"`
	AdapterTimeout time.Duration `env:"ADAPTER_TIMEOUT" envDefault:"30s"`

	WorkerCount  int           `env:"WORKER_COUNT" envDefault:"4"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	ScanInterval time.Duration `env:"SCAN_INTERVAL" envDefault:"5m"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"db/migrations"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
