package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration surface. Every value comes from the
// environment (optionally seeded from a .env file); nothing is hardcoded and
// no package-level state exists.
type Config struct {
	Server    ServerConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Checkout  CheckoutConfig
	Inventory InventoryConfig
}

type ServerConfig struct {
	Port string
}

type MySQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// DSN renders the go-sql-driver connection string. parseTime is required to
// scan DATE columns into time.Time.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// CheckoutConfig tunes the order coordinator: the bounded reservation retry
// policy and the per-phase timeouts.
type CheckoutConfig struct {
	ReserveMaxAttempts int
	ReserveBaseBackoff time.Duration
	ReserveMaxBackoff  time.Duration
	ReserveTimeout     time.Duration
	CommitTimeout      time.Duration
}

// InventoryConfig covers the durable mirror: products warmed into the ledger
// at startup, the sync worker pool, and the drift reconciler schedule.
type InventoryConfig struct {
	Products          []int64
	SyncWorkers       int
	SyncQueueSize     int
	ReconcileSchedule string
}

// Load reads environment variables, optionally seeded from the given env file,
// and materializes a validated Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Missing .env is fine when configuration comes straight from the
		// environment.
		_ = godotenv.Load()
	}

	var errs []error

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvDefault("APP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			Host:     getenvDefault("MYSQL_HOST", "localhost"),
			Port:     getenvDefault("MYSQL_PORT", "3306"),
			User:     getenvDefault("MYSQL_USER", "root"),
			Password: os.Getenv("MYSQL_PASSWORD"),
			Database: getenvDefault("MYSQL_DATABASE", "eCommerce_DB"),
		},
		Redis: RedisConfig{
			Addr:     getenvDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getenvInt("REDIS_DB", 0, &errs),
			PoolSize: getenvInt("REDIS_POOL_SIZE", 100, &errs),
		},
		Checkout: CheckoutConfig{
			ReserveMaxAttempts: getenvInt("RESERVE_MAX_ATTEMPTS", 3, &errs),
			ReserveBaseBackoff: getenvDuration("RESERVE_BASE_BACKOFF", 50*time.Millisecond, &errs),
			ReserveMaxBackoff:  getenvDuration("RESERVE_MAX_BACKOFF", time.Second, &errs),
			ReserveTimeout:     getenvDuration("RESERVE_TIMEOUT", 2*time.Second, &errs),
			CommitTimeout:      getenvDuration("COMMIT_TIMEOUT", 5*time.Second, &errs),
		},
		Inventory: InventoryConfig{
			Products:          getenvInt64List("INVENTORY_PRODUCT_IDS", &errs),
			SyncWorkers:       getenvInt("INVENTORY_SYNC_WORKERS", 4, &errs),
			SyncQueueSize:     getenvInt("INVENTORY_SYNC_QUEUE", 1024, &errs),
			ReconcileSchedule: getenvDefault("RECONCILE_SCHEDULE", "*/5 * * * *"),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch {
	case c.MySQL.Host == "":
		return errors.New("MYSQL_HOST must be provided")
	case c.MySQL.Port == "":
		return errors.New("MYSQL_PORT must be provided")
	case c.MySQL.User == "":
		return errors.New("MYSQL_USER must be provided")
	case c.MySQL.Database == "":
		return errors.New("MYSQL_DATABASE must be provided")
	}

	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR must be provided")
	}

	if c.Checkout.ReserveMaxAttempts < 1 {
		return errors.New("RESERVE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Checkout.ReserveMaxBackoff < c.Checkout.ReserveBaseBackoff {
		return errors.New("RESERVE_MAX_BACKOFF must not be below RESERVE_BASE_BACKOFF")
	}

	if c.Inventory.SyncWorkers < 1 {
		return errors.New("INVENTORY_SYNC_WORKERS must be at least 1")
	}
	if c.Inventory.SyncQueueSize < 1 {
		return errors.New("INVENTORY_SYNC_QUEUE must be at least 1")
	}
	if c.Inventory.ReconcileSchedule == "" {
		return errors.New("RECONCILE_SCHEDULE must be provided")
	}

	return nil
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}

func getenvInt64List(key string, errs *[]error) []int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}

	var values []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s entry %q: %w", key, part, err))
			continue
		}
		values = append(values, value)
	}
	return values
}
