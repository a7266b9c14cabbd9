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

// Supported session store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// Config holds service configuration.
type Config struct {
	ServerAddr    string
	StoreBackend  string
	DatabaseURL   string
	MigrationsDir string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	SQLitePath string

	SessionTTL          time.Duration
	SweepInterval       time.Duration
	ResetAcceptOnChange bool

	CORSAllowedOrigins []string
	LogLevel           string
}

// Load reads configuration from environment. Variables from the file named
// by ENV_FILE (default .env) are applied first without overriding anything
// already set; a missing file is ignored.
func Load() (*Config, error) {
	envFile := getenv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "livetrade")
		pass := getenv("POSTGRES_PASSWORD", "livetrade_pass")
		db := getenv("POSTGRES_DB", "livetrade")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	redisDB, err := strconv.Atoi(getenv("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, fmt.Errorf("invalid REDIS_DB %q", os.Getenv("REDIS_DB"))
	}

	cfg := &Config{
		ServerAddr:          getenv("SERVER_ADDR", "0.0.0.0:5000"),
		StoreBackend:        strings.ToLower(getenv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:         dsn,
		MigrationsDir:       getenv("MIGRATIONS_DIR", "internal/migrations"),
		RedisAddr:           getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             redisDB,
		RedisKeyPrefix:      getenv("REDIS_KEY_PREFIX", "trade:session:"),
		SQLitePath:          getenv("SQLITE_PATH", "trades.db"),
		SessionTTL:          parseDuration(getenv("SESSION_TTL", "30m"), 30*time.Minute),
		SweepInterval:       parseDuration(getenv("SWEEP_INTERVAL", "60s"), 60*time.Second),
		ResetAcceptOnChange: parseBool(getenv("TRADE_RESET_ACCEPT_ON_CHANGE", "false"), false),
		CORSAllowedOrigins:  splitCSV(getenv("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:            getenv("LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
