package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port              string
	Environment       string
	CORSOrigins       []string
	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBURL             string
	DBAutoMigrate     bool
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoTimeoutMS  int

	BreakerFailures     int
	BreakerCooldownSecs int

	// DefaultStore is the target used when neither the call nor the request
	// picks one.
	DefaultStore domain.Origin
	// Location is attached to timestamps stored without zone information.
	Location *time.Location
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		Environment:         getEnv("APP_ENV", "production"),
		CORSOrigins:         splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		ReadTimeoutSecs:     getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:    getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:     getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBURL:               os.Getenv("DB_URL"),
		DBAutoMigrate:       getEnvBool("DB_AUTO_MIGRATE", true),
		DBMaxConns:          getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:          getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:       getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:       getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs:   getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:    getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
		MongoURI:            os.Getenv("MONGODB_URI"),
		MongoDatabase:       getEnv("MONGODB_DATABASE", "sistema_triage"),
		MongoCollection:     getEnv("MONGODB_COLLECTION", "calificaciones"),
		MongoTimeoutMS:      getEnvInt("MONGODB_TIMEOUT_MS", 5000),
		BreakerFailures:     getEnvInt("DOCSTORE_BREAKER_FAILURES", 5),
		BreakerCooldownSecs: getEnvInt("DOCSTORE_BREAKER_COOLDOWN_SECS", 30),
	}

	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if cfg.MongoTimeoutMS <= 0 {
		return Config{}, fmt.Errorf("MONGODB_TIMEOUT_MS must be positive")
	}
	if cfg.BreakerFailures < 0 {
		return Config{}, fmt.Errorf("DOCSTORE_BREAKER_FAILURES must be non-negative")
	}
	if cfg.BreakerCooldownSecs <= 0 {
		return Config{}, fmt.Errorf("DOCSTORE_BREAKER_COOLDOWN_SECS must be positive")
	}

	store, err := domain.ParseOrigin(getEnv("RATINGS_DEFAULT_STORE", string(domain.OriginRelational)))
	if err != nil {
		return Config{}, fmt.Errorf("RATINGS_DEFAULT_STORE: %w", err)
	}
	cfg.DefaultStore = store

	loc, err := time.LoadLocation(getEnv("LOCAL_TIMEZONE", "America/Bogota"))
	if err != nil {
		return Config{}, fmt.Errorf("LOCAL_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

// MongoTimeout returns the document store connect/ping bound.
func (c Config) MongoTimeout() time.Duration {
	return time.Duration(c.MongoTimeoutMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
