package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DriverSQLite stores everything in a local SQLite file.
	DriverSQLite = "sqlite"
	// DriverPostgres stores everything in PostgreSQL.
	DriverPostgres = "postgres"
	// DriverMongo stores everything in MongoDB.
	DriverMongo = "mongo"

	// SessionBackendDatabase keeps sessions next to users and messages.
	SessionBackendDatabase = "database"
	// SessionBackendRedis keeps sessions in Redis with a TTL.
	SessionBackendRedis = "redis"

	defaultPort           = "8080"
	defaultSQLitePath     = "chat.db"
	defaultMongoDatabase  = "chatapp"
	defaultRedisAddr      = "localhost:6379"
	defaultUploadDir      = "uploads"
	defaultSessionTTL     = 7 * 24 * time.Hour
	defaultRequestTimeout = 10 * time.Second
	defaultMaxUploadBytes = 25 << 20
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// Config holds all server settings resolved from the environment.
type Config struct {
	Port           string
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string
	MongoURI       string
	MongoDatabase  string
	SessionBackend string
	RedisAddr      string
	UploadDir      string
	PublicBaseURL  string
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	MaxUploadBytes int64
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
}

// LoadDotEnv loads a .env file if one exists. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the configuration from environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           os.Getenv("PORT"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(os.Getenv("DATABASE_DRIVER"))),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  os.Getenv("MONGO_DATABASE"),
		SessionBackend: strings.ToLower(strings.TrimSpace(os.Getenv("SESSION_BACKEND"))),
		RedisAddr:      os.Getenv("REDIS_URL"),
		UploadDir:      os.Getenv("UPLOAD_DIR"),
		PublicBaseURL:  strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		LogLevel:       strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFormat:      strings.ToLower(os.Getenv("LOG_FORMAT")),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", defaultSessionTTL); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationEnv("REQUEST_TIMEOUT", defaultRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = int64Env("MAX_UPLOAD_BYTES", defaultMaxUploadBytes); err != nil {
		return nil, err
	}

	normalizeDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres driver")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI is required for the mongo driver")
		}
	default:
		return fmt.Errorf("config: unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.SessionBackend {
	case SessionBackendDatabase, SessionBackendRedis:
	default:
		return fmt.Errorf("config: unknown SESSION_BACKEND %q", c.SessionBackend)
	}

	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: REQUEST_TIMEOUT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}

	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func normalizeDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DriverSQLite
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = defaultSQLitePath
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = defaultMongoDatabase
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = SessionBackendDatabase
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = defaultRedisAddr
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return d, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return n, nil
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
