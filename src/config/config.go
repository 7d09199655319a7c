package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// MasterKeySize is the required size of the operator master key in bytes.
const MasterKeySize = 32

// Config holds all runtime configuration. Loaded once at startup; the
// master key lives here for the process lifetime and is never persisted.
type Config struct {
	Port        int
	Environment string
	LogLevel    string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime string
	DBConnMaxIdleTime string

	RedisURL string

	// MasterKey wraps every KEK at rest. Exactly 32 bytes.
	MasterKey []byte

	SessionDurationDays int
	UploadDir           string
	RateLimitPerMin     int
	CORSOrigins         []string
}

// LoadConfig reads configuration from the environment and fails fast on
// missing or malformed secrets.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_URL", "redis://127.0.0.1:6379")
	v.SetDefault("SESSION_DURATION_DAYS", 7)
	v.SetDefault("UPLOAD_DIR", "uploads/files")
	v.SetDefault("RATE_LIMIT_PER_MIN", 60)
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "10m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	databaseURL := v.GetString("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	masterKey, err := parseMasterKey(v.GetString("MASTER_KEY"))
	if err != nil {
		return nil, err
	}

	sessionDays := v.GetInt("SESSION_DURATION_DAYS")
	if sessionDays <= 0 {
		return nil, fmt.Errorf("SESSION_DURATION_DAYS must be positive")
	}

	return &Config{
		Port:                v.GetInt("PORT"),
		Environment:         v.GetString("APP_ENV"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		DatabaseURL:         databaseURL,
		DBMaxOpenConns:      v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:      v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime:   v.GetString("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime:   v.GetString("DB_CONN_MAX_IDLE_TIME"),
		RedisURL:            v.GetString("REDIS_URL"),
		MasterKey:           masterKey,
		SessionDurationDays: sessionDays,
		UploadDir:           v.GetString("UPLOAD_DIR"),
		RateLimitPerMin:     v.GetInt("RATE_LIMIT_PER_MIN"),
		CORSOrigins:         strings.Split(v.GetString("CORS_ORIGINS"), ","),
	}, nil
}

// parseMasterKey decodes and validates the operator master key.
// Generate with: openssl rand -hex 32
func parseMasterKey(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("MASTER_KEY must be set (generate with: openssl rand -hex 32)")
	}

	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("MASTER_KEY must be valid hexadecimal: %w", err)
	}

	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("MASTER_KEY must be exactly %d bytes (%d hex characters), got %d bytes",
			MasterKeySize, MasterKeySize*2, len(key))
	}

	return key, nil
}

// IsProduction reports whether the server runs with production hardening
// (Secure cookies, gin release mode).
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
