package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/config"
)

// DB holds the database connection pool.
type DB struct {
	*sqlx.DB
	logger *logrus.Logger
}

// NewPostgresConnection creates a new PostgreSQL connection pool.
// Fails fast if the connection cannot be established.
func NewPostgresConnection(cfg *config.Config, logger *logrus.Logger) (*DB, error) {
	logger.Info("Connecting to PostgreSQL...")

	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)

	if d, err := time.ParseDuration(cfg.DBConnMaxLifetime); err == nil {
		db.SetConnMaxLifetime(d)
	} else {
		logger.Warnf("Invalid DB_CONN_MAX_LIFETIME '%s', using default 5m", cfg.DBConnMaxLifetime)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTime); err == nil {
		db.SetConnMaxIdleTime(d)
	} else {
		logger.Warnf("Invalid DB_CONN_MAX_IDLE_TIME '%s', using default 10m", cfg.DBConnMaxIdleTime)
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database (fail-fast): %w", err)
	}

	logger.Info("PostgreSQL connection established")

	return &DB{DB: db, logger: logger}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	db.logger.Info("Closing PostgreSQL connection...")
	return db.DB.Close()
}

// HealthCheck verifies the database connection is still alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		db.logger.WithError(err).Error("PostgreSQL health check failed")
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
