package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"equity-forecast/internal/config"
)

// ErrNotConfigured indicates the storage handle was not initialised.
var ErrNotConfigured = errors.New("storage: not configured")

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open returns the run store selected by cfg.Driver with its schema in
// place. An empty DSN disables persistence and yields a nil store.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (RunStore, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	var store RunStore
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		s, err := OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		store = s
	case "postgres", "":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = NewPostgresStore(pool)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Debug().Str("component", "storage").Str("driver", cfg.Driver).Msg("run store ready")
	return store, nil
}
