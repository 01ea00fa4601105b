// Package store persists dataset images.
//
// Two interchangeable backends write the same dataset_images table: a pgx
// backend using COPY and a transaction-scoped advisory lock, and a GORM
// backend that runs on PostgreSQL or SQLite. Both implement core.ImageSink
// with failure-atomic replace-all semantics.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/captionset/internal/config"
	"github.com/JonMunkholm/captionset/internal/core"
)

// Database drivers accepted by OpenGorm.
const (
	DriverPostgres = config.DriverPostgres
	DriverSQLite   = config.DriverSQLite
)

// Store is a dataset image sink with read access and lifecycle hooks.
type Store interface {
	core.ImageSink
	ListImages(ctx context.Context, datasetID string, page core.Page) ([]core.ImageRecord, error)
	CountImages(ctx context.Context, datasetID string) (int64, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PGImageStore)(nil)
	_ Store = (*GormImageStore)(nil)
)

// Open connects the backend selected by cfg and verifies the connection.
// When cfg.AutoMigrate is set the schema is created before returning.
func Open(ctx context.Context, cfg config.DatabaseConfig, batchSize int) (Store, error) {
	var s Store

	switch cfg.Backend {
	case config.BackendPGX:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s = NewPGImageStore(pool)

	case config.BackendGorm:
		db, err := OpenGorm(cfg.Driver, cfg.URL)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil && cfg.Driver == DriverPostgres {
			sqlDB.SetMaxOpenConns(cfg.MaxConns)
			sqlDB.SetMaxIdleConns(cfg.MinConns)
			sqlDB.SetConnMaxLifetime(cfg.MaxConnLifetime)
			sqlDB.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
		}
		s = NewGormImageStore(db, batchSize)

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}

	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("database schema ready", "backend", cfg.Backend, "driver", cfg.Driver)
	}
	return s, nil
}

// openPool parses the URL and applies the pool limits from cfg.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}
