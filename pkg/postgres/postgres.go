// Package postgres opens the authoritative store connection and keeps its
// schema current.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jmoiron/sqlx"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Option tunes the connection pool of a freshly opened handle.
type Option func(*sqlx.DB)

func WithConnMaxIdleTime(d time.Duration) Option {
	return func(db *sqlx.DB) {
		db.SetConnMaxIdleTime(d)
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(db *sqlx.DB) {
		db.SetConnMaxLifetime(d)
	}
}

func WithMaxIdleConns(n int) Option {
	return func(db *sqlx.DB) {
		db.SetMaxIdleConns(n)
	}
}

func WithMaxOpenConns(n int) Option {
	return func(db *sqlx.DB) {
		db.SetMaxOpenConns(n)
	}
}

// poolDefaults are the pool settings applied before any caller options.
func poolDefaults() []Option {
	return []Option{
		WithConnMaxIdleTime(5 * time.Minute),
		WithConnMaxLifetime(30 * time.Minute),
		WithMaxIdleConns(5),
		WithMaxOpenConns(25),
	}
}

// New opens a PostgreSQL handle through the pgx stdlib driver and verifies it
// with a ping. Caller options override the pool defaults.
func New(ctx context.Context, dsn string, opts ...Option) (*sqlx.DB, error) {
	const op = "postgres.New"

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}

	for _, opt := range append(poolDefaults(), opts...) {
		opt(db)
	}

	return db, nil
}

// RunMigrations applies every pending migration from the SQL files in dir.
// A schema that is already current is not an error.
func RunMigrations(dir, dsn string) error {
	const op = "postgres.RunMigrations"

	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("%s: failed to initialize migrations: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: failed to apply migrations: %w", op, err)
	}

	return nil
}
