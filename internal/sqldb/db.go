// Package sqldb provides the database/sql access layer shared by the
// extraction engine and the product store.
//
// Two engines are supported behind the same DBTX interface:
//
//   - PostgreSQL through a pgx connection pool exposed as *sql.DB
//   - SQLite through the pure-Go modernc driver, used for embedded
//     deployments and for tests
//
// SQL text built by this package is dialect aware (placeholders, limits,
// "table absent" detection) and never interpolates values: every value
// travels as a bound argument, every identifier is quoted.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/extraction/internal/config"
)

// DBTX is the interface for database operations.
// Satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB couples a connection pool with the dialect used to talk to it.
type DB struct {
	*sql.DB
	Dialect Dialect

	pool *pgxpool.Pool // nil for sqlite
}

// Open connects to the configured database engine.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return OpenSQLite(cfg.URL)
	case "postgres", "":
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// OpenPostgres creates a pgx pool configured from cfg and exposes it through
// database/sql.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
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

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{
		DB:      stdlib.OpenDBFromPool(pool),
		Dialect: Postgres,
		pool:    pool,
	}, nil
}

// OpenSQLite opens (or creates) the SQLite database at path.
// Accepts a plain file path or a "file:" URI.
func OpenSQLite(path string) (*DB, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = "file:" + path
	}
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &DB{DB: conn, Dialect: SQLite}, nil
}

// Close releases the database handle and the underlying pool.
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	return err
}
