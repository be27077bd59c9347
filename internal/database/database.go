// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package database opens and configures the embedded DuckDB engine the
// audit, ticket, and alert stores run on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/sentineldesk/sentineldesk/internal/config"
	"github.com/sentineldesk/sentineldesk/internal/logging"
)

// DB wraps the DuckDB connection.
type DB struct {
	conn *sql.DB
}

// Open creates the database connection. The parent directory is created
// when missing; ":memory:" runs fully in-memory.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}

		// Auto-install/auto-load stays off: no extension downloads in
		// restricted network environments.
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&autoinstall_known_extensions=false&autoload_known_extensions=false",
			cfg.Path, runtime.NumCPU())
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("max_open_conns", maxOpen).Msg("database opened")
	return &DB{conn: conn}, nil
}

// Conn exposes the underlying connection for the stores.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks database health.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close database connection")
	}
}
