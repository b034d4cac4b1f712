// Package store is the embedded transactional store: sessions, events,
// jobs, permission requests, and the process-wide settings singleton.
// It is openable concurrently by the main process and by PermissionBridge
// subprocesses against the same on-disk sqlite file (WAL mode).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/memva/memva-go/log"
)

// DB wraps a sql.DB connection opened against the memva sqlite file.
type DB struct {
	conn *sql.DB
	path string
}

var (
	global   *DB
	globalMu sync.RWMutex
)

// Open opens (and, for a fresh file, creates) the store at path, applies
// pending migrations, and registers it as the process-wide connection used
// by the package-level query helpers.
func Open(path string) (*DB, error) {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=-64000"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode supports multiple reader/writer processes (the main process
	// and any number of PermissionBridge subprocesses) against one file;
	// the connection pool only needs to serialize this process's own access.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	d := &DB{conn: conn, path: path}

	globalMu.Lock()
	global = d
	globalMu.Unlock()

	log.Info().Str("path", path).Msg("store opened")

	return d, nil
}

// Close closes the connection and, if this was the process-wide instance,
// clears it.
func (d *DB) Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == d {
		global = nil
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Conn returns the underlying *sql.DB.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// getConn returns the process-wide connection used by the package-level
// query helpers (Select, Run, ...). Panics if Open has not been called —
// the store is a process singleton with an explicit init phase, never a
// lazy global.
func getConn() *sql.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		panic("store: Open must be called before any query runs")
	}
	return global.conn
}

// Transaction runs fn inside a transaction against the process-wide
// connection, rolling back on error or panic.
func Transaction(fn func(*sql.Tx) error) error {
	return transactionOn(getConn(), fn)
}

// Transaction runs fn inside a transaction on this specific connection.
func (d *DB) Transaction(fn func(*sql.Tx) error) error {
	return transactionOn(d.conn, fn)
}

func transactionOn(conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		log.Info().Str("dir", dir).Msg("created data directory")
	}
	return nil
}
