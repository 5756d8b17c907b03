// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Schema is the kv table the SQLite store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

const (
	sqlGet    = `SELECT value FROM kv WHERE key = ?`
	sqlUpsert = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	sqlDelete = `DELETE FROM kv WHERE key = ?`
)

// SQLite is a Store backed by a single SQLite table. Multi-key writes run
// in one transaction.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, wrap("open", fmt.Errorf("failed to create database directory: %w", err), path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", fmt.Errorf("failed to open database: %w", err), path)
	}

	// SQLite has a single writer; one connection keeps writes serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, wrap("open", fmt.Errorf("failed to set pragma: %w", err), path)
		}
	}

	s := NewSQLite(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an existing database handle. Call Migrate before use
// unless the schema is known to exist.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

// Migrate creates the kv table when missing.
func (s *SQLite) Migrate() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return wrap("migrate", fmt.Errorf("failed to initialize schema: %w", err))
	}
	return nil
}

func (s *SQLite) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(sqlGet, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", err, key)
	}
	return value, true, nil
}

func (s *SQLite) Set(key string, value []byte) error {
	if _, err := s.db.Exec(sqlUpsert, key, value, s.now().UnixNano()); err != nil {
		return wrap("set", err, key)
	}
	return nil
}

func (s *SQLite) SetMany(values map[string][]byte) error {
	keys := sortedKeys(values)
	now := s.now().UnixNano()
	return s.inTx("set", keys, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(sqlUpsert, k, values[k], now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) Delete(key string) error {
	if _, err := s.db.Exec(sqlDelete, key); err != nil {
		return wrap("delete", err, key)
	}
	return nil
}

func (s *SQLite) DeleteMany(keys ...string) error {
	return s.inTx("delete", keys, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(sqlDelete, k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) inTx(op string, keys []string, fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrap(op, fmt.Errorf("failed to begin transaction: %w", err), keys...)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrap(op, err, keys...)
	}
	if err := tx.Commit(); err != nil {
		return wrap(op, fmt.Errorf("failed to commit: %w", err), keys...)
	}
	return nil
}
