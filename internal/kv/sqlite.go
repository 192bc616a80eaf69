package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_values (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS kv_lists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	value BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_lists_key ON kv_lists(key, id);
CREATE TABLE IF NOT EXISTS kv_list_meta (
	key TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS kv_streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stream TEXT NOT NULL,
	fields TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_streams_stream ON kv_streams(stream, id);
`

// SQLiteStore is a durable single-node Store backed by an SQLite file.
// Expiry is stored as unix milliseconds (0 = never) and enforced on read.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("kv: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create kv dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open kv db: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply kv schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetClock replaces the time source (tests).
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

func (s *SQLiteStore) nowMillis() int64 { return s.now().UnixMilli() }

func (s *SQLiteStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_values WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	if expiresAt != 0 && expiresAt <= s.nowMillis() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_values WHERE key = ? AND expires_at = ?`, key, expiresAt)
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_values (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// dropExpiredList removes the list at key when its expiry has passed.
func (s *SQLiteStore) dropExpiredList(ctx context.Context, q querier, key string) error {
	var expiresAt int64
	err := q.QueryRowContext(ctx, `SELECT expires_at FROM kv_list_meta WHERE key = ?`, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if expiresAt == 0 || expiresAt > s.nowMillis() {
		return nil
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM kv_lists WHERE key = ?`, key); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `DELETE FROM kv_list_meta WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) PushCapped(ctx context.Context, key string, value []byte, capacity int, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv push %s: %w", key, err)
	}
	defer tx.Rollback()

	if err := s.dropExpiredList(ctx, tx, key); err != nil {
		return fmt.Errorf("kv push %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO kv_lists (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("kv push %s: %w", key, err)
	}
	if capacity > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM kv_lists WHERE key = ? AND id NOT IN (
				SELECT id FROM kv_lists WHERE key = ? ORDER BY id DESC LIMIT ?
			)
		`, key, key, capacity)
		if err != nil {
			return fmt.Errorf("kv trim %s: %w", key, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_list_meta (key, expires_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
	`, key, s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("kv expire %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Range(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	if err := s.dropExpiredList(ctx, s.db, key); err != nil {
		return nil, fmt.Errorf("kv range %s: %w", key, err)
	}
	if start < 0 {
		start = 0
	}
	limit := -1
	if stop >= 0 {
		if stop < start {
			return nil, nil
		}
		limit = stop - start + 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM kv_lists WHERE key = ? ORDER BY id DESC LIMIT ? OFFSET ?`, key, limit, start)
	if err != nil {
		return nil, fmt.Errorf("kv range %s: %w", key, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("kv range %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Len(ctx context.Context, key string) (int64, error) {
	if err := s.dropExpiredList(ctx, s.db, key); err != nil {
		return 0, fmt.Errorf("kv len %s: %w", key, err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_lists WHERE key = ?`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("kv len %s: %w", key, err)
	}
	return n, nil
}

func (s *SQLiteStore) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("kv append %s: %w", stream, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_streams (stream, fields, created_at) VALUES (?, ?, ?)`, stream, string(encoded), s.nowMillis()); err != nil {
		return fmt.Errorf("kv append %s: %w", stream, err)
	}
	if maxLen > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM kv_streams WHERE stream = ? AND id NOT IN (
				SELECT id FROM kv_streams WHERE stream = ? ORDER BY id DESC LIMIT ?
			)
		`, stream, stream, maxLen)
		if err != nil {
			return fmt.Errorf("kv trim stream %s: %w", stream, err)
		}
	}
	return nil
}

// StreamLen returns the number of entries held in stream.
func (s *SQLiteStore) StreamLen(ctx context.Context, stream string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_streams WHERE stream = ?`, stream).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }
