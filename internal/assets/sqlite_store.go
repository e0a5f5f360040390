package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assets (
	key       TEXT PRIMARY KEY,
	data      BLOB NOT NULL,
	size      INTEGER NOT NULL,
	digest    TEXT NOT NULL,
	stored_at INTEGER NOT NULL
)`

// SQLiteStore keeps every asset as one row of a single-file database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (creating when needed) the asset database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create asset cache directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers; each upsert is a single statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init asset schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Has(ctx context.Context, key Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM assets WHERE key = ?`, string(key)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup asset %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM assets WHERE key = ?`, string(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", key, err)
	}
	return data, nil
}

func (s *SQLiteStore) Meta(ctx context.Context, key Key) (Meta, error) {
	var (
		meta     Meta
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT size, digest, stored_at FROM assets WHERE key = ?`, string(key)).
		Scan(&meta.Size, &meta.Digest, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, fmt.Errorf("read asset meta %s: %w", key, err)
	}
	meta.StoredAt = time.Unix(0, storedAt).UTC()
	return meta, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, data []byte) (Meta, error) {
	meta := Meta{Size: int64(len(data)), Digest: Digest(data), StoredAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO assets (key, data, size, digest, stored_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	data = excluded.data,
	size = excluded.size,
	digest = excluded.digest,
	stored_at = excluded.stored_at`,
		string(key), data, meta.Size, meta.Digest, meta.StoredAt.UnixNano())
	if err != nil {
		return Meta{}, fmt.Errorf("write asset %s: %w", key, err)
	}
	return meta, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE key = ?`, string(key)); err != nil {
		return fmt.Errorf("delete asset %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
