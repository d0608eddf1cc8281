package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrQuotaExceeded reports that a write would push the store past its byte
// budget. Callers are expected to shed data and retry rather than fail.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// DefaultQuotaBytes mirrors the small budget of the browser storage the
// original tool persisted into.
const DefaultQuotaBytes = 5 << 20

// Storage is a small, quota-limited, string-valued key-value medium.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	UsedBytes(ctx context.Context) (int64, error)
	QuotaBytes() int64
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLStorage is the sqlite-backed Storage used outside tests.
type SQLStorage struct {
	db    *sql.DB
	quota int64
}

func OpenStorage(dbPath string, quotaBytes int64) (*SQLStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}

	return &SQLStorage{db: db, quota: quotaBytes}, nil
}

// DefaultStoragePath returns the per-user location of the session store.
func DefaultStoragePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".refuturo", "sessions.db"), nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) QuotaBytes() int64 {
	return s.quota
}

func (s *SQLStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Put writes value under key, enforcing the byte budget across all keys.
func (s *SQLStorage) Put(ctx context.Context, key, value string) error {
	var otherBytes int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM kv WHERE key != ?`, key).Scan(&otherBytes)
	if err != nil {
		return err
	}

	if otherBytes+int64(len(value)) > s.quota {
		return fmt.Errorf("%w: %d bytes needed, %d available", ErrQuotaExceeded,
			len(value), s.quota-otherBytes)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

func (s *SQLStorage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLStorage) UsedBytes(ctx context.Context) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(value)), 0) FROM kv`).Scan(&used)
	return used, err
}

// MemStorage is an in-memory Storage for tests. Like SQLStorage it must
// tolerate the debounced saver writing from a timer goroutine while the
// foreground reads.
type MemStorage struct {
	mu    sync.RWMutex
	m     map[string]string
	quota int64
}

func NewMemStorage(quotaBytes int64) *MemStorage {
	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}
	return &MemStorage{
		m:     make(map[string]string),
		quota: quotaBytes,
	}
}

func (s *MemStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.m[key]
	return value, ok, nil
}

func (s *MemStorage) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var otherBytes int64
	for k, v := range s.m {
		if k != key {
			otherBytes += int64(len(v))
		}
	}
	if otherBytes+int64(len(value)) > s.quota {
		return fmt.Errorf("%w: %d bytes needed, %d available", ErrQuotaExceeded,
			len(value), s.quota-otherBytes)
	}
	s.m[key] = value
	return nil
}

func (s *MemStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemStorage) UsedBytes(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var used int64
	for _, v := range s.m {
		used += int64(len(v))
	}
	return used, nil
}

func (s *MemStorage) QuotaBytes() int64 {
	return s.quota
}

func (s *MemStorage) Close() error {
	return nil
}
