// Package state provides a small bucketed key/value store on SQLite.
//
// Warden keeps its rule sources (user block and white records, app flags,
// DNS settings) and the installed policy of the local backend in buckets.
// The pure Go modernc.org/sqlite driver keeps the binary CGO-free.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Common errors
var (
	ErrNotFound      = errors.New("key not found")
	errBucketExists  = errors.New("bucket already exists")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

// entry is a stored value with its write timestamp.
type entry struct {
	Value     []byte
	UpdatedAt time.Time
}

// Store is the key/value interface consumed by the rest of warden.
type Store interface {
	// Bucket operations
	EnsureBucket(name string) error
	ListBuckets() ([]string, error)

	// Key-value operations
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	SetBatch(bucket string, entries map[string][]byte) error
	Delete(bucket, key string) error
	Clear(bucket string) error
	List(bucket string) (map[string][]byte, error)
	ListKeys(bucket string) ([]string, error)
	Count(bucket string) (int, error)

	// Typed helpers
	GetJSON(bucket, key string, v any) error
	SetJSON(bucket, key string, v any) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	clock  clock.Clock
}

// Options configures the SQLite store.
type Options struct {
	Path    string      // Database file path (":memory:" for in-memory)
	WALMode bool        // Enable WAL mode for better concurrency
	Clock   clock.Clock // Optional: time source (defaults to clock.Real)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:    path,
		WALMode: true,
	}
}

// NewSQLiteStore opens (or creates) a SQLite-backed store.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers, which is all this store needs.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{
		db:    db,
		clock: clock.OrReal(opts.Clock),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (bucket, key)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// createBucket creates a new bucket, failing with errBucketExists if it is already there.
func (s *SQLiteStore) createBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	res, err := s.db.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", name, s.clock.Now())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errBucketExists
	}
	return nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *SQLiteStore) EnsureBucket(name string) error {
	if err := s.createBucket(name); err != nil && !errors.Is(err, errBucketExists) {
		return err
	}
	return nil
}

// ListBuckets returns all bucket names.
func (s *SQLiteStore) ListBuckets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT name FROM buckets ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		buckets = append(buckets, name)
	}
	return buckets, rows.Err()
}

// Get retrieves a value by bucket and key.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	e, err := s.getWithMeta(bucket, key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (s *SQLiteStore) getWithMeta(bucket, key string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var e entry
	err := s.db.QueryRow(
		"SELECT value, updated_at FROM entries WHERE bucket = ? AND key = ?",
		bucket, key,
	).Scan(&e.Value, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Set stores a value in an existing bucket.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	return s.SetBatch(bucket, map[string][]byte{key: value})
}

// SetBatch stores several values in one transaction.
func (s *SQLiteStore) SetBatch(bucket string, entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := bucketExistsTx(tx, bucket); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entries (bucket, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.clock.Now()
	for key, value := range entries {
		if value == nil {
			value = []byte{}
		}
		if _, err := stmt.Exec(bucket, key, value, now); err != nil {
			return fmt.Errorf("failed to set %s/%s: %w", bucket, key, err)
		}
	}
	return tx.Commit()
}

func bucketExistsTx(tx *sql.Tx, bucket string) error {
	var one int
	err := tx.QueryRow("SELECT 1 FROM buckets WHERE name = ?", bucket).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBucketMissing
	}
	return err
}

// Delete removes a key.
func (s *SQLiteStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec("DELETE FROM entries WHERE bucket = ? AND key = ?", bucket, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every entry of a bucket but keeps the bucket.
func (s *SQLiteStore) Clear(bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec("DELETE FROM entries WHERE bucket = ?", bucket)
	return err
}

// List returns all key/value pairs of a bucket.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT key, value FROM entries WHERE bucket = ?", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

// ListKeys returns the keys of a bucket in ascending order.
func (s *SQLiteStore) ListKeys(bucket string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT key FROM entries WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Count returns the number of entries in a bucket.
func (s *SQLiteStore) Count(bucket string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE bucket = ?", bucket).Scan(&n)
	return n, err
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *SQLiteStore) GetJSON(bucket, key string, v any) error {
	data, err := s.Get(bucket, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON marshals and stores a value as JSON.
func (s *SQLiteStore) SetJSON(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", bucket, key, err)
	}
	return s.Set(bucket, key, data)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
