// Package nvs is a namespace-scoped key/value store that survives reboots.
// Every write is committed with synchronous=FULL before it returns.
package nvs

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key has never been written or was erased.
var ErrNotFound = errors.New("nvs: key not found")

// Store handles persistence of device state to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create nvs directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open nvs db: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
		PRIMARY KEY (namespace, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Namespace returns a handle scoped to name.
func (s *Store) Namespace(name string) *Namespace {
	return &Namespace{store: s, name: name}
}

// Namespace groups keys so unrelated components cannot collide.
type Namespace struct {
	store *Store
	name  string
}

func (n *Namespace) Name() string { return n.name }

// Get returns the raw value stored under key.
func (n *Namespace) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := n.store.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE namespace = ? AND key = ?`, n.name, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nvs get %s/%s: %w", n.name, key, err)
	}
	return v, nil
}

// GetU32 returns the 32-bit value stored under key.
func (n *Namespace) GetU32(ctx context.Context, key string) (uint32, error) {
	v, err := n.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("nvs %s/%s: stored value is %d bytes, want 4", n.name, key, len(v))
	}
	return binary.LittleEndian.Uint32(v), nil
}

// Update applies fn in a single transaction; all writes become durable
// together or not at all.
func (n *Namespace) Update(ctx context.Context, fn func(tx *Txn) error) error {
	sqlTx, err := n.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("nvs begin: %w", err)
	}

	if err := fn(&Txn{ctx: ctx, tx: sqlTx, ns: n.name}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("nvs commit: %w", err)
	}
	return nil
}

// SetU32 durably stores v under key.
func (n *Namespace) SetU32(ctx context.Context, key string, v uint32) error {
	return n.Update(ctx, func(tx *Txn) error { return tx.SetU32(key, v) })
}

// Erase removes key. Erasing a missing key is not an error.
func (n *Namespace) Erase(ctx context.Context, key string) error {
	return n.Update(ctx, func(tx *Txn) error { return tx.Erase(key) })
}

// Txn stages writes inside Namespace.Update.
type Txn struct {
	ctx context.Context
	tx  *sql.Tx
	ns  string
}

func (t *Txn) Set(key string, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO entries (namespace, key, value, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`, t.ns, key, value)
	if err != nil {
		return fmt.Errorf("nvs set %s/%s: %w", t.ns, key, err)
	}
	return nil
}

func (t *Txn) SetU32(key string, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return t.Set(key, buf[:])
}

func (t *Txn) Erase(key string) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM entries WHERE namespace = ? AND key = ?`, t.ns, key); err != nil {
		return fmt.Errorf("nvs erase %s/%s: %w", t.ns, key, err)
	}
	return nil
}
