package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// DB wraps a single SQLite connection. Every call holds mu for the duration of
// one statement, so the HTTP handlers and the peer engine never interleave on
// the connection.
type DB struct {
	mu sync.Mutex
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and applies the schema.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	// Single writer from here on.
	sqlDB.SetMaxOpenConns(1)
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate applies the embedded goose migrations.
func (d *DB) migrate() error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, d.db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// --- Manifests ---

// UpsertManifest stores the manifest JSON under id, replacing any previous row.
func (d *DB) UpsertManifest(id string, manifest []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO manifests (id, manifest) VALUES (?, ?)`,
		id, string(manifest),
	)
	if err != nil {
		return fmt.Errorf("upsert manifest: %w", err)
	}
	return nil
}

// GetManifest returns the manifest JSON stored under id.
func (d *DB) GetManifest(id string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var manifest string
	err := d.db.QueryRow(`SELECT manifest FROM manifests WHERE id = ?`, id).Scan(&manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get manifest: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return []byte(manifest), nil
}

// --- Config KV ---

// GetConfig returns the value stored under key.
func (d *DB) GetConfig(key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var value string
	err := d.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get config %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig stores value under key.
func (d *DB) SetConfig(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// --- Local keys ---

// GetLocalKey returns the key blob stored in slot name.
func (d *DB) GetLocalKey(name string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var key []byte
	err := d.db.QueryRow(`SELECT key FROM local_keys WHERE name = ?`, name).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get local key %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get local key %q: %w", name, err)
	}
	return key, nil
}

// SetLocalKey stores key in slot name. An existing row keeps its created_ts.
func (d *DB) SetLocalKey(name string, key []byte, createdTS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(
		`INSERT INTO local_keys (name, key, created_ts) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET key = excluded.key`,
		name, key, createdTS,
	)
	if err != nil {
		return fmt.Errorf("set local key %q: %w", name, err)
	}
	return nil
}
