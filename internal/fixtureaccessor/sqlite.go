// Package fixtureaccessor implements a sqlite-backed loader.Accessor
// for local demos and tests that need tileset content without a live
// HTTP endpoint: tileset.json, subtree, and tile-content bytes are
// seeded into a single-file sqlite database keyed by URL and served
// back byte-for-byte on Fetch. Grounded on
// internal/persistence/indexdb.OpenSQLite's modernc.org/sqlite
// connection setup (single connection, WAL, busy-timeout pragmas) and
// schema-init style, repurposed here from a write-append audit index
// into a read-only keyed asset store.
package fixtureaccessor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Accessor serves fixture bytes from a sqlite database. It implements
// internal/loader.Accessor.
type Accessor struct {
	db *sql.DB
}

// Open creates (if absent) and opens the fixture database at path.
func Open(path string) (*Accessor, error) {
	if path == "" {
		return nil, fmt.Errorf("fixtureaccessor: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer connection avoids sqlite's lock-contention
	// surprises for what is meant to be a small local fixture store, not
	// a production content store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Accessor{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("fixtureaccessor: pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS assets (
		url TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("fixtureaccessor: init schema: %w", err)
	}
	return nil
}

// PutAsset seeds or overwrites a fixture entry, for test setup.
func (a *Accessor) PutAsset(ctx context.Context, url, contentType string, data []byte) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO assets (url, content_type, data) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET content_type = excluded.content_type, data = excluded.data`,
		url, contentType, data)
	return err
}

// Fetch implements internal/loader.Accessor: a URL not present in the
// store is reported as a 404, matching how a real HTTP accessor reports
// a missing object rather than returning a Go error for it.
func (a *Accessor) Fetch(ctx context.Context, url string) ([]byte, string, int, error) {
	var contentType string
	var data []byte
	err := a.db.QueryRowContext(ctx, `SELECT content_type, data FROM assets WHERE url = ?`, url).Scan(&contentType, &data)
	if err == sql.ErrNoRows {
		return nil, "", 404, nil
	}
	if err != nil {
		return nil, "", 0, fmt.Errorf("fixtureaccessor: fetch %s: %w", url, err)
	}
	return data, contentType, 200, nil
}

// Close releases the underlying sqlite connection.
func (a *Accessor) Close() error {
	return a.db.Close()
}
