// Package store owns the on-disk index: schema, sessions, write batches,
// the ranked query, and usage counters. The daemon holds the only
// read-write session; clients open the same file read-only.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/novik133/novasearch/internal/classify"
)

var (
	// ErrNotAvailable means the index file does not exist yet.
	ErrNotAvailable = errors.New("index not available")
	// ErrSchemaTooNew means the index was written by a newer daemon.
	ErrSchemaTooNew = errors.New("index schema is newer than this build")
)

// schemaVersion is the version this build reads and writes. Migrations
// are linear and forward-only.
const schemaVersion = 1

const (
	metaSchemaVersion = "schema_version"
	// MetaLastFullScan records the Unix time the last full scan completed.
	MetaLastFullScan = "last_full_scan"
)

// FileRecord is one indexed filesystem object.
type FileRecord struct {
	ID           int64
	Path         string
	Filename     string
	Size         int64
	ModifiedTime int64
	FileType     classify.FileType
	IndexedTime  int64
}

// Result is a query row: the file record plus its launch count.
type Result struct {
	FileRecord
	LaunchCount int64
}

// Store is a session against the index file. ReadOnly sessions reject
// every write operation.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	size INTEGER NOT NULL DEFAULT 0,
	modified_time INTEGER NOT NULL DEFAULT 0,
	file_type TEXT NOT NULL DEFAULT 'Regular',
	indexed_time INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS usage_stats (
	file_id INTEGER PRIMARY KEY,
	launch_count INTEGER NOT NULL DEFAULT 0,
	last_launched INTEGER NOT NULL DEFAULT 0,

	FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_filename ON files(filename COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path COLLATE NOCASE);
`

func dsn(path string, readOnly bool) string {
	params := "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	if readOnly {
		params += "&_pragma=query_only(1)"
	}
	return path + params
}

// OpenReadWrite opens (creating if absent) the index at path, applies the
// schema, and upgrades older versions. The caller is the sole writer.
func OpenReadWrite(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing index without write access. It fails with
// ErrNotAvailable when the daemon has not produced an index yet, and
// retries with exponential backoff (100 ms doubling up to 1.6 s, five
// retries after the first attempt) while the file is reported busy or
// locked.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAvailable
		}
		return nil, fmt.Errorf("stat index: %w", err)
	}

	delay := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= 5; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		db, err := sql.Open("sqlite", dsn(path, true))
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("open index read-only: %w", err)
		}
		return &Store{db: db, path: path, readOnly: true}, nil
	}
	return nil, fmt.Errorf("open index read-only: %w", lastErr)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// migrate applies the schema and walks the version forward. A stored
// version newer than this build is fatal.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var stored int
	err := s.db.QueryRow(`SELECT CAST(value AS INTEGER) FROM metadata WHERE key = ?`, metaSchemaVersion).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		stored = 0
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if stored > schemaVersion {
		return fmt.Errorf("%w: index version %d, daemon supports %d (upgrade the daemon or delete the index)",
			ErrSchemaTooNew, stored, schemaVersion)
	}

	// Forward-only migrations land here as the schema evolves; version 0
	// (fresh file) needs only the version stamp.
	if stored < schemaVersion {
		if err := s.SetMeta(context.Background(), metaSchemaVersion, fmt.Sprintf("%d", schemaVersion)); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	}
	return nil
}

// Close releases the session. Read-write sessions checkpoint the WAL first.
func (s *Store) Close() error {
	if !s.readOnly {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// Path returns the index file path.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether this session rejects writes.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// SetMeta writes a metadata key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if s.readOnly {
		return fmt.Errorf("set metadata %s: session is read-only", key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMeta reads a metadata key; missing keys return the empty string.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Count returns the number of indexed files.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}

// PathsUnder returns the indexed paths lying under root, including root
// itself. The watcher uses it to synthesize recursive deletes when a
// directory disappears.
func (s *Store) PathsUnder(ctx context.Context, root string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM files WHERE path = ? OR substr(path, 1, ?) = ?
	`, root, len(root)+1, root+string(filepath.Separator))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
