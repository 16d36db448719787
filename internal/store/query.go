package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/novik133/novasearch/internal/classify"
)

// DefaultLimit replaces non-positive query limits.
const DefaultLimit = 50

// rankedQuery is the documented ranking contract. Clients reading the
// index directly must use the same shape to obtain this ordering:
// tier (exact, prefix, substring), then launch count descending, then
// filename case-insensitively ascending.
const rankedQuery = `
SELECT f.id, f.filename, f.path, f.size, f.modified_time, f.file_type, f.indexed_time,
       COALESCE(u.launch_count, 0) AS launches
FROM files f
LEFT JOIN usage_stats u ON u.file_id = f.id
WHERE f.filename LIKE '%' || ? || '%' COLLATE NOCASE
ORDER BY
	CASE
		WHEN f.filename = ? COLLATE NOCASE THEN 0
		WHEN f.filename LIKE ? || '%' COLLATE NOCASE THEN 1
		ELSE 2
	END,
	launches DESC,
	f.filename COLLATE NOCASE ASC
LIMIT ?`

// Query runs a ranked case-insensitive substring match on filenames.
// An empty q returns no rows. A non-positive limit becomes DefaultLimit.
func (s *Store) Query(ctx context.Context, q string, limit int) ([]Result, error) {
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, rankedQuery, q, q, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", q, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var ft string
		if err := rows.Scan(&r.ID, &r.Filename, &r.Path, &r.Size, &r.ModifiedTime, &ft, &r.IndexedTime, &r.LaunchCount); err != nil {
			return nil, err
		}
		r.FileType = fileTypeFrom(ft)
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordLaunch increments the launch counter for the file at path,
// creating the stat row on first launch. Unindexed paths are a no-op.
// Keying by the file's current id at launch time keeps counts attached
// to the row the user actually launched.
func (s *Store) RecordLaunch(ctx context.Context, path string) error {
	if s.readOnly {
		return fmt.Errorf("record launch: session is read-only")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_stats (file_id, launch_count, last_launched)
		SELECT id, 1, ? FROM files WHERE path = ?
		ON CONFLICT(file_id) DO UPDATE SET
			launch_count = launch_count + 1,
			last_launched = excluded.last_launched
	`, time.Now().Unix(), path)
	if err != nil {
		return fmt.Errorf("record launch %s: %w", path, err)
	}
	return nil
}

// LaunchCount returns the launch counter for path, zero when absent.
func (s *Store) LaunchCount(ctx context.Context, path string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(u.launch_count, 0)
		FROM files f LEFT JOIN usage_stats u ON u.file_id = f.id
		WHERE f.path = ?
	`, path).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// VacuumStale deletes rows whose path no longer lies under any of the
// given roots. Invoked by the supervisor when roots are removed from the
// configuration. Returns the number of rows removed.
func (s *Store) VacuumStale(ctx context.Context, roots []string) (int64, error) {
	if s.readOnly {
		return 0, fmt.Errorf("vacuum stale: session is read-only")
	}
	if len(roots) == 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM files`)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	var conds []string
	var args []any
	for _, root := range roots {
		conds = append(conds, `(path = ? OR substr(path, 1, ?) = ?)`)
		args = append(args, root, len(root)+1, root+string(filepath.Separator))
	}
	stmt := `DELETE FROM files WHERE NOT (` + strings.Join(conds, " OR ") + `)`
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("vacuum stale: %w", err)
	}
	return res.RowsAffected()
}

// DeleteWhere removes rows whose path the predicate reports as stale
// (returns true for). Used for
// re-classification after exclude patterns change. Returns the paths
// removed.
func (s *Store) DeleteWhere(ctx context.Context, stale func(path string) bool) ([]string, error) {
	if s.readOnly {
		return nil, fmt.Errorf("delete where: session is read-only")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files`)
	if err != nil {
		return nil, err
	}
	var doomed []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		if stale(p) {
			doomed = append(doomed, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(doomed) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, p := range doomed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, p); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doomed, nil
}

func fileTypeFrom(s string) classify.FileType {
	switch s {
	case string(classify.Directory):
		return classify.Directory
	case string(classify.Symlink):
		return classify.Symlink
	default:
		return classify.Regular
	}
}
