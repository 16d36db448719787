package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
)

// OpKind discriminates batch operations.
type OpKind int

const (
	OpUpsert OpKind = iota
	OpDelete
	OpRename
)

// String returns the string representation of OpKind.
func (k OpKind) String() string {
	switch k {
	case OpUpsert:
		return "Upsert"
	case OpDelete:
		return "Delete"
	case OpRename:
		return "Rename"
	default:
		return "Unknown"
	}
}

// Op is one element of a write batch.
type Op struct {
	Kind    OpKind
	Record  FileRecord // Upsert, Rename (the new record)
	Path    string     // Delete
	OldPath string     // Rename
}

// Upsert builds an insert-or-update operation for a file record.
func Upsert(rec FileRecord) Op {
	return Op{Kind: OpUpsert, Record: rec}
}

// Delete builds a removal operation for a path.
func Delete(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// Rename builds a move operation from oldPath to the new record's path.
func Rename(oldPath string, rec FileRecord) Op {
	return Op{Kind: OpRename, OldPath: oldPath, Record: rec}
}

// Key returns the path a pending op is keyed by when coalescing.
func (op Op) Key() string {
	if op.Kind == OpDelete {
		return op.Path
	}
	return op.Record.Path
}

// ApplyBatch commits the operations atomically. Deletes run before
// upserts so a delete and re-create of the same path nets out to the new
// row. A rename updates the existing row in place, preserving its id
// (and therefore its usage stats); when the old path has no row it
// degrades to a plain upsert. On failure the batch is retried once; if the
// retry fails too, its error is returned to the caller (the coalescer
// restores the operations and retries them on a later flush).
func (s *Store) ApplyBatch(ctx context.Context, ops []Op) error {
	if s.readOnly {
		return fmt.Errorf("apply batch: session is read-only")
	}
	if len(ops) == 0 {
		return nil
	}

	err := s.applyOnce(ctx, ops)
	if err == nil {
		return nil
	}
	retryErr := s.applyOnce(ctx, ops)
	if retryErr == nil {
		return nil
	}
	return fmt.Errorf("apply batch of %d: %w", len(ops), retryErr)
}

func (s *Store) applyOnce(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, op := range ops {
		if op.Kind != OpDelete {
			continue
		}
		if err := txDelete(ctx, tx, op.Path); err != nil {
			return err
		}
	}
	for _, op := range ops {
		switch op.Kind {
		case OpRename:
			if err := txRename(ctx, tx, op.OldPath, op.Record); err != nil {
				return err
			}
		case OpUpsert:
			if err := txUpsert(ctx, tx, op.Record); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func txUpsert(ctx context.Context, tx execer, rec FileRecord) error {
	rec.Filename = filepath.Base(rec.Path)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO files (filename, path, size, modified_time, file_type, indexed_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			size = excluded.size,
			modified_time = excluded.modified_time,
			file_type = excluded.file_type,
			indexed_time = excluded.indexed_time
	`, rec.Filename, rec.Path, rec.Size, rec.ModifiedTime, string(rec.FileType), rec.IndexedTime)
	return err
}

func txDelete(ctx context.Context, tx execer, path string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	return err
}

func txRename(ctx context.Context, tx execer, oldPath string, rec FileRecord) error {
	rec.Filename = filepath.Base(rec.Path)

	// Clear any row already at the destination, then move the old row so
	// its id survives.
	if err := txDelete(ctx, tx, rec.Path); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE files SET
			filename = ?, path = ?, size = ?, modified_time = ?, file_type = ?, indexed_time = ?
		WHERE path = ?
	`, rec.Filename, rec.Path, rec.Size, rec.ModifiedTime, string(rec.FileType), rec.IndexedTime, oldPath)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return txUpsert(ctx, tx, rec)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
