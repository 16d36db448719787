// Package scanner walks index roots and emits upsert operations for every
// included entry. Traversal yields cooperatively so a full scan stays
// within the configured CPU budget.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/novik133/novasearch/internal/classify"
	"github.com/novik133/novasearch/internal/store"
)

// yieldEvery is the number of directory entries between yield points.
const yieldEvery = 256

// maxWorkers bounds the per-root scan pool.
const maxWorkers = 4

// Config holds scanner configuration.
type Config struct {
	Policy        *classify.Policy
	MaxCPUPercent int
	Logger        func(format string, args ...any)
}

// Scanner performs depth-first traversals of index roots.
type Scanner struct {
	policy *classify.Policy
	maxCPU int
	log    func(format string, args ...any)
}

// New creates a Scanner with the given configuration.
func New(cfg Config) *Scanner {
	logFn := cfg.Logger
	if logFn == nil {
		logFn = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	maxCPU := cfg.MaxCPUPercent
	if maxCPU <= 0 || maxCPU > 100 {
		maxCPU = 100
	}
	return &Scanner{policy: cfg.Policy, maxCPU: maxCPU, log: logFn}
}

// ScanRoots traverses all roots with a bounded worker pool, min(roots, 4)
// wide, sending an Upsert for every included entry. It returns once every
// root has completed or the context is cancelled.
func (s *Scanner) ScanRoots(ctx context.Context, roots []string, out chan<- store.Op) error {
	if len(roots) == 0 {
		return nil
	}

	workers := len(roots)
	if workers > maxWorkers {
		workers = maxWorkers
	}

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for root := range work {
				s.scanRoot(ctx, root, out)
			}
		}()
	}

	for _, root := range roots {
		select {
		case work <- root:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()
	return ctx.Err()
}

// scanRoot walks a single root depth-first. Entry-level errors are logged
// and skipped; a missing or unreadable root is reported and the root
// skipped entirely.
func (s *Scanner) scanRoot(ctx context.Context, root string, out chan<- store.Op) {
	throttle := newThrottle(s.maxCPU)
	entries := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				s.log("scan: skipping root %s: %v", root, err)
				return filepath.SkipAll
			}
			s.log("scan: skipping %s: %v", path, err)
			return nil
		}

		entries++
		if entries%yieldEvery == 0 {
			if cancelled := throttle.yield(ctx); cancelled {
				return filepath.SkipAll
			}
		}
		select {
		case <-ctx.Done():
			return filepath.SkipAll
		default:
		}

		if d.IsDir() {
			if !s.policy.Included(path) && path != root {
				return filepath.SkipDir
			}
			// Directories are traversed but not materialized as rows;
			// the index carries launchable entries only.
			return nil
		}
		if !s.policy.Included(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.log("scan: stat %s: %v", path, err)
			return nil
		}

		rec := Record(path, info)
		select {
		case out <- store.Upsert(rec):
		case <-ctx.Done():
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		s.log("scan: walk %s: %v", root, err)
	}
}

// Record builds the index row for a stat'd path. Directories and symlinks
// carry size zero; a symlinked directory is recorded once as a Symlink,
// never traversed as a duplicate tree (WalkDir does not follow links).
func Record(path string, info fs.FileInfo) store.FileRecord {
	ft := classify.Classify(info)
	var size int64
	if ft == classify.Regular {
		size = info.Size()
	}
	return store.FileRecord{
		Path:         path,
		Filename:     filepath.Base(path),
		Size:         size,
		ModifiedTime: info.ModTime().Unix(),
		FileType:     ft,
		IndexedTime:  time.Now().Unix(),
	}
}

// throttle tracks the busy fraction since the last yield and sleeps long
// enough to keep it at or under the CPU budget.
type throttle struct {
	maxCPU int
	last   time.Time
}

func newThrottle(maxCPU int) *throttle {
	return &throttle{maxCPU: maxCPU, last: time.Now()}
}

// yield suspends the walk when the window's busy fraction exceeds the
// budget. It returns true when the context was cancelled, so callers can
// terminate within one window.
func (t *throttle) yield(ctx context.Context) bool {
	busy := time.Since(t.last)
	if t.maxCPU < 100 && busy > 0 {
		// Sleeping busy*(100-max)/max brings the window's utilization
		// down to max percent.
		pause := busy * time.Duration(100-t.maxCPU) / time.Duration(t.maxCPU)
		if pause > time.Second {
			pause = time.Second
		}
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return true
		}
	}
	t.last = time.Now()
	return ctx.Err() != nil
}
