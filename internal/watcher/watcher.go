// Package watcher turns kernel filesystem notifications into a normalized
// event stream for the indexed roots. New directories are watched before
// their contents are enumerated, and a deleted directory fans out into
// deletes for every previously indexed entry beneath it.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/novik133/novasearch/internal/classify"
)

// Kind represents the type of normalized event.
type Kind int

const (
	Created Kind = iota
	Modified
	Deleted
	Overflow
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	case Overflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// Event is one normalized filesystem change. An Overflow event carries no
// path and means the kernel dropped notifications; consumers must re-scan.
//
// The backend exposes no rename cookie, so a move is observed as a
// Deleted for the old path and a Created for the new one.
type Event struct {
	Kind Kind
	Path string
	Time time.Time
}

// Config holds configuration for the watcher.
type Config struct {
	Policy *classify.Policy
	// PathsUnder returns the indexed paths below a directory, used to
	// synthesize recursive deletes. Optional.
	PathsUnder func(ctx context.Context, root string) ([]string, error)
	Logger     func(format string, args ...any)
}

// Watcher subscribes to kernel events for a set of roots.
type Watcher struct {
	cfg Config
	log func(format string, args ...any)

	mu     sync.Mutex
	policy *classify.Policy
	fsw    *fsnotify.Watcher
	dirs   map[string]struct{} // directories currently watched
	closed bool
}

// New creates a watcher; Start must be called before events flow.
func New(cfg Config) (*Watcher, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("watcher: policy is required")
	}
	logFn := cfg.Logger
	if logFn == nil {
		logFn = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	return &Watcher{cfg: cfg, log: logFn, policy: cfg.Policy, dirs: make(map[string]struct{})}, nil
}

// SetPolicy swaps the include/exclude evaluator after a config reload.
func (w *Watcher) SetPolicy(p *classify.Policy) {
	w.mu.Lock()
	w.policy = p
	w.mu.Unlock()
}

func (w *Watcher) currentPolicy() *classify.Policy {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.policy
}

// Start subscribes to the given roots and returns the event channel. The
// channel is closed when the context is cancelled or the backend dies.
func (w *Watcher) Start(ctx context.Context, roots []string) (<-chan Event, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	for _, root := range roots {
		if err := w.addTree(root, nil); err != nil && !os.IsNotExist(err) {
			w.log("watch: root %s: %v", root, err)
		}
	}

	out := make(chan Event, 512)
	go w.eventLoop(ctx, fsw, out)
	return out, nil
}

// AddRoot extends the watch set with a new root's subtree.
func (w *Watcher) AddRoot(root string) error {
	return w.addTree(root, nil)
}

// RemoveRoot drops a root and every watched directory beneath it.
func (w *Watcher) RemoveRoot(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	for dir := range w.dirs {
		if dir == root || classify.UnderAny(dir, []string{root}) {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
}

// Close shuts down the watcher and releases kernel watches.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

// addTree watches root and all directories beneath it. When discovered is
// non-nil, every included file found during the walk is reported through
// it; this closes the window between a directory's creation and its
// watch, during which contents may have appeared unobserved.
func (w *Watcher) addTree(root string, discovered func(path string, d fs.DirEntry)) error {
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	policy := w.currentPolicy()
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if d.IsDir() {
			if path != root && !policy.Included(path) {
				return filepath.SkipDir
			}
			w.mu.Lock()
			if w.fsw != nil && !w.closed {
				if err := w.fsw.Add(path); err == nil {
					w.dirs[path] = struct{}{}
				} else {
					w.log("watch: add %s: %v", path, err)
				}
			}
			w.mu.Unlock()
			return nil
		}
		if discovered != nil && policy.Included(path) {
			discovered(path, d)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context, fsw *fsnotify.Watcher, out chan<- Event) {
	defer close(out)

	// Creates and deletes are never dropped: the send blocks and
	// backpressure reaches the kernel queue. Modifications may be shed
	// when the consumer lags; a later scan re-derives them.
	emit := func(evt Event, essential bool) {
		if essential {
			select {
			case out <- evt:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- evt:
		case <-ctx.Done():
		default:
			w.log("watch: shedding %s event for %s", evt.Kind, evt.Path)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case fsEvent, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, fsEvent, emit)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log("watch: kernel event queue overflowed")
				emit(Event{Kind: Overflow, Time: time.Now()}, true)
				continue
			}
			w.log("watch: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsEvent fsnotify.Event, emit func(Event, bool)) {
	path := filepath.Clean(fsEvent.Name)
	now := time.Now()
	policy := w.currentPolicy()

	// A rename surfaces as Rename on the old path with no cookie linking
	// it to the Create on the new path, so both halves are handled
	// independently.
	switch {
	case fsEvent.Op.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !policy.Included(path) {
				return
			}
			// Watch the subtree first, then enumerate it: files written
			// between mkdir and watch are picked up by the walk.
			err := w.addTree(path, func(p string, d fs.DirEntry) {
				emit(Event{Kind: Created, Path: p, Time: now}, true)
			})
			if err != nil {
				w.log("watch: new dir %s: %v", path, err)
			}
			return
		}
		if !policy.Included(path) {
			return
		}
		emit(Event{Kind: Created, Path: path, Time: now}, true)

	case fsEvent.Op.Has(fsnotify.Remove) || fsEvent.Op.Has(fsnotify.Rename):
		if !policy.Included(path) {
			return
		}
		w.mu.Lock()
		_, wasDir := w.dirs[path]
		if wasDir {
			for dir := range w.dirs {
				if dir == path || classify.UnderAny(dir, []string{path}) {
					delete(w.dirs, dir)
				}
			}
		}
		w.mu.Unlock()

		if wasDir && w.cfg.PathsUnder != nil {
			// The kernel reports only the directory itself; synthesize
			// deletes for the subtree from what the index holds.
			paths, err := w.cfg.PathsUnder(ctx, path)
			if err != nil {
				w.log("watch: subtree of %s: %v", path, err)
			}
			for _, p := range paths {
				emit(Event{Kind: Deleted, Path: p, Time: now}, true)
			}
			return
		}
		emit(Event{Kind: Deleted, Path: path, Time: now}, true)

	case fsEvent.Op.Has(fsnotify.Write):
		if !policy.Included(path) {
			return
		}
		emit(Event{Kind: Modified, Path: path, Time: now}, false)
	}
}
