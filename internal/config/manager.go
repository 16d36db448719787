package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the manager waits after a config-file change
// before reloading. Deliberately much longer than the filesystem-event
// debounce: editors rewrite the file several times per save, and a
// re-index is expensive.
const reloadDebounce = 10 * time.Second

// Manager owns the live configuration snapshot and reloads it when the
// file changes. Components receive new snapshots by atomic swap; a
// malformed file keeps the previous snapshot in place.
type Manager struct {
	path string
	cur  atomic.Pointer[Config]
	log  func(format string, args ...any)
}

// NewManager creates a manager serving the given initial snapshot.
func NewManager(path string, initial *Config, logFn func(format string, args ...any)) *Manager {
	if logFn == nil {
		logFn = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	m := &Manager{path: path, log: logFn}
	m.cur.Store(initial)
	return m
}

// Current returns the live snapshot.
func (m *Manager) Current() *Config {
	return m.cur.Load()
}

// Watch monitors the config file and emits a Diff whenever a reload
// changes the indexed set. Changes confined to sections the daemon does
// not act on (such as [ui]) swap the snapshot without emitting. The
// returned channel closes when the context is cancelled.
func (m *Manager) Watch(ctx context.Context) (<-chan Diff, error) {
	if m.path == "" {
		// Running on built-in defaults; there is no file to watch.
		out := make(chan Diff)
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	// Watch the directory, not the file: editors replace config files by
	// rename, which drops a watch held on the file itself.
	if err := fsw.Add(filepath.Dir(m.path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	out := make(chan Diff, 1)
	go func() {
		defer close(out)
		defer fsw.Close()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case evt, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != m.path {
					continue
				}
				if !evt.Op.Has(fsnotify.Write) && !evt.Op.Has(fsnotify.Create) && !evt.Op.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
					timerC = timer.C
				} else {
					timer.Reset(reloadDebounce)
				}

			case <-timerC:
				timer = nil
				timerC = nil
				if diff, ok := m.reload(); ok && !diff.Empty() {
					select {
					case out <- diff:
					case <-ctx.Done():
						return
					}
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				m.log("config watch: %v", err)
			}
		}
	}()
	return out, nil
}

// reload parses the file and swaps the snapshot. On failure the previous
// config is retained and the error logged.
func (m *Manager) reload() (Diff, bool) {
	next, err := Load(m.path, m.log)
	if err != nil {
		m.log("config reload failed, keeping previous config: %v", err)
		return Diff{}, false
	}
	prev := m.cur.Swap(next)
	diff := ComputeDiff(prev, next)
	m.log("config reloaded: %d roots added, %d removed, patterns changed: %v",
		len(diff.AddedRoots), len(diff.RemovedRoots), diff.PatternsChanged)
	return diff, true
}
