// Package daemon wires the indexing components together and owns the
// process lifecycle: startup, initial scan, steady-state watching,
// re-indexing, and graceful drain.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/novik133/novasearch/internal/classify"
	"github.com/novik133/novasearch/internal/coalescer"
	"github.com/novik133/novasearch/internal/config"
	"github.com/novik133/novasearch/internal/scanner"
	"github.com/novik133/novasearch/internal/store"
	"github.com/novik133/novasearch/internal/watcher"
)

// drainGrace is how long shutdown waits for the final flush before
// abandoning in-flight batches; a scan on next start re-derives them.
const drainGrace = 5 * time.Second

// statusInterval is how often the status file is refreshed in steady
// state.
const statusInterval = 2 * time.Second

// Supervisor owns all components and sequences state transitions.
type Supervisor struct {
	mgr       *config.Manager
	indexPath string
	log       func(format string, args ...any)

	st   *store.Store
	coal *coalescer.Coalescer
	w    *watcher.Watcher

	mu       sync.Mutex
	state    State
	policy   *classify.Policy
	lastScan time.Time
	lastErr  string

	rescan chan []string // roots to re-scan; nil means all
}

// Config holds supervisor construction parameters.
type Config struct {
	Manager   *config.Manager
	IndexPath string
	Logger    func(format string, args ...any)
}

// New creates a Supervisor. Run does the actual work.
func New(cfg Config) *Supervisor {
	logFn := cfg.Logger
	if logFn == nil {
		logFn = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = config.IndexPath()
	}
	return &Supervisor{
		mgr:       cfg.Manager,
		indexPath: indexPath,
		log:       logFn,
		state:     StateStarting,
		rescan:    make(chan []string, 4),
	}
}

// Run executes the daemon until the context is cancelled. It returns nil
// on a clean drain and an error on fatal conditions (unusable store,
// schema from the future, second daemon instance).
func (s *Supervisor) Run(ctx context.Context) error {
	if err := WritePIDFile(); err != nil {
		return err
	}
	defer RemovePIDFile()
	defer s.setState(StateStopped)

	st, err := store.OpenReadWrite(s.indexPath)
	if err != nil {
		s.setError(err)
		return fmt.Errorf("open index: %w", err)
	}
	s.st = st
	defer st.Close()

	cfg := s.mgr.Current()
	s.setPolicy(cfg.Policy())

	s.coal = coalescer.New(coalescer.Config{
		BatchSize:     cfg.Performance.BatchSize,
		FlushInterval: time.Duration(cfg.Performance.FlushIntervalMS) * time.Millisecond,
		Applier:       st,
		Logger:        s.log,
	})

	w, err := watcher.New(watcher.Config{
		Policy:     s.currentPolicy(),
		PathsUnder: st.PathsUnder,
		Logger:     s.log,
	})
	if err != nil {
		s.setError(err)
		return err
	}
	s.w = w
	defer w.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.coal.Run(runCtx)
	}()

	// Watches are established before the initial scan enumerates each
	// subtree, so changes racing the scan are still observed.
	events, err := w.Start(runCtx, s.currentPolicy().Roots())
	if err != nil {
		s.setError(err)
		return fmt.Errorf("start watcher: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pumpEvents(runCtx, events)
	}()

	diffs, err := s.mgr.Watch(runCtx)
	if err != nil {
		s.log("daemon: config watch unavailable: %v", err)
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	s.log("daemon: starting initial scan of %d roots", len(s.currentPolicy().Roots()))
	s.setState(StateInitialScan)
	s.writeStatus(ctx)
	s.runScan(runCtx, nil)
	s.setState(StateSteady)
	s.writeStatus(ctx)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.drain(cancel, &wg)

		case roots := <-s.rescan:
			s.setState(StateReindexing)
			s.writeStatus(ctx)
			s.runScan(runCtx, roots)
			s.setState(StateSteady)
			s.writeStatus(ctx)

		case <-usr1:
			s.log("daemon: reindex requested")
			s.TriggerRescan(nil)

		case diff, ok := <-diffs:
			if !ok {
				diffs = nil
				continue
			}
			s.applyDiff(runCtx, diff)

		case <-ticker.C:
			s.writeStatus(ctx)
		}
	}
}

// TriggerRescan schedules a re-scan of the given roots (nil means all).
func (s *Supervisor) TriggerRescan(roots []string) {
	select {
	case s.rescan <- roots:
	default:
		// The queue already holds four requests; this one is dropped.
	}
}

// pumpEvents translates watcher events into store operations and feeds
// the coalescer. Overflow clears pending state and schedules a re-scan.
func (s *Supervisor) pumpEvents(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Kind {
			case watcher.Overflow:
				s.log("daemon: event overflow, scheduling full re-scan")
				s.coal.Clear(ctx)
				s.TriggerRescan(nil)

			case watcher.Deleted:
				s.coal.Submit(ctx, store.Delete(evt.Path))

			case watcher.Created, watcher.Modified:
				info, err := os.Lstat(evt.Path)
				if err != nil {
					// Gone again already; the delete event follows.
					continue
				}
				if info.IsDir() {
					continue
				}
				s.coal.Submit(ctx, store.Upsert(scanner.Record(evt.Path, info)))
			}
		}
	}
}

// runScan scans the given roots (nil means every configured root) and
// flushes the result. Completion of a full pass stamps the metadata.
func (s *Supervisor) runScan(ctx context.Context, roots []string) {
	policy := s.currentPolicy()
	full := roots == nil
	if full {
		roots = policy.Roots()
	}

	cfg := s.mgr.Current()
	sc := scanner.New(scanner.Config{
		Policy:        policy,
		MaxCPUPercent: cfg.Performance.MaxCPUPercent,
		Logger:        s.log,
	})

	out := make(chan store.Op, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for op := range out {
			s.coal.Submit(ctx, op)
		}
	}()

	err := sc.ScanRoots(ctx, roots, out)
	close(out)
	<-done

	if err != nil {
		return // cancelled mid-scan; no completion stamp
	}
	if err := s.coal.Flush(ctx); err != nil {
		s.setError(err)
		return
	}

	s.mu.Lock()
	s.lastScan = time.Now()
	s.lastErr = ""
	s.mu.Unlock()

	if full {
		if err := s.st.SetMeta(ctx, store.MetaLastFullScan, fmt.Sprintf("%d", time.Now().Unix())); err != nil {
			s.log("daemon: stamp last scan: %v", err)
		}
	}
	s.log("daemon: scan of %d roots complete", len(roots))
}

// applyDiff reacts to a config reload: new roots are watched and
// scanned, removed roots are unwatched and vacuumed, and a pattern
// change re-classifies the whole index.
func (s *Supervisor) applyDiff(ctx context.Context, diff config.Diff) {
	cfg := s.mgr.Current()
	policy := cfg.Policy()
	s.setPolicy(policy)
	s.w.SetPolicy(policy)

	for _, root := range diff.RemovedRoots {
		s.w.RemoveRoot(root)
	}
	if len(diff.RemovedRoots) > 0 {
		if n, err := s.st.VacuumStale(ctx, policy.Roots()); err != nil {
			s.setError(err)
		} else {
			s.log("daemon: vacuumed %d rows outside the root set", n)
		}
	}

	for _, root := range diff.AddedRoots {
		if err := s.w.AddRoot(root); err != nil {
			s.log("daemon: watch new root %s: %v", root, err)
		}
	}

	if diff.PatternsChanged {
		doomed, err := s.st.DeleteWhere(ctx, func(path string) bool {
			return !policy.Included(path)
		})
		if err != nil {
			s.setError(err)
		} else if len(doomed) > 0 {
			s.log("daemon: re-classification removed %d rows", len(doomed))
		}
		// Newly included entries need a fresh look at everything.
		s.TriggerRescan(nil)
		return
	}

	if len(diff.AddedRoots) > 0 {
		s.TriggerRescan(diff.AddedRoots)
	}
}

// drain flushes pending writes within the grace period, then stops
// everything. Batches still pending past the deadline are abandoned and
// re-derived by the next start's scan.
func (s *Supervisor) drain(cancel context.CancelFunc, wg *sync.WaitGroup) error {
	s.setState(StateDraining)
	_ = WriteStatus(s.snapshot(context.Background()))

	flushCtx, flushCancel := context.WithTimeout(context.Background(), drainGrace)
	defer flushCancel()
	if err := s.coal.Flush(flushCtx); err != nil {
		s.log("daemon: final flush incomplete: %v", err)
	}

	cancel()
	wg.Wait()

	s.setState(StateStopped)
	_ = WriteStatus(s.snapshot(context.Background()))
	s.log("daemon: stopped")
	return nil
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// CurrentState returns the lifecycle state.
func (s *Supervisor) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setPolicy(p *classify.Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *Supervisor) currentPolicy() *classify.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

func (s *Supervisor) setError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// snapshot assembles the current Status.
func (s *Supervisor) snapshot(ctx context.Context) Status {
	s.mu.Lock()
	state := s.state
	lastScan := s.lastScan
	lastErr := s.lastErr
	policy := s.policy
	s.mu.Unlock()

	st := Status{
		State:        state,
		PID:          os.Getpid(),
		PendingDepth: s.coal.Depth(),
		LastError:    lastErr,
	}
	if policy != nil {
		st.Roots = policy.Roots()
	}
	if !lastScan.IsZero() {
		st.LastScan = lastScan.Unix()
	}
	if s.st != nil {
		if n, err := s.st.Count(ctx); err == nil {
			st.FilesIndexed = n
		}
	}
	return st
}

func (s *Supervisor) writeStatus(ctx context.Context) {
	if err := WriteStatus(s.snapshot(ctx)); err != nil {
		s.log("daemon: write status: %v", err)
	}
}
