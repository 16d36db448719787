// Package coalescer debounces and de-duplicates index operations, grouping
// them into batched store transactions. A single goroutine owns the
// pending map; every other component talks to it through channels.
package coalescer

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/novik133/novasearch/internal/store"
)

// Applier commits a drained batch. Satisfied by *store.Store.
type Applier interface {
	ApplyBatch(ctx context.Context, ops []store.Op) error
}

// Config holds coalescer configuration.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	Applier       Applier
	Logger        func(format string, args ...any)
}

type pendingOp struct {
	op      store.Op
	arrived time.Time
}

// Coalescer owns the pending map and sequences all index writes.
type Coalescer struct {
	batchSize int
	interval  time.Duration
	applier   Applier
	log       func(format string, args ...any)

	in      chan store.Op
	flushCh chan chan error
	clearCh chan chan struct{}

	depth   atomic.Int64
	applied atomic.Int64
	lastErr atomic.Pointer[string]

	pending map[string]pendingOp
}

// New creates a Coalescer. Run must be called for operations to drain.
func New(cfg Config) *Coalescer {
	logFn := cfg.Logger
	if logFn == nil {
		logFn = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Coalescer{
		batchSize: batchSize,
		interval:  interval,
		applier:   cfg.Applier,
		log:       logFn,
		in:        make(chan store.Op, 1024),
		flushCh:   make(chan chan error, 1),
		clearCh:   make(chan chan struct{}, 1),
		pending:   make(map[string]pendingOp),
	}
}

// Submit enqueues an operation. The channel is bounded, so a saturated
// reducer applies backpressure to the caller.
func (c *Coalescer) Submit(ctx context.Context, op store.Op) {
	select {
	case c.in <- op:
	case <-ctx.Done():
	}
}

// Flush drains the pending map into one batch and waits for the commit.
func (c *Coalescer) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case c.flushCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear discards every pending operation. Used on overflow, when the
// pending state may describe a filesystem that no longer exists; the
// follow-up re-scan re-derives it.
func (c *Coalescer) Clear(ctx context.Context) {
	done := make(chan struct{}, 1)
	select {
	case c.clearCh <- done:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Depth returns the current pending-map size.
func (c *Coalescer) Depth() int {
	return int(c.depth.Load())
}

// Applied returns the count of operations committed so far.
func (c *Coalescer) Applied() int64 {
	return c.applied.Load()
}

// LastError returns the most recent batch failure, empty when healthy.
func (c *Coalescer) LastError() string {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Run owns the reducer loop until the context is cancelled. Shutdown
// flushing is the supervisor's job: it calls Flush before cancelling.
func (c *Coalescer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case op := <-c.in:
			c.absorb(op)
			if len(c.pending) >= c.batchSize {
				c.flush(ctx)
			}

		case <-ticker.C:
			if c.oldestAge() >= c.interval {
				c.flush(ctx)
			}

		case done := <-c.flushCh:
			c.drainInput()
			done <- c.flush(ctx)

		case done := <-c.clearCh:
			c.drainInput()
			c.pending = make(map[string]pendingOp)
			c.depth.Store(0)
			done <- struct{}{}
		}
	}
}

// drainInput absorbs everything already queued without blocking, so an
// explicit flush or clear observes all operations submitted before it.
func (c *Coalescer) drainInput() {
	for {
		select {
		case op := <-c.in:
			c.absorb(op)
		default:
			return
		}
	}
}

// absorb collapses an incoming op into the pending map: the newest op for
// a path wins, and a rename is decomposed into a delete of the old path
// plus an upsert of the new record.
func (c *Coalescer) absorb(op store.Op) {
	if op.Kind == store.OpRename {
		c.absorb(store.Delete(op.OldPath))
		c.absorb(store.Upsert(op.Record))
		return
	}
	c.pending[op.Key()] = pendingOp{op: op, arrived: time.Now()}
	c.depth.Store(int64(len(c.pending)))
}

func (c *Coalescer) oldestAge() time.Duration {
	var oldest time.Time
	for _, p := range c.pending {
		if oldest.IsZero() || p.arrived.Before(oldest) {
			oldest = p.arrived
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return time.Since(oldest)
}

// flush snapshots the pending map into one batch. On success the entries
// are gone; on failure they are restored, with operations that arrived in
// the meantime still winning, and retried on a later tick.
func (c *Coalescer) flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}

	snapshot := c.pending
	c.pending = make(map[string]pendingOp)
	c.depth.Store(0)

	ops := make([]store.Op, 0, len(snapshot))
	for _, p := range snapshot {
		ops = append(ops, p.op)
	}

	err := c.applier.ApplyBatch(ctx, ops)
	if err == nil {
		c.applied.Add(int64(len(ops)))
		c.lastErr.Store(nil)
		return nil
	}

	msg := err.Error()
	c.lastErr.Store(&msg)
	c.log("coalescer: batch failed, restoring %d ops: %v", len(snapshot), err)
	for key, p := range snapshot {
		if _, exists := c.pending[key]; !exists {
			c.pending[key] = p
		}
	}
	c.depth.Store(int64(len(c.pending)))
	return err
}
