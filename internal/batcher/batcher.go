// Package batcher accumulates resolved facts and writes them to the store as
// all-or-nothing transactional batches.
//
// Enqueue is safe to call from any number of goroutines. Flush serializes
// itself: only one batch is ever being written at a time, and the pending
// slice is swapped out under lock so each fact is drained exactly once.
//
// Logging: on every committed flush a progress line is emitted with running
// totals and facts/sec since the previous flush.
package batcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"eavstore/internal/metrics"
	"eavstore/internal/storage"
)

// DefaultThreshold is the pending size that triggers an automatic flush.
const DefaultThreshold = 1000

// Beginner opens write transactions. storage.Store satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (storage.Tx, error)
}

// StoreWriteError reports a flush whose transaction was rolled back.
// None of its facts were applied.
type StoreWriteError struct {
	Facts int
	Err   error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("flush of %d facts failed: %v", e.Facts, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Batcher buffers facts for one ingestion request.
type Batcher struct {
	store     Beginner
	threshold int

	mu      sync.Mutex
	pending []storage.Fact

	// flushMu keeps at most one flush in flight and guards the counters below.
	flushMu     sync.Mutex
	batches     int64
	total       int64
	start       time.Time
	lastFlushTS time.Time
	lastTotal   int64
}

// New returns a Batcher writing through store. A threshold <= 0 selects
// DefaultThreshold.
func New(store Beginner, threshold int) *Batcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	now := time.Now()
	return &Batcher{
		store:       store,
		threshold:   threshold,
		pending:     make([]storage.Fact, 0, threshold),
		start:       now,
		lastFlushTS: now,
	}
}

// Threshold reports the configured flush threshold.
func (b *Batcher) Threshold() int { return b.threshold }

// Written reports the number of facts committed so far.
func (b *Batcher) Written() int64 {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.total
}

// Enqueue appends f to the pending batch.
func (b *Batcher) Enqueue(f storage.Fact) {
	b.mu.Lock()
	b.pending = append(b.pending, f)
	b.mu.Unlock()
}

// Len reports the number of pending facts.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// IsFull reports whether the pending batch has reached the threshold.
func (b *Batcher) IsFull() bool {
	return b.Len() >= b.threshold
}

// Flush writes the pending batch when force is set or the batch is full, and
// is a no-op otherwise. It returns the number of facts committed.
//
// The write runs in a single transaction. On any failure the transaction is
// rolled back, never committed, and a *StoreWriteError is returned; the
// drained facts are not re-queued.
func (b *Batcher) Flush(ctx context.Context, force bool) (int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 || (!force && len(b.pending) < b.threshold) {
		b.mu.Unlock()
		return 0, nil
	}
	batch := b.pending
	b.pending = make([]storage.Fact, 0, b.threshold)
	b.mu.Unlock()

	began := time.Now()
	err := b.write(ctx, batch)
	metrics.RecordStep("flush", err, time.Since(began))
	if err != nil {
		log.Printf("batcher: flush failed facts=%d total=%d err=%v", len(batch), b.total, err)
		return 0, &StoreWriteError{Facts: len(batch), Err: err}
	}

	n := len(batch)
	b.batches++
	b.total += int64(n)
	metrics.RecordRows("facts", int64(n))
	metrics.RecordBatches(1)

	now := time.Now()
	sinceLast := now.Sub(b.lastFlushTS)
	fps := float64(0)
	if sinceLast > 0 {
		fps = float64(b.total-b.lastTotal) / sinceLast.Seconds()
	}
	log.Printf(
		"batcher: batch #%d: fps=%.0f written=%d total_written=%d forced=%t elapsed=%s since_last=%s",
		b.batches,
		fps,
		n,
		b.total,
		force,
		now.Sub(b.start).Truncate(time.Millisecond),
		sinceLast.Truncate(time.Millisecond),
	)
	b.lastFlushTS = now
	b.lastTotal = b.total

	return n, nil
}

// write applies batch in one transaction: commit on full success, otherwise
// roll back and stop.
func (b *Batcher) write(ctx context.Context, batch []storage.Fact) error {
	tx, err := b.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := tx.UpsertFacts(ctx, batch); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Printf("batcher: rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
