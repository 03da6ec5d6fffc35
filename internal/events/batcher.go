package events

import (
	"sync"
	"time"
)

// Batcher groups items and hands them to flushFn once maxSize accumulate
// or interval elapses after the first item, whichever happens first.
// flushFn runs on the goroutine that triggered the flush and must not
// call back into the batcher.
type Batcher[T any] struct {
	maxSize  int
	interval time.Duration
	flushFn  func([]T)

	mu      sync.Mutex
	pending []T
	timer   *time.Timer
	stopped bool
}

func NewBatcher[T any](maxSize int, interval time.Duration, flushFn func([]T)) *Batcher[T] {
	return &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
	}
}

// Add appends an item, flushing when the batch fills. Items added after
// Stop are dropped.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, item)
	if len(b.pending) >= b.maxSize {
		batch := b.take()
		b.mu.Unlock()
		b.flushFn(batch)
		return
	}
	// The interval clock starts with the first item of a batch.
	if len(b.pending) == 1 {
		b.timer = time.AfterFunc(b.interval, b.flushExpired)
	}
	b.mu.Unlock()
}

func (b *Batcher[T]) flushExpired() {
	b.mu.Lock()
	if b.stopped || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.take()
	b.mu.Unlock()
	b.flushFn(batch)
}

// Flush hands over whatever is pending without waiting for the interval.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flushFn(batch)
	}
}

// Stop flushes the remainder and drops every later Add.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	b.stopped = true
	batch := b.take()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flushFn(batch)
	}
}

// take clears the pending batch and the interval timer. Caller holds mu.
func (b *Batcher[T]) take() []T {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}
