// Package queue is a bounded in-process work queue drained by a fixed set of
// consumers. The audit and notification pipelines run on it.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Options configures a Queue.
type Options[T any] struct {
	// Workers is the number of consumers. One worker preserves push order.
	Workers int
	// Size is the channel capacity.
	Size int
	// DropIfFull makes Push refuse items instead of waiting for room.
	DropIfFull bool
	// OnDrop runs on the pushing goroutine for every refused item.
	OnDrop func(item T)
}

// Queue hands pushed items to its consumers. Close stops intake and waits
// until everything already queued has been handled.
type Queue[T any] struct {
	handle     func(T)
	onDrop     func(T)
	dropIfFull bool

	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts the consumers. handle must be safe for concurrent use when
// Workers > 1.
func New[T any](opts Options[T], handle func(T)) *Queue[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Size <= 0 {
		opts.Size = 1
	}

	q := &Queue[T]{
		handle:     handle,
		onDrop:     opts.OnDrop,
		dropIfFull: opts.DropIfFull,
		ch:         make(chan T, opts.Size),
		done:       make(chan struct{}),
	}
	q.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go q.consume()
	}
	return q
}

func (q *Queue[T]) consume() {
	defer q.wg.Done()

	for {
		select {
		case item := <-q.ch:
			q.handle(item)
		case <-q.done:
			q.drain()
			return
		}
	}
}

func (q *Queue[T]) drain() {
	for {
		select {
		case item := <-q.ch:
			q.handle(item)
		default:
			return
		}
	}
}

// Push queues item and reports whether it was accepted. A blocking queue
// waits for room until ctx ends; a cancelled wait counts as a drop. Pushes
// after Close are ignored and not counted.
func (q *Queue[T]) Push(ctx context.Context, item T) bool {
	if q.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if q.dropIfFull {
		select {
		case q.ch <- item:
			return true
		case <-q.done:
			return false
		default:
			q.drop(item)
			return false
		}
	}

	select {
	case q.ch <- item:
		return true
	case <-q.done:
		return false
	case <-ctx.Done():
		q.drop(item)
		return false
	}
}

func (q *Queue[T]) drop(item T) {
	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop(item)
	}
}

// Close is idempotent.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
		q.wg.Wait()
	})
}

// Dropped counts refused items.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
