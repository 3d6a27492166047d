// Package queue provides the bounded concurrent handoff channel between two
// pipeline stages. A queue carries typed items in strict FIFO order, applies
// backpressure by blocking a producer while full, delivers end-of-stream
// exactly once after the producer finishes, and supports abandonment from
// either side via Close.
package queue

import (
	"context"
	"errors"
	"sync"
)

// Sentinel results for Receive and Send.
var (
	// ErrClosed indicates the queue was abandoned (cancellation or failure
	// on the other side). Buffered items are discarded.
	ErrClosed = errors.New("queue closed")

	// ErrEndOfStream indicates the producer finished normally and all
	// buffered items have been drained.
	ErrEndOfStream = errors.New("end of stream")
)

// Item wraps a payload with an optional in-band control marker. A Flush item
// carries no payload; it tells the consumer to drain buffered state before
// accepting more input and is ordered relative to the data around it.
type Item[T any] struct {
	Flush   bool
	Payload T
}

// Data wraps a payload in an Item.
func Data[T any](v T) Item[T] {
	return Item[T]{Payload: v}
}

// FlushMarker returns an in-band flush control item.
func FlushMarker[T any]() Item[T] {
	return Item[T]{Flush: true}
}

// Queue is a bounded FIFO channel between one producer stage and one
// consumer stage. All methods are safe for concurrent use; Send may be
// called from multiple producers, though the pipeline wires exactly one.
type Queue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items    []T
	capacity int
	finished bool
	closed   bool

	release func(T)
}

// New creates a queue holding at most capacity items. Capacities below one
// are clamped to one.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// NewWithRelease creates a queue that hands items still buffered at Close to
// release, so owned resources are returned instead of leaked on abandonment.
func NewWithRelease[T any](capacity int, release func(T)) *Queue[T] {
	q := New[T](capacity)
	q.release = release
	return q
}

// wait blocks on c until signalled, waking early when ctx is cancelled.
// The caller must hold q.mu and re-check state after wait returns.
func (q *Queue[T]) wait(ctx context.Context, c *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		c.Broadcast()
		q.mu.Unlock()
	})
	c.Wait()
	stop()
	return ctx.Err()
}

// Send appends v, blocking while the queue is full. It returns ErrClosed
// without blocking once the queue has been closed or finished, and the
// context error if ctx is cancelled while waiting.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		switch {
		case q.closed, q.finished:
			return ErrClosed
		case len(q.items) < q.capacity:
			q.items = append(q.items, v)
			q.notEmpty.Signal()
			return nil
		}
		if err := q.wait(ctx, q.notFull); err != nil {
			return err
		}
	}
}

// TrySend is the non-blocking variant of Send. It reports false when the
// queue is full.
func (q *Queue[T]) TrySend(v T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.finished {
		return false, ErrClosed
	}
	if len(q.items) >= q.capacity {
		return false, nil
	}
	q.items = append(q.items, v)
	q.notEmpty.Signal()
	return true, nil
}

// Receive removes and returns the oldest item, blocking while the queue is
// empty and not yet finished. After the producer calls Finish and the queue
// drains, every subsequent call returns ErrEndOfStream. A closed queue
// returns ErrClosed immediately, discarding anything still buffered.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	for {
		switch {
		case q.closed:
			return zero, ErrClosed
		case len(q.items) > 0:
			v := q.items[0]
			q.items = q.items[1:]
			q.notFull.Signal()
			return v, nil
		case q.finished:
			return zero, ErrEndOfStream
		}
		if err := q.wait(ctx, q.notEmpty); err != nil {
			return zero, err
		}
	}
}

// TryReceive is the non-blocking variant of Receive. It reports false when
// no item is ready and the stream has neither finished nor closed.
func (q *Queue[T]) TryReceive() (T, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	switch {
	case q.closed:
		return zero, false, ErrClosed
	case len(q.items) > 0:
		v := q.items[0]
		q.items = q.items[1:]
		q.notFull.Signal()
		return v, true, nil
	case q.finished:
		return zero, false, ErrEndOfStream
	}
	return zero, false, nil
}

// Finish marks the producer side done. Consumers drain the remaining items
// and then observe ErrEndOfStream. Idempotent.
func (q *Queue[T]) Finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished || q.closed {
		return
	}
	q.finished = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Close abandons the queue from either side: buffered items are discarded,
// passing through the release hook when one was configured, and every
// blocked or future caller observes ErrClosed. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := q.items
	q.items = nil
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()

	if q.release != nil {
		for _, v := range dropped {
			q.release(v)
		}
	}
}

// WaitSendable blocks until Send would make progress without blocking:
// space is available, or the queue is closed or finished.
func (q *Queue[T]) WaitSendable(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed || q.finished || len(q.items) < q.capacity {
			return nil
		}
		if err := q.wait(ctx, q.notFull); err != nil {
			return err
		}
	}
}

// WaitReceivable blocks until Receive would make progress without blocking:
// an item is buffered, or the queue is closed or finished.
func (q *Queue[T]) WaitReceivable(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed || q.finished || len(q.items) > 0 {
			return nil
		}
		if err := q.wait(ctx, q.notEmpty); err != nil {
			return err
		}
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Closed reports whether the queue was abandoned.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
