// Package pool provides a reference-counted buffer pool for media payloads.
// Buffers are recycled by shape (size class) to avoid per-unit allocation
// under sustained throughput. The pool grows on demand and only frees
// memory at teardown.
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Shape identifies a class of interchangeable buffers. Buffers are only
// recycled within their own shape.
type Shape struct {
	// Class is a coarse category such as "packet" or "frame".
	Class string
	// Size is the payload capacity in bytes.
	Size int
}

// Buffer is a pooled, reference-counted byte buffer. A buffer starts with a
// reference count of one. Retain adds a reference for each additional holder;
// Release drops one. When the count reaches zero the buffer returns to its
// pool and must not be touched again.
type Buffer struct {
	pool  *Pool
	shape Shape
	data  []byte
	refs  atomic.Int32
}

// Bytes returns the buffer's payload slice. The slice length is set by
// SetLen and is at most Shape.Size.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// SetLen truncates the payload to n bytes. It panics if n exceeds the
// buffer's capacity.
func (b *Buffer) SetLen(n int) {
	if n > cap(b.data) {
		panic(fmt.Sprintf("pool: SetLen(%d) exceeds buffer capacity %d", n, cap(b.data)))
	}
	b.data = b.data[:n]
}

// Shape returns the shape this buffer was acquired with.
func (b *Buffer) Shape() Shape {
	return b.shape
}

// Retain adds a reference. Call it once per additional consumer before
// handing the buffer over.
func (b *Buffer) Retain() {
	if b.refs.Add(1) <= 1 {
		panic("pool: Retain on released buffer")
	}
}

// Release drops one reference. When the count reaches zero the buffer is
// returned to its pool. Releasing below zero is a programming error and
// panics; the surrounding ownership rules make it loud rather than silent.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		b.pool.put(b)
	case n < 0:
		panic("pool: Release of dead buffer")
	}
}

// Refs returns the current reference count. Intended for tests and debug
// output only.
func (b *Buffer) Refs() int {
	return int(b.refs.Load())
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Allocated int64 `json:"allocated"`
	Reused    int64 `json:"reused"`
	Idle      int   `json:"idle"`
}

// Pool recycles buffers keyed by shape. All methods are safe for concurrent
// use from any goroutine.
type Pool struct {
	mu     sync.Mutex
	free   map[Shape][]*Buffer
	closed bool

	allocated atomic.Int64
	reused    atomic.Int64
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		free: make(map[Shape][]*Buffer),
	}
}

// Get returns a buffer matching shape, recycling a free one when available
// and allocating otherwise. The returned buffer has a reference count of one
// and a payload length of shape.Size. Get never blocks.
func (p *Pool) Get(shape Shape) *Buffer {
	p.mu.Lock()
	if list := p.free[shape]; len(list) > 0 {
		b := list[len(list)-1]
		p.free[shape] = list[:len(list)-1]
		p.mu.Unlock()

		p.reused.Add(1)
		b.data = b.data[:cap(b.data)]
		b.refs.Store(1)
		return b
	}
	p.mu.Unlock()

	p.allocated.Add(1)
	b := &Buffer{
		pool:  p,
		shape: shape,
		data:  make([]byte, shape.Size),
	}
	b.refs.Store(1)
	return b
}

// GetFrom returns a buffer sized and filled with a copy of data, using the
// given class for recycling.
func (p *Pool) GetFrom(class string, data []byte) *Buffer {
	b := p.Get(Shape{Class: class, Size: len(data)})
	copy(b.data, data)
	return b
}

// put returns a zero-reference buffer to the free list. After Close the
// buffer is dropped for the GC instead.
func (p *Pool) put(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.free[b.shape] = append(p.free[b.shape], b)
}

// Close releases all idle buffers. Buffers still in flight are dropped when
// their last reference is released. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.free = make(map[Shape][]*Buffer)
}

// Stats returns a snapshot of allocation counters and the idle buffer count.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := 0
	for _, list := range p.free {
		idle += len(list)
	}
	p.mu.Unlock()

	return Stats{
		Allocated: p.allocated.Load(),
		Reused:    p.reused.Load(),
		Idle:      idle,
	}
}
