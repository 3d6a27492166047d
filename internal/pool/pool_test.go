package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAllocatesAndRecycles(t *testing.T) {
	p := New()
	defer p.Close()

	shape := Shape{Class: "packet", Size: 128}

	b1 := p.Get(shape)
	require.NotNil(t, b1)
	assert.Equal(t, 128, len(b1.Bytes()))
	assert.Equal(t, 1, b1.Refs())
	assert.Equal(t, shape, b1.Shape())

	b1.Release()

	b2 := p.Get(shape)
	assert.Same(t, b1, b2, "released buffer should be recycled for the same shape")
	assert.Equal(t, 1, b2.Refs())
	assert.Equal(t, 128, len(b2.Bytes()), "recycled buffer length is reset")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Allocated)
	assert.Equal(t, int64(1), stats.Reused)
}

func TestShapesDoNotMix(t *testing.T) {
	p := New()
	defer p.Close()

	small := p.Get(Shape{Class: "packet", Size: 16})
	small.Release()

	big := p.Get(Shape{Class: "packet", Size: 32})
	assert.NotSame(t, small, big)

	other := p.Get(Shape{Class: "frame", Size: 16})
	assert.NotSame(t, small, other, "same size but different class must not share buffers")
}

func TestRetainRelease(t *testing.T) {
	p := New()
	defer p.Close()

	b := p.Get(Shape{Class: "packet", Size: 8})
	b.Retain()
	b.Retain()
	assert.Equal(t, 3, b.Refs())

	b.Release()
	b.Release()
	assert.Equal(t, 1, b.Refs())

	b.Release()
	assert.Equal(t, 1, p.Stats().Idle, "last release returns the buffer to the free list")
}

func TestRetainAfterFinalReleasePanics(t *testing.T) {
	p := New()
	defer p.Close()

	b := p.Get(Shape{Class: "packet", Size: 8})
	b.Release()

	assert.Panics(t, func() { b.Retain() })
}

func TestReleaseBelowZeroPanics(t *testing.T) {
	p := New()
	defer p.Close()

	b := p.Get(Shape{Class: "packet", Size: 8})
	b.Retain()
	b.Release()
	b.Release()

	assert.Panics(t, func() { b.Release() })
}

func TestSetLen(t *testing.T) {
	p := New()
	defer p.Close()

	b := p.Get(Shape{Class: "packet", Size: 64})
	b.SetLen(10)
	assert.Equal(t, 10, len(b.Bytes()))

	assert.Panics(t, func() { b.SetLen(65) })
}

func TestGetFromCopies(t *testing.T) {
	p := New()
	defer p.Close()

	src := []byte{1, 2, 3, 4}
	b := p.GetFrom("packet", src)
	require.Equal(t, src, b.Bytes())

	src[0] = 99
	assert.Equal(t, byte(1), b.Bytes()[0], "buffer holds a copy, not the caller's slice")
	b.Release()
}

func TestCloseDropsIdleBuffers(t *testing.T) {
	p := New()

	inFlight := p.Get(Shape{Class: "packet", Size: 8})
	idle := p.Get(Shape{Class: "packet", Size: 8})
	idle.Release()
	require.Equal(t, 1, p.Stats().Idle)

	p.Close()
	assert.Equal(t, 0, p.Stats().Idle)

	// In-flight buffers are dropped on their last release, not recycled.
	inFlight.Release()
	assert.Equal(t, 0, p.Stats().Idle)

	// Close is idempotent and Get still works after it.
	p.Close()
	b := p.Get(Shape{Class: "packet", Size: 8})
	require.NotNil(t, b)
	b.Release()
}

func TestConcurrentGetRelease(t *testing.T) {
	p := New()
	defer p.Close()

	shape := Shape{Class: "packet", Size: 256}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b := p.Get(shape)
				b.Retain()
				b.Release()
				b.Release()
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, int64(8000), stats.Allocated+stats.Reused)
}
