// Package syncqueue merges packets from several independently paced streams
// into one globally ordered sequence for the multiplexer. It is a k-way
// merge with deferred commitment: a packet is released only once no
// earlier-timestamped packet can still arrive on another stream. Each stream
// may buffer at most a configured number of packets, which backpressures
// producers that race ahead of the slowest stream.
package syncqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmylchreest/flowmux/internal/media"
	"github.com/jmylchreest/flowmux/internal/queue"
)

// DefaultLookahead is the per-stream buffer bound used when the caller
// passes a non-positive value.
const DefaultLookahead = 64

// streamBuf holds the pending packets of one registered stream. Packets
// within a stream arrive already ordered by timestamp; the merge relies on
// per-stream FIFO order.
type streamBuf struct {
	id       media.StreamID
	pending  []*media.Packet
	finished bool
}

func (s *streamBuf) active() bool {
	return !s.finished || len(s.pending) > 0
}

// SyncQueue gates multiple timestamped streams into one monotonically
// ordered output. Streams are registered before the first push; the
// registration order is the deterministic tie-break for equal timestamps.
type SyncQueue struct {
	mu        sync.Mutex
	changed   *sync.Cond
	streams   []*streamBuf
	byID      map[media.StreamID]*streamBuf
	lookahead int
	closed    bool
}

// New creates a sync queue bounding each stream to lookahead buffered
// packets.
func New(lookahead int) *SyncQueue {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	sq := &SyncQueue{
		byID:      make(map[media.StreamID]*streamBuf),
		lookahead: lookahead,
	}
	sq.changed = sync.NewCond(&sq.mu)
	return sq
}

// AddStream registers a stream. Must be called for every stream before
// packets are pushed; registration order decides equal-timestamp ties.
func (sq *SyncQueue) AddStream(id media.StreamID) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if _, ok := sq.byID[id]; ok {
		return fmt.Errorf("syncqueue: stream %d already registered", id)
	}
	sb := &streamBuf{id: id}
	sq.streams = append(sq.streams, sb)
	sq.byID[id] = sb
	return nil
}

// wait blocks until the queue state changes, waking early on ctx
// cancellation. Caller holds sq.mu and re-checks state afterwards.
func (sq *SyncQueue) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		sq.mu.Lock()
		sq.changed.Broadcast()
		sq.mu.Unlock()
	})
	sq.changed.Wait()
	stop()
	return ctx.Err()
}

// Push buffers pkt on its stream, blocking while that stream already holds
// lookahead packets. Returns queue.ErrClosed once the queue is abandoned.
func (sq *SyncQueue) Push(ctx context.Context, pkt *media.Packet) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	sb, ok := sq.byID[pkt.Stream]
	if !ok {
		return fmt.Errorf("syncqueue: push to unregistered stream %d", pkt.Stream)
	}
	for {
		switch {
		case sq.closed:
			return queue.ErrClosed
		case sb.finished:
			return queue.ErrClosed
		case len(sb.pending) < sq.lookahead:
			sb.pending = append(sb.pending, pkt)
			sq.changed.Broadcast()
			return nil
		}
		if err := sq.wait(ctx); err != nil {
			return err
		}
	}
}

// TryPush is the non-blocking variant of Push. It reports false when the
// stream's look-ahead window is full.
func (sq *SyncQueue) TryPush(pkt *media.Packet) (bool, error) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	sb, ok := sq.byID[pkt.Stream]
	if !ok {
		return false, fmt.Errorf("syncqueue: push to unregistered stream %d", pkt.Stream)
	}
	if sq.closed || sb.finished {
		return false, queue.ErrClosed
	}
	if len(sb.pending) >= sq.lookahead {
		return false, nil
	}
	sb.pending = append(sb.pending, pkt)
	sq.changed.Broadcast()
	return true, nil
}

// Finish marks a stream complete. Its buffered packets still drain in merge
// order; once every stream is finished and drained, Pop reports
// end-of-stream. Idempotent per stream.
func (sq *SyncQueue) Finish(id media.StreamID) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sb, ok := sq.byID[id]; ok && !sb.finished {
		sb.finished = true
		sq.changed.Broadcast()
	}
}

// releasable returns the stream whose head packet may be committed, or nil.
// The head with the globally earliest timestamp is eligible only when every
// other active stream either has a buffered packet (so its earliest possible
// future timestamp is known) or has finished. Ties go to the earliest
// registered stream, independent of arrival interleaving.
func (sq *SyncQueue) releasable() *streamBuf {
	var best *streamBuf
	for _, sb := range sq.streams {
		if len(sb.pending) == 0 {
			if sb.active() {
				// An active stream with nothing buffered could still
				// produce an earlier timestamp; defer commitment.
				return nil
			}
			continue
		}
		if best == nil || sb.pending[0].PTS < best.pending[0].PTS {
			best = sb
		}
	}
	return best
}

// Pop removes and returns the next packet in globally non-decreasing
// timestamp order, blocking until one is committable. It returns
// queue.ErrEndOfStream once all streams have finished and drained, and
// queue.ErrClosed if the queue is abandoned.
func (sq *SyncQueue) Pop(ctx context.Context) (*media.Packet, error) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	for {
		if sq.closed {
			return nil, queue.ErrClosed
		}
		if sb := sq.releasable(); sb != nil {
			pkt := sb.pending[0]
			sb.pending = sb.pending[1:]
			sq.changed.Broadcast()
			return pkt, nil
		}
		if sq.allDone() {
			return nil, queue.ErrEndOfStream
		}
		if err := sq.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// TryPop is the non-blocking variant of Pop.
func (sq *SyncQueue) TryPop() (*media.Packet, bool, error) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return nil, false, queue.ErrClosed
	}
	if sb := sq.releasable(); sb != nil {
		pkt := sb.pending[0]
		sb.pending = sb.pending[1:]
		sq.changed.Broadcast()
		return pkt, true, nil
	}
	if sq.allDone() {
		return nil, false, queue.ErrEndOfStream
	}
	return nil, false, nil
}

// WaitPushable blocks until a Push on stream id would make progress.
func (sq *SyncQueue) WaitPushable(ctx context.Context, id media.StreamID) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	sb, ok := sq.byID[id]
	if !ok {
		return fmt.Errorf("syncqueue: unregistered stream %d", id)
	}
	for {
		if sq.closed || sb.finished || len(sb.pending) < sq.lookahead {
			return nil
		}
		if err := sq.wait(ctx); err != nil {
			return err
		}
	}
}

// WaitPoppable blocks until a Pop would make progress.
func (sq *SyncQueue) WaitPoppable(ctx context.Context) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	for {
		if sq.closed || sq.allDone() || sq.releasable() != nil {
			return nil
		}
		if err := sq.wait(ctx); err != nil {
			return err
		}
	}
}

// allDone reports whether every stream has finished and drained.
func (sq *SyncQueue) allDone() bool {
	for _, sb := range sq.streams {
		if sb.active() {
			return false
		}
	}
	return true
}

// Close abandons the queue, releasing any buffered packet payloads and
// waking all blocked callers with queue.ErrClosed. Idempotent.
func (sq *SyncQueue) Close() {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return
	}
	sq.closed = true
	for _, sb := range sq.streams {
		for _, pkt := range sb.pending {
			pkt.Release()
		}
		sb.pending = nil
	}
	sq.changed.Broadcast()
}

// Len returns the total number of buffered packets across all streams.
func (sq *SyncQueue) Len() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	n := 0
	for _, sb := range sq.streams {
		n += len(sb.pending)
	}
	return n
}
