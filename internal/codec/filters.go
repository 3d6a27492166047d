package codec

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/jmylchreest/flowmux/internal/media"
)

// TimestampOffsetFilter shifts every frame's timestamp by a fixed number of
// 90 kHz ticks. The offset can be changed mid-run via Reconfigure, which is
// the dynamic-reconfiguration hook for stage-local filter state.
type TimestampOffsetFilter struct {
	mu     sync.Mutex
	offset int64
}

// NewTimestampOffsetFilter creates a filter shifting timestamps by offset
// ticks.
func NewTimestampOffsetFilter(offset int64) *TimestampOffsetFilter {
	return &TimestampOffsetFilter{offset: offset}
}

// Apply shifts the frame's PTS in place.
func (f *TimestampOffsetFilter) Apply(frame *media.Frame) ([]*media.Frame, error) {
	f.mu.Lock()
	frame.PTS += f.offset
	f.mu.Unlock()
	return []*media.Frame{frame}, nil
}

// Flush has nothing buffered to emit.
func (f *TimestampOffsetFilter) Flush() ([]*media.Frame, error) {
	return nil, nil
}

// Reconfigure accepts an "offset" parameter in ticks.
func (f *TimestampOffsetFilter) Reconfigure(params map[string]string) error {
	v, ok := params["offset"]
	if !ok {
		return nil
	}
	offset, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing offset %q: %w", v, err)
	}
	f.mu.Lock()
	f.offset = offset
	f.mu.Unlock()
	return nil
}

// Close is a no-op.
func (f *TimestampOffsetFilter) Close() error {
	return nil
}

// MonotonicGuardFilter drops frames whose timestamps go backwards within a
// stream, returning a transient error so the stage logs and continues. A
// flush boundary resets the guard, since a discontinuity legitimately
// restarts the timeline.
type MonotonicGuardFilter struct {
	lastPTS int64
	seen    bool
}

// NewMonotonicGuardFilter creates a monotonicity guard.
func NewMonotonicGuardFilter() *MonotonicGuardFilter {
	return &MonotonicGuardFilter{}
}

// Apply rejects out-of-order frames with a transient error.
func (f *MonotonicGuardFilter) Apply(frame *media.Frame) ([]*media.Frame, error) {
	if f.seen && frame.PTS < f.lastPTS {
		pts, last := frame.PTS, f.lastPTS
		frame.Release()
		return nil, Transient(fmt.Errorf("non-monotonic timestamp %d after %d", pts, last))
	}
	f.lastPTS = frame.PTS
	f.seen = true
	return []*media.Frame{frame}, nil
}

// Flush resets the guard across a discontinuity.
func (f *MonotonicGuardFilter) Flush() ([]*media.Frame, error) {
	f.seen = false
	return nil, nil
}

// Reconfigure ignores all parameters.
func (f *MonotonicGuardFilter) Reconfigure(map[string]string) error {
	return nil
}

// Close is a no-op.
func (f *MonotonicGuardFilter) Close() error {
	return nil
}

// NewFilter constructs a filter by name. Known names: "passthrough",
// "pts_offset" (param "offset", ticks), "monotonic_guard".
func NewFilter(name string, params map[string]string) (Filter, error) {
	switch name {
	case "", "passthrough":
		return NewPassthroughFilter(), nil
	case "pts_offset":
		f := NewTimestampOffsetFilter(0)
		if err := f.Reconfigure(params); err != nil {
			return nil, err
		}
		return f, nil
	case "monotonic_guard":
		return NewMonotonicGuardFilter(), nil
	default:
		return nil, fmt.Errorf("unknown filter %q", name)
	}
}
