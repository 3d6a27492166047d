// Package engine provides the pipeline scheduling core: the stage lifecycle
// contract, the job graph of stages connected by bounded queues, and the
// scheduler that drives every stage to a terminal state while propagating
// termination and failure through the graph.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jmylchreest/flowmux/internal/media"
	"github.com/jmylchreest/flowmux/internal/queue"
)

// StageKind identifies the closed set of stage variants.
type StageKind string

// Stage kinds.
const (
	KindDemux  StageKind = "demux"
	KindDecode StageKind = "decode"
	KindFilter StageKind = "filter"
	KindEncode StageKind = "encode"
	KindMux    StageKind = "mux"
)

// StageState tracks a stage through its lifecycle. Finished and Failed are
// terminal.
type StageState int32

// Stage states.
const (
	StateIdle StageState = iota
	StateRunning
	StateDraining
	StateFinished
	StateFailed
)

// String returns the lowercase state name.
func (s StageState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is Finished or Failed.
func (s StageState) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// MarshalText implements encoding.TextMarshaler so state names appear in
// JSON run reports.
func (s StageState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StepStatus is the outcome of one unit of stage work.
type StepStatus int

// Step outcomes.
const (
	// StepProduced means the step made progress; call Step again.
	StepProduced StepStatus = iota
	// StepWouldBlock means no input was ready or no output had space; the
	// driver should wait for readiness before the next Step.
	StepWouldBlock
	// StepEndOfStream means the stage has drained: all inputs are
	// exhausted and all outputs have been finished.
	StepEndOfStream
)

// Item aliases re-exported for stage wiring.
type (
	// PacketItem is a queue element carrying a compressed packet or an
	// in-band flush marker.
	PacketItem = queue.Item[*media.Packet]
	// FrameItem is a queue element carrying a raw frame or an in-band
	// flush marker.
	FrameItem = queue.Item[*media.Frame]
	// PacketEdge connects two stages exchanging packets.
	PacketEdge = queue.Queue[PacketItem]
	// FrameEdge connects two stages exchanging frames.
	FrameEdge = queue.Queue[FrameItem]
)

// NewPacketEdge creates a packet edge that releases buffered payloads back
// to the pool when the edge is abandoned.
func NewPacketEdge(capacity int) *PacketEdge {
	return queue.NewWithRelease(capacity, func(item PacketItem) {
		if !item.Flush {
			item.Payload.Release()
		}
	})
}

// NewFrameEdge creates a frame edge that releases buffered payloads back to
// the pool when the edge is abandoned.
func NewFrameEdge(capacity int) *FrameEdge {
	return queue.NewWithRelease(capacity, func(item FrameItem) {
		if !item.Flush {
			item.Payload.Release()
		}
	})
}

// Stage is the uniform lifecycle contract implemented by every pipeline
// stage variant. Stages never run their own scheduling loop: the Scheduler
// calls Step repeatedly and decides which execution context it runs on.
type Stage interface {
	// ID returns the stage's unique identifier within its graph.
	ID() string

	// Kind returns the stage variant.
	Kind() StageKind

	// Step performs one non-reentrant unit of work: read up to one input,
	// do one transform, write zero or more outputs. It must not block
	// outside queue operations. Errors are classified by the taxonomy in
	// errors.go; a transient error is absorbed by the driver, anything
	// else is fatal to the stage.
	Step(ctx context.Context) (StepStatus, error)

	// WaitReady blocks until the edge that caused the last StepWouldBlock
	// can make progress, or ctx is cancelled.
	WaitReady(ctx context.Context) error

	// Flush forces internally buffered output out ahead of new input.
	// Stages also flush themselves when an in-band marker arrives.
	Flush() error

	// Close releases stage-owned resources. Idempotent.
	Close() error

	// CloseInputs abandons the stage's inbound edges so upstream senders
	// observe a closed result instead of blocking forever.
	CloseInputs()

	// CloseOutputs abandons the stage's outbound edges so downstream
	// consumers drain and terminate.
	CloseOutputs()

	// State returns the stage's lifecycle state.
	State() StageState

	// PrimaryStream identifies the stream this stage serves, for failure
	// reporting. Multi-stream stages (demux, mux) return -1.
	PrimaryStream() media.StreamID

	// Stats returns a snapshot of the stage's counters.
	Stats() StageStats

	base() *BaseStage
}

// StageStats is a point-in-time snapshot of stage activity.
type StageStats struct {
	UnitsIn        int64 `json:"units_in"`
	UnitsOut       int64 `json:"units_out"`
	TransientSkips int64 `json:"transient_skips"`
}

// BaseStage carries the bookkeeping common to all stage variants. Embed it
// by pointer in concrete stages.
type BaseStage struct {
	id     string
	kind   StageKind
	stream media.StreamID
	log    *slog.Logger

	state    atomic.Int32
	abnormal atomic.Bool

	unitsIn        atomic.Int64
	unitsOut       atomic.Int64
	transientSkips atomic.Int64

	// ready is set by the concrete stage before returning StepWouldBlock
	// and consumed by WaitReady from the same driver goroutine.
	ready func(ctx context.Context) error
}

// NewBaseStage creates stage bookkeeping. Pass stream -1 for multi-stream
// stages.
func NewBaseStage(id string, kind StageKind, stream media.StreamID, log *slog.Logger) *BaseStage {
	if log == nil {
		log = slog.Default()
	}
	return &BaseStage{
		id:     id,
		kind:   kind,
		stream: stream,
		log:    log.With(slog.String("stage", id)),
	}
}

// ID returns the stage identifier.
func (b *BaseStage) ID() string { return b.id }

// Kind returns the stage variant.
func (b *BaseStage) Kind() StageKind { return b.kind }

// PrimaryStream returns the stream this stage serves, or -1.
func (b *BaseStage) PrimaryStream() media.StreamID { return b.stream }

// State returns the current lifecycle state.
func (b *BaseStage) State() StageState { return StageState(b.state.Load()) }

// setState transitions the lifecycle state. Terminal states stick.
func (b *BaseStage) setState(s StageState) {
	for {
		cur := StageState(b.state.Load())
		if cur.Terminal() {
			return
		}
		if b.state.CompareAndSwap(int32(cur), int32(s)) {
			return
		}
	}
}

// MarkDraining moves the stage to Draining. Stages call this when upstream
// ends and buffered state still has units to flush. Terminal states stick.
func (b *BaseStage) MarkDraining() { b.setState(StateDraining) }

// markAbnormal flags that the stage terminated due to propagated closure or
// cancellation rather than normal end of stream.
func (b *BaseStage) markAbnormal() { b.abnormal.Store(true) }

// Abnormal reports whether termination was abnormal.
func (b *BaseStage) Abnormal() bool { return b.abnormal.Load() }

// Logger returns the stage-scoped logger.
func (b *BaseStage) Logger() *slog.Logger { return b.log }

// CountIn increments the consumed-units counter.
func (b *BaseStage) CountIn() { b.unitsIn.Add(1) }

// CountOut increments the produced-units counter.
func (b *BaseStage) CountOut() { b.unitsOut.Add(1) }

// CountTransient increments the absorbed-transient-errors counter.
func (b *BaseStage) CountTransient() { b.transientSkips.Add(1) }

// Stats returns a snapshot of the stage counters.
func (b *BaseStage) Stats() StageStats {
	return StageStats{
		UnitsIn:        b.unitsIn.Load(),
		UnitsOut:       b.unitsOut.Load(),
		TransientSkips: b.transientSkips.Load(),
	}
}

// SetReady records the wait that unblocks the next Step.
func (b *BaseStage) SetReady(wait func(ctx context.Context) error) { b.ready = wait }

// WaitReady blocks until the recorded readiness condition holds. A stage
// that never reported StepWouldBlock returns immediately.
func (b *BaseStage) WaitReady(ctx context.Context) error {
	if b.ready == nil {
		return ctx.Err()
	}
	wait := b.ready
	b.ready = nil
	return wait(ctx)
}

func (b *BaseStage) base() *BaseStage { return b }
