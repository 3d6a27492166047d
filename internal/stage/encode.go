package stage

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/engine"
	"github.com/jmylchreest/flowmux/internal/media"
	"github.com/jmylchreest/flowmux/internal/queue"
	"github.com/jmylchreest/flowmux/internal/syncqueue"
)

// Encode turns one stream's frames into packets and pushes them into the
// output target's merge queue. Closing the outputs abandons the whole merge
// queue, which takes the rest of the target down with this branch.
type Encode struct {
	*engine.BaseStage

	enc codec.Encoder
	in  *engine.FrameEdge
	out *syncqueue.SyncQueue

	backlog []*media.Packet

	closeOnce sync.Once
	closeErr  error
}

// NewEncode creates an encode stage for one stream feeding out. The stream
// must already be registered with out.
func NewEncode(id string, stream media.StreamID, enc codec.Encoder, in *engine.FrameEdge, out *syncqueue.SyncQueue, log *slog.Logger) *Encode {
	return &Encode{
		BaseStage: engine.NewBaseStage(id, engine.KindEncode, stream, log),
		enc:       enc,
		in:        in,
		out:       out,
	}
}

// Step delivers backlogged packets first, then consumes one input item.
func (e *Encode) Step(_ context.Context) (engine.StepStatus, error) {
	if len(e.backlog) > 0 {
		return e.deliver()
	}

	item, ok, err := e.in.TryReceive()
	switch {
	case errors.Is(err, queue.ErrEndOfStream):
		return e.drainStep()
	case errors.Is(err, queue.ErrClosed):
		return engine.StepProduced, engine.ErrUpstreamClosed
	case !ok:
		e.SetReady(e.in.WaitReceivable)
		return engine.StepWouldBlock, nil
	}

	if item.Flush {
		// A discontinuity boundary: emit buffered packets now. The merge
		// queue orders on timestamps, so no marker crosses it.
		pkts, ferr := e.enc.Drain()
		if ferr != nil {
			return engine.StepProduced, ferr
		}
		e.backlog = append(e.backlog, pkts...)
		if len(e.backlog) == 0 {
			return engine.StepProduced, nil
		}
		return e.deliver()
	}

	e.CountIn()
	pkts, eerr := e.enc.Encode(item.Payload)
	if eerr != nil {
		return engine.StepProduced, eerr
	}
	if len(pkts) == 0 {
		return engine.StepProduced, nil
	}
	e.backlog = append(e.backlog, pkts...)
	return e.deliver()
}

// drainStep empties the encoder after upstream end of stream and then marks
// this stream finished in the merge queue.
func (e *Encode) drainStep() (engine.StepStatus, error) {
	e.MarkDraining()
	pkts, err := e.enc.Drain()
	if err != nil {
		return engine.StepProduced, err
	}
	if len(pkts) == 0 {
		e.out.Finish(e.PrimaryStream())
		return engine.StepEndOfStream, nil
	}
	e.backlog = append(e.backlog, pkts...)
	return e.deliver()
}

// deliver pushes the head backlog packet into the merge queue.
func (e *Encode) deliver() (engine.StepStatus, error) {
	pkt := e.backlog[0]
	ok, err := e.out.TryPush(pkt)
	if errors.Is(err, queue.ErrClosed) {
		return engine.StepProduced, engine.ErrDownstreamClosed
	}
	if !ok {
		stream := e.PrimaryStream()
		e.SetReady(func(ctx context.Context) error {
			return e.out.WaitPushable(ctx, stream)
		})
		return engine.StepWouldBlock, nil
	}
	e.backlog = e.backlog[1:]
	e.CountOut()
	return engine.StepProduced, nil
}

// Flush drains the encoder's buffered packets into the backlog.
func (e *Encode) Flush() error {
	pkts, err := e.enc.Drain()
	if err != nil {
		return err
	}
	e.backlog = append(e.backlog, pkts...)
	return nil
}

// Close releases undelivered backlog payloads and the encoder.
func (e *Encode) Close() error {
	e.closeOnce.Do(func() {
		for _, pkt := range e.backlog {
			pkt.Release()
		}
		e.backlog = nil
		e.closeErr = e.enc.Close()
	})
	return e.closeErr
}

// CloseInputs abandons the inbound edge.
func (e *Encode) CloseInputs() {
	e.in.Close()
}

// CloseOutputs abandons the target's merge queue. Sibling branches feeding
// the same target observe the closure and terminate; other targets are
// untouched.
func (e *Encode) CloseOutputs() {
	e.out.Close()
}
