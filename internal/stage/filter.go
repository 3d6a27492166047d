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
)

// Filter runs one stream's frames through an ordered chain of filters. An
// empty chain is the identity.
type Filter struct {
	*engine.BaseStage

	chain []codec.Filter
	in    *engine.FrameEdge
	out   *engine.FrameEdge

	backlog []engine.FrameItem

	closeOnce sync.Once
	closeErr  error
}

// NewFilterStage creates a filter stage applying chain in order.
func NewFilterStage(id string, stream media.StreamID, chain []codec.Filter, in, out *engine.FrameEdge, log *slog.Logger) *Filter {
	return &Filter{
		BaseStage: engine.NewBaseStage(id, engine.KindFilter, stream, log),
		chain:     chain,
		in:        in,
		out:       out,
	}
}

// Reconfigure forwards parameters to every filter in the chain. Filters
// ignore keys they do not recognize.
func (f *Filter) Reconfigure(params map[string]string) error {
	for _, flt := range f.chain {
		if err := flt.Reconfigure(params); err != nil {
			return err
		}
	}
	return nil
}

// Step delivers backlogged frames first, then consumes one input item.
func (f *Filter) Step(_ context.Context) (engine.StepStatus, error) {
	if len(f.backlog) > 0 {
		return f.deliver()
	}

	item, ok, err := f.in.TryReceive()
	switch {
	case errors.Is(err, queue.ErrEndOfStream):
		return f.drainStep()
	case errors.Is(err, queue.ErrClosed):
		return engine.StepProduced, engine.ErrUpstreamClosed
	case !ok:
		f.SetReady(f.in.WaitReceivable)
		return engine.StepWouldBlock, nil
	}

	if item.Flush {
		frames, ferr := f.flushChain()
		if ferr != nil {
			return engine.StepProduced, ferr
		}
		f.enqueue(frames)
		f.backlog = append(f.backlog, queue.FlushMarker[*media.Frame]())
		return f.deliver()
	}

	f.CountIn()
	frames, aerr := f.applyChain(0, item.Payload)
	if aerr != nil {
		return engine.StepProduced, aerr
	}
	if len(frames) == 0 {
		return engine.StepProduced, nil
	}
	f.enqueue(frames)
	return f.deliver()
}

// applyChain pushes one frame through the chain starting at link i. Each link
// may multiply or absorb frames.
func (f *Filter) applyChain(i int, frame *media.Frame) ([]*media.Frame, error) {
	if i >= len(f.chain) {
		return []*media.Frame{frame}, nil
	}
	mid, err := f.chain[i].Apply(frame)
	if err != nil {
		return nil, err
	}
	var result []*media.Frame
	for _, m := range mid {
		rest, rerr := f.applyChain(i+1, m)
		if rerr != nil {
			releaseFrames(result)
			return nil, rerr
		}
		result = append(result, rest...)
	}
	return result, nil
}

// flushChain flushes every link in order, pushing flushed frames through the
// remainder of the chain.
func (f *Filter) flushChain() ([]*media.Frame, error) {
	var result []*media.Frame
	for i, flt := range f.chain {
		frames, err := flt.Flush()
		if err != nil {
			releaseFrames(result)
			return nil, err
		}
		for _, frame := range frames {
			rest, rerr := f.applyChain(i+1, frame)
			if rerr != nil {
				releaseFrames(result)
				return nil, rerr
			}
			result = append(result, rest...)
		}
	}
	return result, nil
}

func releaseFrames(frames []*media.Frame) {
	for _, f := range frames {
		f.Release()
	}
}

func (f *Filter) enqueue(frames []*media.Frame) {
	for _, frame := range frames {
		f.backlog = append(f.backlog, queue.Data(frame))
	}
}

// drainStep flushes the chain after upstream end of stream and finishes the
// output once everything is delivered.
func (f *Filter) drainStep() (engine.StepStatus, error) {
	f.MarkDraining()
	frames, err := f.flushChain()
	if err != nil {
		return engine.StepProduced, err
	}
	if len(frames) == 0 {
		f.out.Finish()
		return engine.StepEndOfStream, nil
	}
	f.enqueue(frames)
	return f.deliver()
}

// deliver sends the head backlog item downstream.
func (f *Filter) deliver() (engine.StepStatus, error) {
	item := f.backlog[0]
	ok, err := f.out.TrySend(item)
	if errors.Is(err, queue.ErrClosed) {
		return engine.StepProduced, engine.ErrDownstreamClosed
	}
	if !ok {
		f.SetReady(f.out.WaitSendable)
		return engine.StepWouldBlock, nil
	}
	f.backlog = f.backlog[1:]
	if !item.Flush {
		f.CountOut()
	}
	return engine.StepProduced, nil
}

// Flush pushes buffered chain state into the backlog followed by a marker.
func (f *Filter) Flush() error {
	frames, err := f.flushChain()
	if err != nil {
		return err
	}
	f.enqueue(frames)
	f.backlog = append(f.backlog, queue.FlushMarker[*media.Frame]())
	return nil
}

// Close releases undelivered backlog payloads and every chain link.
func (f *Filter) Close() error {
	f.closeOnce.Do(func() {
		for _, item := range f.backlog {
			if !item.Flush {
				item.Payload.Release()
			}
		}
		f.backlog = nil
		for _, flt := range f.chain {
			if err := flt.Close(); err != nil && f.closeErr == nil {
				f.closeErr = err
			}
		}
	})
	return f.closeErr
}

// CloseInputs abandons the inbound edge.
func (f *Filter) CloseInputs() {
	f.in.Close()
}

// CloseOutputs abandons the outbound edge.
func (f *Filter) CloseOutputs() {
	f.out.Close()
}
