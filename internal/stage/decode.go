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

// Decode turns one stream's packets into frames and fans them out to every
// output branch. Each delivered copy carries its own payload reference, so a
// slow branch never sees a buffer recycled under it.
type Decode struct {
	*engine.BaseStage

	dec codec.Decoder
	in  *engine.PacketEdge

	outs []*engine.FrameEdge
	open []bool

	// backlog holds produced items not yet delivered to every open branch;
	// next is the branch index the head item goes to next.
	backlog []engine.FrameItem
	next    int

	closeOnce sync.Once
	closeErr  error
}

// NewDecode creates a decode stage for one stream, fanning frames out to
// outs.
func NewDecode(id string, stream media.StreamID, dec codec.Decoder, in *engine.PacketEdge, outs []*engine.FrameEdge, log *slog.Logger) *Decode {
	return &Decode{
		BaseStage: engine.NewBaseStage(id, engine.KindDecode, stream, log),
		dec:       dec,
		in:        in,
		outs:      outs,
		open:      openFlags(len(outs)),
	}
}

func openFlags(n int) []bool {
	open := make([]bool, n)
	for i := range open {
		open[i] = true
	}
	return open
}

// Step delivers backlogged frames first, then consumes one input item.
func (d *Decode) Step(ctx context.Context) (engine.StepStatus, error) {
	if len(d.backlog) > 0 {
		return d.deliver()
	}

	item, ok, err := d.in.TryReceive()
	switch {
	case errors.Is(err, queue.ErrEndOfStream):
		return d.drainStep()
	case errors.Is(err, queue.ErrClosed):
		return engine.StepProduced, engine.ErrUpstreamClosed
	case !ok:
		d.SetReady(d.in.WaitReceivable)
		return engine.StepWouldBlock, nil
	}

	if item.Flush {
		frames, ferr := d.dec.Drain()
		if ferr != nil {
			return engine.StepProduced, ferr
		}
		d.enqueue(frames)
		d.backlog = append(d.backlog, queue.FlushMarker[*media.Frame]())
		return d.deliver()
	}

	d.CountIn()
	frames, derr := d.dec.Decode(item.Payload)
	if derr != nil {
		return engine.StepProduced, derr
	}
	if len(frames) == 0 {
		return engine.StepProduced, nil
	}
	d.enqueue(frames)
	return d.deliver()
}

// drainStep empties the decoder after upstream end of stream, one batch per
// step, and finishes the outputs once the decoder is dry.
func (d *Decode) drainStep() (engine.StepStatus, error) {
	d.MarkDraining()
	frames, err := d.dec.Drain()
	if err != nil {
		return engine.StepProduced, err
	}
	if len(frames) == 0 {
		for _, out := range d.outs {
			out.Finish()
		}
		return engine.StepEndOfStream, nil
	}
	d.enqueue(frames)
	return d.deliver()
}

func (d *Decode) enqueue(frames []*media.Frame) {
	for _, f := range frames {
		d.backlog = append(d.backlog, queue.Data(f))
	}
}

// deliver sends the head backlog item to each remaining open branch. Each
// branch gets its own Frame clone sharing the pooled payload, so branches can
// rewrite timestamps or detach the buffer without disturbing their siblings.
// The producer's own reference is dropped after the last branch.
func (d *Decode) deliver() (engine.StepStatus, error) {
	item := d.backlog[0]
	for d.next < len(d.outs) {
		if !d.open[d.next] {
			d.next++
			continue
		}
		out := d.outs[d.next]
		send := item
		if !item.Flush {
			send = queue.Data(item.Payload.Clone())
		}
		ok, err := out.TrySend(send)
		if errors.Is(err, queue.ErrClosed) {
			if !send.Flush {
				send.Payload.Release()
			}
			d.open[d.next] = false
			d.next++
			continue
		}
		if !ok {
			if !send.Flush {
				send.Payload.Release()
			}
			d.SetReady(out.WaitSendable)
			return engine.StepWouldBlock, nil
		}
		d.next++
	}

	if !item.Flush {
		item.Payload.Release()
	}
	d.backlog = d.backlog[1:]
	d.next = 0

	if !anyOpen(d.open) {
		return engine.StepProduced, engine.ErrDownstreamClosed
	}
	if !item.Flush {
		d.CountOut()
	}
	return engine.StepProduced, nil
}

func anyOpen(open []bool) bool {
	for _, o := range open {
		if o {
			return true
		}
	}
	return false
}

// Flush drains the decoder's buffered frames into the backlog and appends a
// marker so downstream stages flush too.
func (d *Decode) Flush() error {
	frames, err := d.dec.Drain()
	if err != nil {
		return err
	}
	d.enqueue(frames)
	d.backlog = append(d.backlog, queue.FlushMarker[*media.Frame]())
	return nil
}

// Close releases undelivered backlog payloads and the decoder.
func (d *Decode) Close() error {
	d.closeOnce.Do(func() {
		for _, item := range d.backlog {
			if !item.Flush {
				item.Payload.Release()
			}
		}
		d.backlog = nil
		d.closeErr = d.dec.Close()
	})
	return d.closeErr
}

// CloseInputs abandons the inbound edge.
func (d *Decode) CloseInputs() {
	d.in.Close()
}

// CloseOutputs abandons every outbound branch.
func (d *Decode) CloseOutputs() {
	for _, out := range d.outs {
		out.Close()
	}
}
