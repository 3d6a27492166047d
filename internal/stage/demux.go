// Package stage adapts codec components to the engine's Stage contract.
// Each stage owns its codec component and its outbound edges; inbound edges
// are owned by the upstream stage but abandoned here on failure so producers
// never block forever.
package stage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/engine"
	"github.com/jmylchreest/flowmux/internal/media"
	"github.com/jmylchreest/flowmux/internal/queue"
)

// Demux reads packets from a container and routes each to its stream's edge.
type Demux struct {
	*engine.BaseStage

	dmx  codec.Demuxer
	outs map[media.StreamID]*engine.PacketEdge

	// pending holds a packet whose edge was full on the last step.
	pending *media.Packet

	closeOnce sync.Once
	closeErr  error
}

// NewDemux creates a demux stage routing packets onto per-stream edges.
// Packets for streams without an edge are dropped.
func NewDemux(id string, dmx codec.Demuxer, outs map[media.StreamID]*engine.PacketEdge, log *slog.Logger) *Demux {
	return &Demux{
		BaseStage: engine.NewBaseStage(id, engine.KindDemux, -1, log),
		dmx:       dmx,
		outs:      outs,
	}
}

// Streams describes the streams discovered in the input container.
func (d *Demux) Streams() []media.StreamInfo {
	return d.dmx.Streams()
}

// Step reads one packet from the container and forwards it, or retries the
// packet left over from a full edge.
func (d *Demux) Step(_ context.Context) (engine.StepStatus, error) {
	if d.pending != nil {
		return d.deliver()
	}

	pkt, err := d.dmx.ReadPacket()
	if errors.Is(err, io.EOF) {
		for _, out := range d.outs {
			out.Finish()
		}
		return engine.StepEndOfStream, nil
	}
	if err != nil {
		return engine.StepProduced, err
	}
	d.CountIn()

	if _, ok := d.outs[pkt.Stream]; !ok {
		pkt.Release()
		return engine.StepProduced, nil
	}
	d.pending = pkt
	return d.deliver()
}

// deliver tries to place the pending packet on its stream's edge.
func (d *Demux) deliver() (engine.StepStatus, error) {
	pkt := d.pending
	out := d.outs[pkt.Stream]

	ok, err := out.TrySend(queue.Data(pkt))
	if errors.Is(err, queue.ErrClosed) {
		// Consumer gone. Drop this stream and keep serving the others.
		pkt.Release()
		d.pending = nil
		delete(d.outs, pkt.Stream)
		if len(d.outs) == 0 {
			return engine.StepProduced, engine.ErrDownstreamClosed
		}
		return engine.StepProduced, nil
	}
	if !ok {
		d.SetReady(out.WaitSendable)
		return engine.StepWouldBlock, nil
	}
	d.pending = nil
	d.CountOut()
	return engine.StepProduced, nil
}

// Flush has no buffered output beyond the single pending packet, which the
// next Step retries anyway.
func (d *Demux) Flush() error {
	return nil
}

// Close closes the underlying demuxer and releases the pending packet.
func (d *Demux) Close() error {
	d.closeOnce.Do(func() {
		if d.pending != nil {
			d.pending.Release()
			d.pending = nil
		}
		d.closeErr = d.dmx.Close()
	})
	return d.closeErr
}

// CloseInputs is a no-op: demux stages have no inbound edges.
func (d *Demux) CloseInputs() {}

// CloseOutputs abandons every outbound edge.
func (d *Demux) CloseOutputs() {
	for _, out := range d.outs {
		out.Close()
	}
}
