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

// Mux pulls timestamp-ordered packets from a target's merge queue and writes
// them into an output container.
type Mux struct {
	*engine.BaseStage

	mux     codec.Muxer
	in      *syncqueue.SyncQueue
	streams []media.StreamInfo

	headerWritten  bool
	trailerWritten bool

	closeOnce sync.Once
	closeErr  error
}

// NewMux creates a mux stage writing streams to mux in merge order.
func NewMux(id string, mux codec.Muxer, in *syncqueue.SyncQueue, streams []media.StreamInfo, log *slog.Logger) *Mux {
	return &Mux{
		BaseStage: engine.NewBaseStage(id, engine.KindMux, -1, log),
		mux:       mux,
		in:        in,
		streams:   streams,
	}
}

// Step writes the container header on first use, then writes one packet in
// merge order. When every feeding stream has finished it writes the trailer.
func (m *Mux) Step(_ context.Context) (engine.StepStatus, error) {
	if !m.headerWritten {
		if err := m.mux.WriteHeader(m.streams); err != nil {
			return engine.StepProduced, err
		}
		m.headerWritten = true
		return engine.StepProduced, nil
	}

	pkt, ok, err := m.in.TryPop()
	switch {
	case errors.Is(err, queue.ErrEndOfStream):
		if terr := m.mux.WriteTrailer(); terr != nil {
			return engine.StepProduced, terr
		}
		m.trailerWritten = true
		return engine.StepEndOfStream, nil
	case errors.Is(err, queue.ErrClosed):
		return engine.StepProduced, engine.ErrUpstreamClosed
	case !ok:
		m.SetReady(m.in.WaitPoppable)
		return engine.StepWouldBlock, nil
	}

	m.CountIn()
	werr := m.mux.WritePacket(pkt)
	pkt.Release()
	if werr != nil {
		return engine.StepProduced, werr
	}
	m.CountOut()
	return engine.StepProduced, nil
}

// Flush has nothing buffered: packets are written as they are popped.
func (m *Mux) Flush() error {
	return nil
}

// Close finalizes the container. When the run ends abnormally the trailer is
// still attempted so partial output stays playable; its error is dropped in
// favor of the close error.
func (m *Mux) Close() error {
	m.closeOnce.Do(func() {
		if m.headerWritten && !m.trailerWritten {
			if err := m.mux.WriteTrailer(); err != nil {
				m.Logger().Warn("finalizing partial output", slog.Any("error", err))
			}
			m.trailerWritten = true
		}
		m.closeErr = m.mux.Close()
	})
	return m.closeErr
}

// CloseInputs abandons the merge queue, unblocking every encoder feeding it.
func (m *Mux) CloseInputs() {
	m.in.Close()
}

// CloseOutputs is a no-op: the container writer is released by Close.
func (m *Mux) CloseOutputs() {}
