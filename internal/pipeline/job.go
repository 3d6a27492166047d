package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/engine"
	"github.com/jmylchreest/flowmux/internal/pool"
	"github.com/jmylchreest/flowmux/internal/sourceio"
)

// Job is one fully wired run: input, stage graph, and scheduler. Build it
// with a Builder, run it once, then Close it.
type Job struct {
	src       *sourceio.Source
	demuxer   codec.Demuxer
	graph     *engine.Graph
	scheduler *engine.Scheduler
	pool      *pool.Pool
	outputs   []*os.File
	log       *slog.Logger

	closeOnce sync.Once
}

// Streams describes the input streams discovered while building.
func (j *Job) Streams() []string {
	var out []string
	for _, s := range j.demuxer.Streams() {
		out = append(out, s.String())
	}
	return out
}

// Run drives the graph to completion and returns the run result.
func (j *Job) Run(ctx context.Context) (*engine.Result, error) {
	return j.scheduler.Run(ctx)
}

// RequestStop asks a running job to stop cooperatively and waits for the
// stages to settle.
func (j *Job) RequestStop() {
	j.scheduler.RequestStop()
}

// Close releases the input and any output files the stages did not already
// close. Idempotent.
func (j *Job) Close() {
	j.closeOnce.Do(func() {
		if j.demuxer != nil {
			if err := j.demuxer.Close(); err != nil {
				j.log.Debug("closing demuxer", slog.Any("error", err))
			}
		}
		if j.src != nil {
			if err := j.src.Close(); err != nil {
				j.log.Debug("closing input", slog.Any("error", err))
			}
		}
		for _, f := range j.outputs {
			// Mux stages close their own file through the muxer; this
			// only matters when Build fails partway.
			_ = f.Close()
		}
	})
}
