// Package pipeline assembles runnable jobs: it turns a job document into a
// stage graph wired with queues, merge queues, and container adapters, and
// hands the graph to the engine scheduler.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tsformat "github.com/jmylchreest/flowmux/internal/container/mpegts"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/engine"
	"github.com/jmylchreest/flowmux/internal/jobspec"
	"github.com/jmylchreest/flowmux/internal/media"
	"github.com/jmylchreest/flowmux/internal/pool"
	"github.com/jmylchreest/flowmux/internal/sourceio"
	"github.com/jmylchreest/flowmux/internal/stage"
	"github.com/jmylchreest/flowmux/internal/syncqueue"
)

// Builder provides a fluent interface for constructing a Job.
type Builder struct {
	spec      *jobspec.Spec
	cfg       engine.Config
	pool      *pool.Pool
	outputDir string
	logger    *slog.Logger
}

// NewBuilder creates a new job Builder.
func NewBuilder() *Builder {
	return &Builder{
		cfg: engine.Config{}.WithDefaults(),
	}
}

// WithSpec sets the job document.
func (b *Builder) WithSpec(spec *jobspec.Spec) *Builder {
	b.spec = spec
	return b
}

// WithEngineConfig sets the engine tuning parameters.
func (b *Builder) WithEngineConfig(cfg engine.Config) *Builder {
	b.cfg = cfg.WithDefaults()
	return b
}

// WithPool sets the payload buffer pool.
func (b *Builder) WithPool(p *pool.Pool) *Builder {
	b.pool = p
	return b
}

// WithOutputDir sets the directory relative output paths resolve against.
func (b *Builder) WithOutputDir(dir string) *Builder {
	b.outputDir = dir
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build opens the input, probes its streams, and wires the full stage graph.
// The caller owns the returned Job and must Close it.
func (b *Builder) Build() (*Job, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	log := b.logger
	if log == nil {
		log = slog.Default()
	}

	src, err := sourceio.Open(b.spec.Input)
	if err != nil {
		return nil, err
	}
	job := &Job{src: src, pool: b.pool, log: log}

	dmx, err := tsformat.NewDemuxer(src, b.pool, log)
	if err != nil {
		job.Close()
		return nil, err
	}
	job.demuxer = dmx

	if err := b.wire(job, dmx); err != nil {
		job.Close()
		return nil, err
	}

	sched, err := engine.New(b.cfg, job.graph, log)
	if err != nil {
		job.Close()
		return nil, err
	}
	job.scheduler = sched
	return job, nil
}

func (b *Builder) validate() error {
	if b.spec == nil {
		return engine.Structuralf("job spec is required")
	}
	if b.pool == nil {
		return engine.Structuralf("buffer pool is required")
	}
	return nil
}

// wire builds the stage graph: one demux, one decode branch per selected
// stream, and per target a filter and encode branch per stream feeding a
// merge queue drained by that target's mux.
func (b *Builder) wire(job *Job, dmx codec.Demuxer) error {
	log := job.log
	streams := dmx.Streams()
	byID := make(map[media.StreamID]media.StreamInfo, len(streams))
	for _, s := range streams {
		byID[s.ID] = s
	}

	// Resolve each target's selection up front so unknown stream IDs fail
	// before any file is created.
	selections := make([][]media.StreamInfo, len(b.spec.Outputs))
	for t, out := range b.spec.Outputs {
		sel, err := selectStreams(out, streams, byID)
		if err != nil {
			return err
		}
		selections[t] = sel
	}

	// Which streams feed at least one target, and which targets want each.
	targetsByStream := make(map[media.StreamID][]int)
	for t, sel := range selections {
		for _, s := range sel {
			targetsByStream[s.ID] = append(targetsByStream[s.ID], t)
		}
	}

	graph := engine.NewGraph()
	job.graph = graph

	// Demux feeds one packet edge per used stream.
	demuxOuts := make(map[media.StreamID]*engine.PacketEdge, len(targetsByStream))
	decodeIn := make(map[media.StreamID]*engine.PacketEdge, len(targetsByStream))
	for id := range targetsByStream {
		edge := engine.NewPacketEdge(b.cfg.QueueCapacity)
		demuxOuts[id] = edge
		decodeIn[id] = edge
	}
	demux := stage.NewDemux("demux", dmx, demuxOuts, log)
	if err := graph.AddStage(demux); err != nil {
		return err
	}

	// Per-target merge queues and mux stages.
	syncs := make([]*syncqueue.SyncQueue, len(b.spec.Outputs))
	for t, out := range b.spec.Outputs {
		sq := syncqueue.New(b.cfg.LookaheadWindow)
		for _, s := range selections[t] {
			if err := sq.AddStream(s.ID); err != nil {
				return err
			}
		}
		syncs[t] = sq

		f, err := job.createOutput(b.resolvePath(out.Path))
		if err != nil {
			return err
		}
		mux := stage.NewMux(muxID(t), tsformat.NewMuxer(f, log), sq, selections[t], log)
		if err := graph.AddStage(mux); err != nil {
			return err
		}
	}

	// Decode, filter, and encode branches.
	for id, targets := range targetsByStream {
		info := byID[id]
		format := media.FormatDescriptor{
			Codec:      info.Codec,
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
		}

		decodeOuts := make([]*engine.FrameEdge, len(targets))
		for i := range targets {
			decodeOuts[i] = engine.NewFrameEdge(b.cfg.QueueCapacity)
		}
		dec := stage.NewDecode(decodeID(id), id, codec.NewIdentityDecoder(format), decodeIn[id], decodeOuts, log)
		if err := graph.AddStage(dec); err != nil {
			return err
		}
		graph.AddEdge(fmt.Sprintf("pkt/%d", id), "demux", []string{dec.ID()}, decodeIn[id])

		for i, t := range targets {
			chain, err := buildChain(b.spec.Outputs[t].Filters)
			if err != nil {
				return err
			}
			filterOut := engine.NewFrameEdge(b.cfg.QueueCapacity)

			flt := stage.NewFilterStage(filterID(t, id), id, chain, decodeOuts[i], filterOut, log)
			if err := graph.AddStage(flt); err != nil {
				return err
			}
			enc := stage.NewEncode(encodeID(t, id), id, codec.NewIdentityEncoder(), filterOut, syncs[t], log)
			if err := graph.AddStage(enc); err != nil {
				return err
			}

			graph.AddEdge(fmt.Sprintf("frm/%d/t%d", id, t), dec.ID(), []string{flt.ID()}, decodeOuts[i])
			graph.AddEdge(fmt.Sprintf("flt/%d/t%d", id, t), flt.ID(), []string{enc.ID()}, filterOut)
			graph.AddEdge(fmt.Sprintf("mrg/%d/t%d", id, t), enc.ID(), []string{muxID(t)}, syncs[t])
		}
	}

	return nil
}

// selectStreams resolves one target's stream selection in declaration order.
func selectStreams(out jobspec.Output, all []media.StreamInfo, byID map[media.StreamID]media.StreamInfo) ([]media.StreamInfo, error) {
	if len(out.Streams) == 0 {
		return all, nil
	}
	sel := make([]media.StreamInfo, 0, len(out.Streams))
	for _, sid := range out.Streams {
		info, ok := byID[media.StreamID(sid)]
		if !ok {
			return nil, engine.Structuralf("output %q selects unknown stream %d", out.Path, sid)
		}
		sel = append(sel, info)
	}
	return sel, nil
}

// buildChain constructs the filter chain for one branch.
func buildChain(filters []jobspec.Filter) ([]codec.Filter, error) {
	chain := make([]codec.Filter, 0, len(filters))
	for _, f := range filters {
		flt, err := codec.NewFilter(f.Name, f.Params)
		if err != nil {
			return nil, engine.Structuralf("building filter: %v", err)
		}
		chain = append(chain, flt)
	}
	return chain, nil
}

func (b *Builder) resolvePath(p string) string {
	if filepath.IsAbs(p) || b.outputDir == "" {
		return p
	}
	return filepath.Join(b.outputDir, p)
}

func muxID(t int) string               { return fmt.Sprintf("mux%d", t) }
func decodeID(s media.StreamID) string { return fmt.Sprintf("decode/%d", s) }
func filterID(t int, s media.StreamID) string {
	return fmt.Sprintf("filter%d/%d", t, s)
}
func encodeID(t int, s media.StreamID) string {
	return fmt.Sprintf("encode%d/%d", t, s)
}

// createOutput creates the target file, making parent directories as needed.
func (j *Job) createOutput(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	j.outputs = append(j.outputs, f)
	return f, nil
}
