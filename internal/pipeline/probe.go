package pipeline

import (
	"log/slog"

	tsformat "github.com/jmylchreest/flowmux/internal/container/mpegts"

	"github.com/jmylchreest/flowmux/internal/media"
	"github.com/jmylchreest/flowmux/internal/pool"
	"github.com/jmylchreest/flowmux/internal/sourceio"
)

// ProbeResult describes an input without transcoding it.
type ProbeResult struct {
	Compression string             `json:"compression"`
	Streams     []media.StreamInfo `json:"streams"`
}

// Probe opens an input, detects its compression, and reports the streams
// found in the container.
func Probe(path string, log *slog.Logger) (*ProbeResult, error) {
	src, err := sourceio.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	p := pool.New()
	defer p.Close()

	dmx, err := tsformat.NewDemuxer(src, p, log)
	if err != nil {
		return nil, err
	}
	defer dmx.Close()

	return &ProbeResult{
		Compression: src.Compression,
		Streams:     dmx.Streams(),
	}, nil
}
