// Package mpegts adapts MPEG transport stream reading and writing to the
// pipeline's container interfaces, using mediacommon for the heavy lifting.
package mpegts

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/media"
	"github.com/jmylchreest/flowmux/internal/pool"
)

// payload class used for demuxed packet buffers.
const packetClass = "ts-packet"

// audio frame durations in 90 kHz ticks at the assumed 48 kHz rate, used
// when a codec carries several frames per PES packet.
const (
	mp3FrameTicks  = 1152 * media.ClockRate / 48000
	opusFrameTicks = 960 * media.ClockRate / 48000
)

// Demuxer reads an MPEG-TS input and yields packets in container order. It
// is a synchronous pull adapter: ReadPacket runs the underlying reader until
// a track callback produces something.
type Demuxer struct {
	reader  *mpegts.Reader
	pool    *pool.Pool
	log     *slog.Logger
	streams []media.StreamInfo

	// fifo holds packets produced by callbacks ahead of the consumer. One
	// reader pass can yield several packets.
	fifo []*media.Packet

	closed bool
}

// NewDemuxer probes r for PAT/PMT and registers per-track callbacks. It
// fails when the input contains no supported track.
func NewDemuxer(r io.Reader, p *pool.Pool, log *slog.Logger) (*Demuxer, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Demuxer{
		reader: &mpegts.Reader{R: r},
		pool:   p,
		log:    log,
	}
	if err := d.reader.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts reader: %w", err)
	}

	d.reader.OnDecodeError(func(err error) {
		d.log.Debug("mpegts decode error", slog.String("error", err.Error()))
	})

	for _, track := range d.reader.Tracks() {
		d.setupTrack(track)
	}
	if len(d.streams) == 0 {
		return nil, fmt.Errorf("no supported tracks in input")
	}
	return d, nil
}

// setupTrack registers the callback for one discovered track and records its
// stream description. Unsupported codecs are skipped.
func (d *Demuxer) setupTrack(track *mpegts.Track) {
	id := media.StreamID(len(d.streams))

	switch c := track.Codec.(type) {
	case *mpegts.CodecH264:
		d.addStream(media.StreamInfo{ID: id, Kind: media.StreamVideo, Codec: codec.VideoH264}, track)
		d.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return d.pushVideo(id, codec.VideoH264, pts, dts, au)
		})

	case *mpegts.CodecH265:
		d.addStream(media.StreamInfo{ID: id, Kind: media.StreamVideo, Codec: codec.VideoH265}, track)
		d.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return d.pushVideo(id, codec.VideoH265, pts, dts, au)
		})

	case *mpegts.CodecMPEG4Audio:
		rate := c.Config.SampleRate
		if rate <= 0 {
			rate = 48000
		}
		d.addStream(media.StreamInfo{
			ID: id, Kind: media.StreamAudio, Codec: codec.AudioAAC,
			SampleRate: rate, Channels: c.Config.ChannelCount,
		}, track)
		ticks := int64(1024 * media.ClockRate / rate)
		d.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return d.pushAudioBatch(id, pts, ticks, aus)
		})

	case *mpegts.CodecAC3:
		d.addStream(media.StreamInfo{
			ID: id, Kind: media.StreamAudio, Codec: codec.AudioAC3,
			SampleRate: c.SampleRate, Channels: c.ChannelCount,
		}, track)
		d.reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			d.pushAudio(id, pts, 0, frame)
			return nil
		})

	case *mpegts.CodecMPEG1Audio:
		d.addStream(media.StreamInfo{ID: id, Kind: media.StreamAudio, Codec: codec.AudioMP3}, track)
		d.reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			return d.pushAudioBatch(id, pts, mp3FrameTicks, frames)
		})

	case *mpegts.CodecOpus:
		d.addStream(media.StreamInfo{
			ID: id, Kind: media.StreamAudio, Codec: codec.AudioOpus,
			SampleRate: 48000, Channels: c.ChannelCount,
		}, track)
		d.reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
			return d.pushAudioBatch(id, pts, opusFrameTicks, packets)
		})

	default:
		d.log.Debug("skipping unsupported track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
	}
}

func (d *Demuxer) addStream(info media.StreamInfo, track *mpegts.Track) {
	d.streams = append(d.streams, info)
	d.log.Debug("found track",
		slog.String("stream", info.String()),
		slog.Uint64("pid", uint64(track.PID)))
}

// pushVideo converts an access unit to Annex B and queues it as one packet.
func (d *Demuxer) pushVideo(id media.StreamID, codecName string, pts, dts int64, au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	keyframe := codec.IsRandomAccess(codecName, au)
	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return nil
	}
	d.fifo = append(d.fifo, &media.Packet{
		Stream:   id,
		PTS:      pts,
		DTS:      dts,
		Keyframe: keyframe,
		Data:     d.pool.GetFrom(packetClass, annexB),
	})
	return nil
}

// pushAudioBatch queues one packet per frame, advancing PTS by the frame
// duration in ticks.
func (d *Demuxer) pushAudioBatch(id media.StreamID, pts, ticks int64, frames [][]byte) error {
	for _, frame := range frames {
		if len(frame) == 0 {
			continue
		}
		d.pushAudio(id, pts, ticks, frame)
		pts += ticks
	}
	return nil
}

func (d *Demuxer) pushAudio(id media.StreamID, pts, duration int64, frame []byte) {
	d.fifo = append(d.fifo, &media.Packet{
		Stream:   id,
		PTS:      pts,
		DTS:      pts,
		Duration: duration,
		Keyframe: true,
		Data:     d.pool.GetFrom(packetClass, frame),
	})
}

// Streams describes the discovered tracks.
func (d *Demuxer) Streams() []media.StreamInfo {
	return d.streams
}

// ReadPacket returns the next packet in container order, driving the reader
// until a callback fires. It returns io.EOF at end of input.
func (d *Demuxer) ReadPacket() (*media.Packet, error) {
	for len(d.fifo) == 0 {
		if d.closed {
			return nil, io.EOF
		}
		if err := d.reader.Read(); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}
	pkt := d.fifo[0]
	d.fifo = d.fifo[1:]
	return pkt, nil
}

// Close releases queued packets. Idempotent.
func (d *Demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	for _, pkt := range d.fifo {
		pkt.Release()
	}
	d.fifo = nil
	return nil
}
