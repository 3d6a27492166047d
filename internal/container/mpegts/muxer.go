package mpegts

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/media"
)

// PIDs assigned to output tracks, counting up from the first.
const basePID = 0x0100

// Muxer writes packets into an MPEG-TS output. Tracks are declared by
// WriteHeader from the job's stream descriptions.
type Muxer struct {
	w   io.Writer
	log *slog.Logger

	writer *mpegts.Writer
	tracks map[media.StreamID]*mpegts.Track
	closed bool
}

// NewMuxer creates a muxer writing to w. If w is an io.Closer it is closed
// with the muxer.
func NewMuxer(w io.Writer, log *slog.Logger) *Muxer {
	if log == nil {
		log = slog.Default()
	}
	return &Muxer{w: w, log: log}
}

// WriteHeader declares one track per stream and emits PAT/PMT.
func (m *Muxer) WriteHeader(streams []media.StreamInfo) error {
	if m.writer != nil {
		return nil
	}
	m.tracks = make(map[media.StreamID]*mpegts.Track, len(streams))

	var tracks []*mpegts.Track
	for i, s := range streams {
		c, err := trackCodec(s)
		if err != nil {
			return err
		}
		track := &mpegts.Track{
			PID:   basePID + uint16(i),
			Codec: c,
		}
		m.tracks[s.ID] = track
		tracks = append(tracks, track)
	}

	m.writer = &mpegts.Writer{W: m.w, Tracks: tracks}
	if err := m.writer.Initialize(); err != nil {
		m.writer = nil
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}
	m.log.Debug("mpegts muxer initialized", slog.Int("tracks", len(tracks)))
	return nil
}

// trackCodec maps a stream description to its mediacommon codec.
func trackCodec(s media.StreamInfo) (mpegts.Codec, error) {
	rate := s.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	channels := s.Channels
	if channels <= 0 {
		channels = 2
	}

	switch codec.Normalize(s.Codec) {
	case codec.VideoH264:
		return &mpegts.CodecH264{}, nil
	case codec.VideoH265:
		return &mpegts.CodecH265{}, nil
	case codec.AudioAAC:
		return &mpegts.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   rate,
			ChannelCount: channels,
		}}, nil
	case codec.AudioAC3:
		return &mpegts.CodecAC3{SampleRate: rate, ChannelCount: channels}, nil
	case codec.AudioMP3:
		return &mpegts.CodecMPEG1Audio{}, nil
	case codec.AudioOpus:
		return &mpegts.CodecOpus{ChannelCount: channels}, nil
	default:
		return nil, fmt.Errorf("unsupported output codec %q", s.Codec)
	}
}

// WritePacket writes one packet onto its stream's track. The caller keeps
// ownership of the packet.
func (m *Muxer) WritePacket(pkt *media.Packet) error {
	if m.writer == nil {
		return fmt.Errorf("header not written")
	}
	track, ok := m.tracks[pkt.Stream]
	if !ok {
		return fmt.Errorf("packet for undeclared stream %d", pkt.Stream)
	}

	data := pkt.Payload()
	if len(data) == 0 {
		return nil
	}

	switch track.Codec.(type) {
	case *mpegts.CodecH264:
		return m.writer.WriteH264(track, pkt.PTS, pkt.DTS, accessUnit(data))
	case *mpegts.CodecH265:
		return m.writer.WriteH265(track, pkt.PTS, pkt.DTS, accessUnit(data))
	case *mpegts.CodecMPEG4Audio:
		aus := aacFrames(data)
		if len(aus) == 0 {
			return nil
		}
		return m.writer.WriteMPEG4Audio(track, pkt.PTS, aus)
	case *mpegts.CodecAC3:
		return m.writer.WriteAC3(track, pkt.PTS, data)
	case *mpegts.CodecMPEG1Audio:
		return m.writer.WriteMPEG1Audio(track, pkt.PTS, [][]byte{data})
	case *mpegts.CodecOpus:
		return m.writer.WriteOpus(track, pkt.PTS, [][]byte{data})
	default:
		return fmt.Errorf("unsupported track codec %T", track.Codec)
	}
}

// WriteTrailer is a no-op: transport streams carry no trailer and PAT/PMT
// repetition is handled by the writer.
func (m *Muxer) WriteTrailer() error {
	return nil
}

// Close closes the underlying writer when it supports closing. Idempotent.
func (m *Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if c, ok := m.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// accessUnit splits Annex B data into NAL units, falling back to a single
// unit when no start code is present.
func accessUnit(data []byte) [][]byte {
	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 &&
		(data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01)) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err == nil {
			return au
		}
	}
	return [][]byte{data}
}

// aacFrames strips ADTS framing when present, since the writer expects raw
// access units.
func aacFrames(data []byte) [][]byte {
	if len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		return adtsFrames(data)
	}
	return [][]byte{data}
}

// adtsFrames walks ADTS headers and extracts the raw AAC frames.
func adtsFrames(data []byte) [][]byte {
	var frames [][]byte
	offset := 0
	for offset+7 <= len(data) {
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}
		headerSize := 7
		if data[offset+1]&0x01 == 0 {
			headerSize = 9
		}
		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}
		if frame := data[offset+headerSize : offset+frameLen]; len(frame) > 0 {
			frames = append(frames, frame)
		}
		offset += frameLen
	}
	return frames
}
