// Package media defines the data units that flow through a transcoding
// pipeline: compressed Packets and raw Frames, plus the stream metadata
// needed to route and order them. Timestamps are expressed in 90 kHz MPEG
// clock ticks throughout.
package media

import (
	"fmt"

	"github.com/jmylchreest/flowmux/internal/pool"
)

// ClockRate is the timestamp resolution in ticks per second.
const ClockRate = 90000

// StreamID identifies a logical stream within one job (e.g. video 0, audio 1).
type StreamID int

// StreamKind classifies a stream's payload.
type StreamKind string

// Stream kinds.
const (
	StreamVideo StreamKind = "video"
	StreamAudio StreamKind = "audio"
	StreamData  StreamKind = "data"
)

// StreamInfo describes one logical stream as discovered by a demuxer or
// declared by a job specification.
type StreamInfo struct {
	ID    StreamID   `json:"id"`
	Kind  StreamKind `json:"kind"`
	Codec string     `json:"codec"`

	// SampleRate and Channels are set for audio streams.
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

// String returns a short identifier like "video:0 (h264)".
func (s StreamInfo) String() string {
	return fmt.Sprintf("%s:%d (%s)", s.Kind, s.ID, s.Codec)
}

// Packet is one compressed access unit. Ownership transfers on send: the
// receiver releases the payload unless the sender retained an extra
// reference for fan-out.
type Packet struct {
	Stream   StreamID
	PTS      int64
	DTS      int64
	Duration int64
	Keyframe bool
	Data     *pool.Buffer
}

// Payload returns the packet's bytes, or nil for a metadata-only packet.
func (p *Packet) Payload() []byte {
	if p.Data == nil {
		return nil
	}
	return p.Data.Bytes()
}

// Retain adds a payload reference for an additional consumer.
func (p *Packet) Retain() {
	if p.Data != nil {
		p.Data.Retain()
	}
}

// Release drops the packet's payload reference.
func (p *Packet) Release() {
	if p.Data != nil {
		p.Data.Release()
	}
}

// FormatDescriptor describes the shape of a decoded frame.
type FormatDescriptor struct {
	Codec      string
	Width      int
	Height     int
	SampleRate int
	Channels   int
}

// Frame is one decoded picture or audio buffer. Like Packet, ownership of
// the payload transfers on send.
type Frame struct {
	Stream   StreamID
	PTS      int64
	Duration int64
	Format   FormatDescriptor
	Data     *pool.Buffer
}

// Payload returns the frame's bytes, or nil when the frame carries no data.
func (f *Frame) Payload() []byte {
	if f.Data == nil {
		return nil
	}
	return f.Data.Bytes()
}

// Retain adds a payload reference for an additional consumer.
func (f *Frame) Retain() {
	if f.Data != nil {
		f.Data.Retain()
	}
}

// Release drops the frame's payload reference.
func (f *Frame) Release() {
	if f.Data != nil {
		f.Data.Release()
	}
}

// Clone returns a copy of the frame for an additional consumer. The payload
// buffer is shared with one reference added; metadata is copied so consumers
// can rewrite timestamps independently.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Retain()
	return &c
}
