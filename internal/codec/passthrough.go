package codec

import (
	"github.com/jmylchreest/flowmux/internal/media"
)

// IdentityDecoder maps each packet to exactly one frame without touching the
// payload. It makes remux jobs possible with no codec library at all and
// gives tests a deterministic decode stand-in.
type IdentityDecoder struct {
	format media.FormatDescriptor
}

// NewIdentityDecoder creates a passthrough decoder emitting frames tagged
// with the given format.
func NewIdentityDecoder(format media.FormatDescriptor) *IdentityDecoder {
	return &IdentityDecoder{format: format}
}

// Decode wraps the packet payload in a frame, transferring the payload
// reference rather than copying.
func (d *IdentityDecoder) Decode(pkt *media.Packet) ([]*media.Frame, error) {
	frame := &media.Frame{
		Stream:   pkt.Stream,
		PTS:      pkt.PTS,
		Duration: pkt.Duration,
		Format:   d.format,
		Data:     pkt.Data,
	}
	pkt.Data = nil
	return []*media.Frame{frame}, nil
}

// Drain has nothing buffered to emit.
func (d *IdentityDecoder) Drain() ([]*media.Frame, error) {
	return nil, nil
}

// Close is a no-op.
func (d *IdentityDecoder) Close() error {
	return nil
}

// IdentityEncoder is the inverse of IdentityDecoder: one frame, one packet,
// payload reference transferred.
type IdentityEncoder struct{}

// NewIdentityEncoder creates a passthrough encoder.
func NewIdentityEncoder() *IdentityEncoder {
	return &IdentityEncoder{}
}

// Encode wraps the frame payload in a packet.
func (e *IdentityEncoder) Encode(frame *media.Frame) ([]*media.Packet, error) {
	pkt := &media.Packet{
		Stream:   frame.Stream,
		PTS:      frame.PTS,
		DTS:      frame.PTS,
		Duration: frame.Duration,
		Keyframe: true,
		Data:     frame.Data,
	}
	frame.Data = nil
	return []*media.Packet{pkt}, nil
}

// Drain has nothing buffered to emit.
func (e *IdentityEncoder) Drain() ([]*media.Packet, error) {
	return nil, nil
}

// Close is a no-op.
func (e *IdentityEncoder) Close() error {
	return nil
}

// PassthroughFilter forwards frames unmodified.
type PassthroughFilter struct{}

// NewPassthroughFilter creates an identity filter.
func NewPassthroughFilter() *PassthroughFilter {
	return &PassthroughFilter{}
}

// Apply returns the frame unchanged.
func (f *PassthroughFilter) Apply(frame *media.Frame) ([]*media.Frame, error) {
	return []*media.Frame{frame}, nil
}

// Flush has nothing buffered to emit.
func (f *PassthroughFilter) Flush() ([]*media.Frame, error) {
	return nil, nil
}

// Reconfigure ignores all parameters.
func (f *PassthroughFilter) Reconfigure(map[string]string) error {
	return nil
}

// Close is a no-op.
func (f *PassthroughFilter) Close() error {
	return nil
}
