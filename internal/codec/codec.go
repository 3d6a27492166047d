// Package codec defines the narrow boundary between the pipeline engine and
// the format- and codec-specific collaborators it drives. The engine treats
// decode, encode, demux, and mux as opaque transforms; everything behind
// these interfaces is swappable per container or codec.
package codec

import (
	"errors"

	"github.com/jmylchreest/flowmux/internal/media"
)

// TransientError wraps errors that are safe to retry at the stage boundary:
// the failing unit is dropped and the pipeline continues. Any other error
// from a collaborator is fatal to its stage.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as recoverable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is safe to absorb at the stage boundary.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Demuxer reads compressed packets from an input container. ReadPacket
// returns io.EOF when the container is exhausted.
type Demuxer interface {
	// Streams describes the streams discovered in the container. It is
	// valid after construction and stable for the demuxer's lifetime.
	Streams() []media.StreamInfo

	// ReadPacket returns the next packet in container order.
	ReadPacket() (*media.Packet, error)

	// Close releases the demuxer's resources. Idempotent.
	Close() error
}

// Decoder turns compressed packets into raw frames. A single packet may
// yield zero or more frames.
//
// Decoders, Filters and Encoders take ownership of their input unit: they
// either transfer its payload reference into an output or release it, even
// on error. Returned units carry their own references.
type Decoder interface {
	Decode(pkt *media.Packet) ([]*media.Frame, error)

	// Drain emits any internally buffered frames at a flush boundary or
	// end of stream.
	Drain() ([]*media.Frame, error)

	// Close releases decoder state. Idempotent.
	Close() error
}

// Filter transforms raw frames. Identity (passthrough) is a valid filter.
type Filter interface {
	Apply(frame *media.Frame) ([]*media.Frame, error)

	// Flush emits buffered frames at a discontinuity boundary.
	Flush() ([]*media.Frame, error)

	// Reconfigure updates stage-local filter parameters mid-run. Keys are
	// filter-specific; unknown keys are ignored.
	Reconfigure(params map[string]string) error

	// Close releases filter state. Idempotent.
	Close() error
}

// Encoder turns raw frames back into compressed packets.
type Encoder interface {
	Encode(frame *media.Frame) ([]*media.Packet, error)

	// Drain emits any internally buffered packets at end of stream.
	Drain() ([]*media.Packet, error)

	// Close releases encoder state. Idempotent.
	Close() error
}

// Muxer writes ordered packets into an output container. WriteTrailer
// finalizes the container so partial output is left in a consistent state.
type Muxer interface {
	WriteHeader(streams []media.StreamInfo) error
	WritePacket(pkt *media.Packet) error
	WriteTrailer() error

	// Close releases the muxer's resources without finalizing. Idempotent.
	Close() error
}
