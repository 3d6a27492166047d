package engine

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/flowmux/internal/codec"
	"github.com/jmylchreest/flowmux/internal/media"
)

// Sentinel errors for propagated, non-originating terminations.
var (
	// ErrUpstreamClosed means a stage's input edge was abandoned by a
	// failing or cancelled producer. Propagated, not an original fault.
	ErrUpstreamClosed = errors.New("upstream closed")

	// ErrDownstreamClosed means every output edge of a stage was
	// abandoned by its consumers. Propagated, not an original fault.
	ErrDownstreamClosed = errors.New("downstream closed")

	// ErrCancelled is the result of RequestStop. Not a failure.
	ErrCancelled = errors.New("run cancelled")

	// ErrAlreadyRunning is returned when Run is called on a scheduler
	// that is still driving a graph.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// StructuralError reports a malformed job graph, rejected before any stage
// starts.
type StructuralError struct {
	Message string
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	return "structural error: " + e.Message
}

// Structuralf creates a StructuralError from a format string.
func Structuralf(format string, args ...any) *StructuralError {
	return &StructuralError{Message: fmt.Sprintf(format, args...)}
}

// FatalStageError identifies the stage and stream of an unrecoverable
// failure. The scheduler records only the first originating fatal error.
type FatalStageError struct {
	StageID string
	Kind    StageKind
	Stream  media.StreamID
	Err     error
}

// Error implements the error interface.
func (e *FatalStageError) Error() string {
	if e.Stream >= 0 {
		return fmt.Sprintf("stage %s (%s, stream %d): %v", e.StageID, e.Kind, e.Stream, e.Err)
	}
	return fmt.Sprintf("stage %s (%s): %v", e.StageID, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalStageError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err may be absorbed at the stage boundary.
func IsTransient(err error) bool {
	return codec.IsTransient(err)
}

// isPropagated reports whether err is a propagated closure rather than an
// originating fault.
func isPropagated(err error) bool {
	return errors.Is(err, ErrUpstreamClosed) || errors.Is(err, ErrDownstreamClosed)
}
