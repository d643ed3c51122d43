package dbn

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned by the Buffer's Next methods when the next frame
// has not fully arrived. It is not fatal: fill the buffer and try again.
var ErrIncomplete = errors.New("incomplete frame")

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates the stream ended inside a frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding the buffer's maximum capacity.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a frame whose bytes cannot be interpreted.
	FrameErrorDecode
	// FrameErrorVersion indicates an unsupported stream format version.
	FrameErrorVersion
)

// String returns a short name for the kind.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorDecode:
		return "decode"
	case FrameErrorVersion:
		return "version"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot continue past this error.
// Every frame error is fatal to the connection; only ErrIncomplete is not.
func (e *FrameError) IsFatal() bool {
	return true
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

func decodeError(format string, args ...any) *FrameError {
	return &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf(format, args...)}
}
