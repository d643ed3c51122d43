// Package lserr classifies live session failures.
//
// Every error returned by the session client carries one of the sentinel
// kinds below so callers can branch with errors.Is instead of matching
// strings. The underlying cause stays in the chain for errors.As.
package lserr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for live session failure classification.
var (
	// ErrUsage indicates an operation was called out of order or on a closed session.
	ErrUsage = errors.New("usage error")

	// ErrBadArgument indicates an invalid caller-supplied value. It is a usage error.
	ErrBadArgument = errors.New("bad argument")

	// ErrTransport indicates a socket read, write, or dial failure.
	ErrTransport = errors.New("transport error")

	// ErrProtocol indicates malformed or unexpected bytes from the gateway.
	ErrProtocol = errors.New("protocol error")

	// ErrAuth indicates the gateway rejected the authentication request.
	ErrAuth = errors.New("authentication failed")

	// ErrStale indicates no data arrived within the heartbeat window.
	ErrStale = errors.New("connection stale")

	// ErrReconnectExhausted indicates the reconnection attempt budget ran out.
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

	// ErrGateway indicates the gateway reported an error record and closed the stream.
	ErrGateway = errors.New("gateway error")
)

// Error wraps an underlying error with session classification.
type Error struct {
	// Kind is the sentinel error for classification (e.g., ErrTransport).
	Kind error
	// Op is the operation that failed (e.g., "dial", "auth", "next_record").
	Op string
	// Msg is a human-readable detail, if any.
	Msg string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
// A bad argument also matches ErrUsage.
func (e *Error) Is(target error) bool {
	if errors.Is(e.Kind, target) {
		return true
	}
	return target == ErrUsage && e.Kind == ErrBadArgument
}

// New creates a classified error.
func New(kind error, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Usage reports an operation called in the wrong session state.
func Usage(op, msg string) *Error {
	return New(ErrUsage, op, msg, nil)
}

// BadArgument reports an invalid parameter value.
func BadArgument(param, desc string) *Error {
	return New(ErrBadArgument, param, desc, nil)
}

// Transport wraps a socket failure.
func Transport(op string, err error) *Error {
	return New(ErrTransport, op, "", err)
}

// Protocol reports malformed gateway input.
func Protocol(op, msg string, err error) *Error {
	return New(ErrProtocol, op, msg, err)
}

// Auth reports a rejected authentication request. msg carries the gateway's reason.
func Auth(msg string) *Error {
	return New(ErrAuth, "auth", msg, nil)
}

// Stale reports a heartbeat window elapsed without data.
func Stale(silence time.Duration) *Error {
	return New(ErrStale, "heartbeat", fmt.Sprintf("no data for %s", silence.Round(time.Millisecond)), nil)
}

// ReconnectExhausted reports that every reconnection attempt failed. last is the final failure.
func ReconnectExhausted(attempts int, last error) *Error {
	return New(ErrReconnectExhausted, "reconnect", fmt.Sprintf("gave up after %d attempts", attempts), last)
}

// Gateway reports an error record sent by the gateway.
func Gateway(msg string) *Error {
	return New(ErrGateway, "gateway", msg, nil)
}

// Classify wraps err with kind unless it already carries a classification.
// Returns nil if err is nil.
func Classify(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(kind, op, "", err)
}

// IsRetryable reports whether err should trigger a reconnection attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrStale)
}

// KindOf returns the sentinel kind of err, or nil when err is unclassified.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
