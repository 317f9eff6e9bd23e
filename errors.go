package orbital

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by writes on a transport that has been closed.
	ErrClosed = errors.New("orbital: pipe closed")

	// ErrNotStarted is returned when a call is issued before the protocol
	// has been attached to a transport.
	ErrNotStarted = errors.New("orbital: protocol not started")

	// ErrAlreadyStarted is returned when a protocol is attached twice.
	ErrAlreadyStarted = errors.New("orbital: protocol already started")

	// ErrTruncated is returned when a packet payload ends before a declared
	// field does.
	ErrTruncated = errors.New("orbital: truncated packet")

	// ErrPayloadTooLarge is returned when a payload cannot be described by the
	// 8 hex digit length prefix.
	ErrPayloadTooLarge = errors.New("orbital: payload too large")

	// ErrUnknownEndpoint marks a dispatch to a name with no handler.
	ErrUnknownEndpoint = errors.New("orbital: unknown endpoint")
)

// HandlerError describes a failure raised by a registered endpoint handler,
// either as a returned error or as a recovered panic.
type HandlerError struct {
	// Endpoint is the name the failing handler was registered under.
	Endpoint string

	// SeqID is the sequence id of the inbound call (0 for fire-and-forget).
	SeqID uint32

	// Panic holds the recovered value when the handler panicked.
	Panic interface{}

	// Err is the error returned by the handler, or a synthesized one for panics.
	Err error
}

// newPanicError wraps a recovered panic value.
func newPanicError(endpoint string, seqID uint32, rv interface{}) *HandlerError {
	return &HandlerError{
		Endpoint: endpoint,
		SeqID:    seqID,
		Panic:    rv,
		Err:      fmt.Errorf("panic: %v", rv),
	}
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("orbital: handler %q (seq %d): %v", e.Endpoint, e.SeqID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
