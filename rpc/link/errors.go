package link

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed   = errors.New("link: connection closed")
	ErrNotConnected       = errors.New("link: connection not initialized")
	ErrAlreadyInitialized = errors.New("link: connection already initialized")
	ErrRequestTimeout     = errors.New("link: request timed out")
	ErrCancelled          = errors.New("link: cancelled")
	ErrNotRequest         = errors.New("link: frame is not a request")
	ErrAlreadyResponded   = errors.New("link: request already answered")
	ErrNilCallback        = errors.New("link: callback must not be nil")
)

// TransportError wraps a failure of the underlying byte stream. It is always
// fatal and triggers the teardown of the connection
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HandlerError is a failure raised inside a user callback, either as returned error
// or as recovered panic. It is logged and never leaves the dispatch boundary
type HandlerError struct {
	Handler string
	Err     error
	Panic   any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("link: %s panicked: %v", e.Handler, e.Panic)
	}
	return fmt.Sprintf("link: %s failed: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// CancellationError completes a future that was cancelled by its context or ran
// into the request timeout. errors.Is(err, ErrCancelled) holds for every instance
type CancellationError struct {
	Op  string
	Err error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("link: %s cancelled: %v", e.Op, e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }

func (e *CancellationError) Is(target error) bool { return target == ErrCancelled }
