package frame

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPacketType  = errors.New("frame: unknown packet type")
	ErrUnsupportedVersion = errors.New("frame: unsupported protocol version")
	ErrHeaderLength       = errors.New("frame: invalid header length")
	ErrMalformedHeader    = errors.New("frame: malformed header")
	ErrInvalidFlags       = errors.New("frame: invalid flag combination")
	ErrContentLength      = errors.New("frame: invalid content length")
	ErrHeaderTooLarge     = errors.New("frame: header too large")
	ErrNotPrepared        = errors.New("frame: encoder has no prepared frame")
)

// ProtocolError is returned by the decoder for malformed input.
// It is fatal for the stream, the decoder does not resynchronize
type ProtocolError struct {
	// Offset is the stream offset of the first byte of the failing frame
	Offset int64
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("frame: protocol error in frame at offset %d: %v", e.Offset, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
