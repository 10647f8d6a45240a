package frame

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ValentinKolb/dMsg/rpc/serializer"
)

// Encoder serializes one frame at a time and hands it out through a pull API.
// Usage per frame: Prepare (or PrepareRaw), then FillSendBuffer / OnSendCompleted
// until OnSendCompleted returns true, then Clear.
// The encoder is not safe for concurrent use; one encoder belongs to one write loop
type Encoder struct {
	serializer serializer.ISerializer

	header   []byte       // encoded header of the prepared frame
	content  bytes.Buffer // serialized payload parts
	raw      []byte       // payload of a raw frame, not copied
	isRaw    bool
	prepared bool
	sent     int // bytes acknowledged through OnSendCompleted
}

// NewEncoder creates an encoder that serializes payloads with s
func NewEncoder(s serializer.ISerializer) *Encoder {
	return &Encoder{
		serializer: s,
		header:     make([]byte, 0, 64),
	}
}

// Prepare serializes h and payload as the next frame.
// h must be a *ContentHeader or *TrackableHeader; its content fields and the
// NoContent / MultiContent flags are filled in from the payload: nil or an empty
// Composite becomes NoContent, a Composite with more than one element MultiContent.
// On error the encoder is left cleared
func (e *Encoder) Prepare(h Header, payload any) error {
	e.Clear()

	content := ContentOf(h)
	if content == nil {
		return fmt.Errorf("prepare %T: %w", h, ErrUnknownPacketType)
	}

	parts := splitPayload(payload)
	if len(parts) > MaxParts {
		e.Clear()
		return fmt.Errorf("%d parts exceed %d: %w", len(parts), MaxParts, ErrInvalidFlags)
	}

	content.Flags &^= FlagNoContent | FlagMultiContent
	content.ContentTypes = content.ContentTypes[:0]
	content.ContentLengths = content.ContentLengths[:0]
	switch {
	case len(parts) == 0:
		content.Flags |= FlagNoContent
	case len(parts) > 1:
		content.Flags |= FlagMultiContent
	}

	for i, part := range parts {
		before := e.content.Len()
		contentType, err := e.serializer.Serialize(part, &e.content)
		if err != nil {
			e.Clear()
			return fmt.Errorf("frame: serialize part %d: %w", i, err)
		}
		length := e.content.Len() - before
		if length > math.MaxInt32 {
			e.Clear()
			return fmt.Errorf("part %d has %d bytes: %w", i, length, ErrContentLength)
		}
		content.ContentTypes = append(content.ContentTypes, contentType)
		content.ContentLengths = append(content.ContentLengths, int32(length))
	}

	header, err := appendHeader(e.header[:0], h)
	if err != nil {
		e.Clear()
		return err
	}
	e.header = header
	e.prepared = true
	return nil
}

// PrepareRaw prepares a raw data frame. data is referenced, not copied, and must
// stay unchanged until the frame is flushed. h.ContentLength is set from data
func (e *Encoder) PrepareRaw(h *RawDataHeader, data []byte) error {
	e.Clear()

	if len(data) > math.MaxInt32 {
		return fmt.Errorf("raw frame has %d bytes: %w", len(data), ErrContentLength)
	}
	h.ContentLength = int32(len(data))

	header, err := appendHeader(e.header[:0], h)
	if err != nil {
		e.Clear()
		return err
	}
	e.header = header
	e.raw = data
	e.isRaw = true
	e.prepared = true
	return nil
}

// FillSendBuffer returns the next at most maxBytes unsent bytes of the prepared frame.
// A returned slice never spans the header and the content section.
// It returns nil when nothing is prepared or everything was acknowledged
func (e *Encoder) FillSendBuffer(maxBytes int) []byte {
	if !e.prepared || maxBytes <= 0 {
		return nil
	}
	if e.sent < len(e.header) {
		end := min(len(e.header), e.sent+maxBytes)
		return e.header[e.sent:end]
	}
	body := e.body()
	offset := e.sent - len(e.header)
	if offset >= len(body) {
		return nil
	}
	end := min(len(body), offset+maxBytes)
	return body[offset:end]
}

// OnSendCompleted acknowledges n written bytes and reports whether the frame is fully flushed
func (e *Encoder) OnSendCompleted(n int) bool {
	if !e.prepared {
		return true
	}
	e.sent = min(e.sent+n, e.Len())
	return e.sent == e.Len()
}

// Len returns the total encoded size of the prepared frame
func (e *Encoder) Len() int {
	if !e.prepared {
		return 0
	}
	return len(e.header) + len(e.body())
}

// Prepared reports whether a frame is prepared and not yet cleared
func (e *Encoder) Prepared() bool { return e.prepared }

// Clear drops all per-frame state so the encoder can prepare the next frame
func (e *Encoder) Clear() {
	e.header = e.header[:0]
	e.content.Reset()
	e.raw = nil
	e.isRaw = false
	e.prepared = false
	e.sent = 0
}

// Clone returns an independent encoder that shares only the serializer
func (e *Encoder) Clone() *Encoder {
	return NewEncoder(e.serializer)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (e *Encoder) body() []byte {
	if e.isRaw {
		return e.raw
	}
	return e.content.Bytes()
}

// splitPayload maps a payload to its wire parts
func splitPayload(payload any) []any {
	switch v := payload.(type) {
	case nil:
		return nil
	case Composite:
		return v
	default:
		return []any{payload}
	}
}
