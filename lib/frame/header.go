package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PacketType identifies the header variant of a frame
type PacketType uint8

const (
	PacketContent   PacketType = 1
	PacketTrackable PacketType = 2
	PacketRawData   PacketType = 3
)

func (p PacketType) String() string {
	switch p {
	case PacketContent:
		return "Content"
	case PacketTrackable:
		return "Trackable"
	case PacketRawData:
		return "RawData"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(p))
	}
}

// ProtocolVersion is the only wire version this package speaks
const ProtocolVersion uint8 = 1

// Header flags of content and trackable frames
const (
	FlagNoContent    uint8 = 0x01
	FlagMultiContent uint8 = 0x02
	FlagIsRequest    uint8 = 0x04
	FlagIsResponse   uint8 = 0x08
)

const (
	// MaxHeaderLength is the largest header (including the length prefix) that fits the u16 prefix
	MaxHeaderLength = math.MaxUint16
	// MaxParts is the largest number of content parts of a multi content frame
	MaxParts = math.MaxUint8

	prefixLen          = 4 // u16 headerLength | u8 version | u8 packetType
	minHeaderLength    = prefixLen + 1
	rawHeaderLength    = prefixLen + 12
	contentEntryPrefix = 2 + 4 // u16 typeLen | i32 contentLength (type bytes follow the u16)
)

// Header is the tagged header variant of a frame.
// Implemented by *ContentHeader, *TrackableHeader and *RawDataHeader
type Header interface {
	Kind() PacketType
}

// ContentHeader describes a frame carrying zero, one or several serialized payloads
type ContentHeader struct {
	Flags          uint8
	ContentTypes   [][]byte
	ContentLengths []int32
}

func (h *ContentHeader) Kind() PacketType { return PacketContent }

// Has reports whether all bits of flag are set
func (h *ContentHeader) Has(flag uint8) bool { return h.Flags&flag == flag }

func (h *ContentHeader) IsRequest() bool  { return h.Has(FlagIsRequest) }
func (h *ContentHeader) IsResponse() bool { return h.Has(FlagIsResponse) }

// Parts returns the number of declared content parts
func (h *ContentHeader) Parts() int { return len(h.ContentLengths) }

// TrackableHeader is a content header with a request id used for request/response correlation
type TrackableHeader struct {
	ContentHeader
	RequestID int32
}

func (h *TrackableHeader) Kind() PacketType { return PacketTrackable }

// RawDataHeader describes a frame carrying unserialized bytes addressed by buffer id and sequence.
// DisposeAfterSend is local to the sender and never transmitted
type RawDataHeader struct {
	BufferID         int32
	Sequence         int32
	ContentLength    int32
	DisposeAfterSend bool
}

func (h *RawDataHeader) Kind() PacketType { return PacketRawData }

// ContentOf returns the content part of h, nil for raw data headers
func ContentOf(h Header) *ContentHeader {
	switch v := h.(type) {
	case *ContentHeader:
		return v
	case *TrackableHeader:
		return &v.ContentHeader
	default:
		return nil
	}
}

// Composite is the logical payload of a multi content frame.
// Its elements are the deserialized parts in wire order
type Composite []any

// Frame is one decoded protocol unit
type Frame struct {
	HeaderLength    uint16
	ProtocolVersion uint8
	Header          Header
	// Payloads holds the deserialized content parts (content and trackable frames)
	Payloads []any
	// Raw holds a private copy of the bytes of a raw data frame
	Raw []byte
}

// Payload returns nil for frames without content, the single payload, or a Composite
func (f *Frame) Payload() any {
	switch len(f.Payloads) {
	case 0:
		return nil
	case 1:
		return f.Payloads[0]
	default:
		return Composite(f.Payloads)
	}
}

// --------------------------------------------------------------------------
// Header encoding
// --------------------------------------------------------------------------

// headerLength computes the encoded size of h
func headerLength(h Header) int {
	switch v := h.(type) {
	case *RawDataHeader:
		return rawHeaderLength
	case *ContentHeader:
		return prefixLen + 1 + entriesLength(v)
	case *TrackableHeader:
		return prefixLen + 1 + 4 + entriesLength(&v.ContentHeader)
	default:
		return 0
	}
}

func entriesLength(h *ContentHeader) int {
	n := 0
	if h.Has(FlagMultiContent) {
		n++
	}
	for _, t := range h.ContentTypes {
		n += contentEntryPrefix + len(t)
	}
	return n
}

// validateEntries checks the flag / entry count invariants of a content header
func validateEntries(h *ContentHeader) error {
	n := len(h.ContentLengths)
	if len(h.ContentTypes) != n {
		return fmt.Errorf("%d content types for %d content lengths: %w", len(h.ContentTypes), n, ErrMalformedHeader)
	}
	switch {
	case h.Has(FlagNoContent) && h.Has(FlagMultiContent):
		return fmt.Errorf("no content and multi content both set: %w", ErrInvalidFlags)
	case h.Has(FlagNoContent):
		if n != 0 {
			return fmt.Errorf("no content frame declares %d parts: %w", n, ErrInvalidFlags)
		}
	case h.Has(FlagMultiContent):
		if n < 2 || n > MaxParts {
			return fmt.Errorf("multi content frame declares %d parts: %w", n, ErrInvalidFlags)
		}
	default:
		if n != 1 {
			return fmt.Errorf("single content frame declares %d parts: %w", n, ErrInvalidFlags)
		}
	}
	for i, t := range h.ContentTypes {
		if len(t) > math.MaxUint16 {
			return fmt.Errorf("content type %d exceeds %d bytes: %w", i, math.MaxUint16, ErrMalformedHeader)
		}
	}
	return nil
}

// appendHeader appends the wire representation of h to dst
func appendHeader(dst []byte, h Header) ([]byte, error) {
	var content *ContentHeader
	switch v := h.(type) {
	case *ContentHeader:
		content = v
	case *TrackableHeader:
		content = &v.ContentHeader
	case *RawDataHeader:
	default:
		return dst, ErrUnknownPacketType
	}

	if content != nil {
		if err := validateEntries(content); err != nil {
			return dst, err
		}
	}

	length := headerLength(h)
	if length > MaxHeaderLength {
		return dst, fmt.Errorf("%d bytes: %w", length, ErrHeaderTooLarge)
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	dst = append(dst, ProtocolVersion, byte(h.Kind()))

	switch v := h.(type) {
	case *RawDataHeader:
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.BufferID))
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.Sequence))
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.ContentLength))
		return dst, nil
	case *TrackableHeader:
		dst = append(dst, v.Flags)
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.RequestID))
	case *ContentHeader:
		dst = append(dst, v.Flags)
	}

	if content.Has(FlagMultiContent) {
		dst = append(dst, uint8(len(content.ContentLengths)))
	}
	for i, t := range content.ContentTypes {
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(t)))
		dst = append(dst, t...)
		dst = binary.BigEndian.AppendUint32(dst, uint32(content.ContentLengths[i]))
	}
	return dst, nil
}

// --------------------------------------------------------------------------
// Header decoding
// --------------------------------------------------------------------------

// headerReader reads big endian fields and remembers the first short read
type headerReader struct {
	b     []byte
	short bool
}

func (r *headerReader) take(n int) []byte {
	if r.short || len(r.b) < n {
		r.short = true
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *headerReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *headerReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *headerReader) i32() int32 {
	if b := r.take(4); b != nil {
		return int32(binary.BigEndian.Uint32(b))
	}
	return 0
}

// parseHeader decodes the header body (everything after the u16 length prefix)
func parseHeader(body []byte) (uint8, Header, error) {
	r := &headerReader{b: body}
	version := r.u8()
	kind := PacketType(r.u8())
	if r.short {
		return 0, nil, fmt.Errorf("header truncated: %w", ErrHeaderLength)
	}
	if version != ProtocolVersion {
		return version, nil, fmt.Errorf("version %d: %w", version, ErrUnsupportedVersion)
	}

	var h Header
	switch kind {
	case PacketRawData:
		h = &RawDataHeader{BufferID: r.i32(), Sequence: r.i32(), ContentLength: r.i32()}
	case PacketContent:
		c := &ContentHeader{Flags: r.u8()}
		readEntries(r, c)
		h = c
	case PacketTrackable:
		t := &TrackableHeader{}
		t.Flags = r.u8()
		t.RequestID = r.i32()
		readEntries(r, &t.ContentHeader)
		h = t
	default:
		return version, nil, fmt.Errorf("type %d: %w", uint8(kind), ErrUnknownPacketType)
	}

	if r.short {
		return version, nil, fmt.Errorf("%s header truncated: %w", kind, ErrHeaderLength)
	}
	if len(r.b) != 0 {
		return version, nil, fmt.Errorf("%d trailing header bytes: %w", len(r.b), ErrHeaderLength)
	}
	if c := ContentOf(h); c != nil {
		if err := validateEntries(c); err != nil {
			return version, nil, err
		}
	}
	return version, h, nil
}

func readEntries(r *headerReader, h *ContentHeader) {
	count := 1
	switch {
	case h.Has(FlagNoContent):
		count = 0
	case h.Has(FlagMultiContent):
		count = int(r.u8())
	}
	for i := 0; i < count && !r.short; i++ {
		typeLen := int(r.u16())
		contentType := r.take(typeLen)
		length := r.i32()
		if r.short {
			return
		}
		h.ContentTypes = append(h.ContentTypes, append([]byte(nil), contentType...))
		h.ContentLengths = append(h.ContentLengths, length)
	}
}
