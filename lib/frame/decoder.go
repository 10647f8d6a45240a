package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("frame")

// DefaultMaxContentLength limits a single content part (or raw frame) when no limit is configured
const DefaultMaxContentLength = 64 << 20

type decodeState uint8

const (
	stateReadHeaderLength decodeState = iota
	stateReadHeader
	stateReadContent
	stateReadRaw
)

func (s decodeState) String() string {
	switch s {
	case stateReadHeaderLength:
		return "ReadHeaderLength"
	case stateReadHeader:
		return "ReadHeader"
	case stateReadContent:
		return "ReadContent"
	default:
		return "ReadRaw"
	}
}

// Decoder is a byte stream state machine that turns arbitrary chunks into frames.
// It is not safe for concurrent use; one decoder belongs to one read loop
type Decoder struct {
	serializer       serializer.ISerializer
	maxContentLength int32
	onFrame          func(*Frame)
	onRaw            func(*RawDataHeader, []byte)

	state   decodeState
	need    int    // bytes required to complete the current state
	buf     []byte // bytes collected for the current state
	scratch []byte // reused storage for header bytes

	frame      *Frame
	content    *ContentHeader
	part       int
	offset     int64 // bytes consumed since the last reset
	frameStart int64

	err error
}

// NewDecoder creates a decoder that deserializes content parts with s.
// onFrame is called once per content or trackable frame after its last part,
// onRaw once per raw data frame with a private copy of its bytes.
// maxContentLength <= 0 selects DefaultMaxContentLength
func NewDecoder(s serializer.ISerializer, maxContentLength int32, onFrame func(*Frame), onRaw func(*RawDataHeader, []byte)) *Decoder {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	d := &Decoder{
		serializer:       s,
		maxContentLength: maxContentLength,
		onFrame:          onFrame,
		onRaw:            onRaw,
		scratch:          make([]byte, 0, 256),
	}
	d.Reset()
	return d
}

// Feed consumes chunk. Complete frames are delivered through the callbacks before
// Feed returns, incomplete data is kept and completed by later calls.
// Any chunk size is accepted, including one byte at a time.
// After the first *ProtocolError the decoder is poisoned and returns the same error
func (d *Decoder) Feed(chunk []byte) error {
	if d.err != nil {
		return d.err
	}

	for {
		if missing := d.need - len(d.buf); missing > 0 {
			if len(chunk) == 0 {
				return nil
			}
			n := min(missing, len(chunk))
			d.buf = append(d.buf, chunk[:n]...)
			chunk = chunk[n:]
			d.offset += int64(n)
			if n < missing {
				return nil
			}
		}

		if err := d.advance(); err != nil {
			d.err = &ProtocolError{Offset: d.frameStart, Err: err}
			Logger.Debugf("decoder poisoned in state %s: %v", d.state, err)
			return d.err
		}

		// a frame boundary with no more input
		if d.state == stateReadHeaderLength && len(chunk) == 0 {
			return nil
		}
	}
}

// Err returns the error that poisoned the decoder, nil if it is healthy
func (d *Decoder) Err() error { return d.err }

// Reset returns the decoder to its initial state and clears a previous error
func (d *Decoder) Reset() {
	d.err = nil
	d.offset = 0
	d.startFrame()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (d *Decoder) startFrame() {
	d.state = stateReadHeaderLength
	d.need = 2
	d.buf = d.scratch[:0]
	d.frame = nil
	d.content = nil
	d.part = 0
	d.frameStart = d.offset
}

// advance completes the current state, d.buf holds exactly d.need bytes
func (d *Decoder) advance() error {
	switch d.state {
	case stateReadHeaderLength:
		hl := int(binary.BigEndian.Uint16(d.buf))
		if hl < minHeaderLength {
			return fmt.Errorf("length %d below minimum %d: %w", hl, minHeaderLength, ErrHeaderLength)
		}
		d.frame = &Frame{HeaderLength: uint16(hl)}
		d.state = stateReadHeader
		d.need = hl - 2
		if cap(d.scratch) < d.need {
			d.scratch = make([]byte, 0, d.need)
		}
		d.buf = d.scratch[:0]
		return nil

	case stateReadHeader:
		version, h, err := parseHeader(d.buf)
		if err != nil {
			return err
		}
		d.frame.ProtocolVersion = version
		d.frame.Header = h

		if raw, ok := h.(*RawDataHeader); ok {
			if err := d.checkLength(raw.ContentLength); err != nil {
				return err
			}
			d.state = stateReadRaw
			d.expect(int(raw.ContentLength))
			return nil
		}

		d.content = ContentOf(h)
		for _, l := range d.content.ContentLengths {
			if err := d.checkLength(l); err != nil {
				return err
			}
		}
		if d.content.Parts() == 0 {
			d.emit()
			return nil
		}
		d.frame.Payloads = make([]any, 0, d.content.Parts())
		d.state = stateReadContent
		d.expect(int(d.content.ContentLengths[0]))
		return nil

	case stateReadContent:
		contentType := d.content.ContentTypes[d.part]
		v, err := d.serializer.Deserialize(contentType, bytes.NewReader(d.buf))
		if err != nil {
			return fmt.Errorf("deserialize part %d (%q): %w", d.part, contentType, err)
		}
		d.frame.Payloads = append(d.frame.Payloads, v)
		d.part++
		if d.part == d.content.Parts() {
			d.emit()
			return nil
		}
		d.expect(int(d.content.ContentLengths[d.part]))
		return nil

	case stateReadRaw:
		raw := d.frame.Header.(*RawDataHeader)
		data := d.buf
		d.frame.Raw = data
		d.startFrame()
		if d.onRaw != nil {
			d.onRaw(raw, data)
		}
		return nil
	}
	return nil
}

// expect switches to a content state that collects n bytes into a fresh slice
func (d *Decoder) expect(n int) {
	d.need = n
	d.buf = make([]byte, 0, n)
}

func (d *Decoder) checkLength(l int32) error {
	if l < 0 || l > d.maxContentLength {
		return fmt.Errorf("%d (limit %d): %w", l, d.maxContentLength, ErrContentLength)
	}
	return nil
}

// emit delivers the completed frame and prepares for the next one
func (d *Decoder) emit() {
	f := d.frame
	d.startFrame()
	if d.onFrame != nil {
		d.onFrame(f)
	}
}
