package serializer

import (
	"io"
	"reflect"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("serializer")

// ISerializer is the interface for all payload serializers used by the frame codec.
// A serializer maps a value to bytes plus a content type descriptor that is
// transmitted in the frame header, and back.
type ISerializer interface {
	// Serialize writes the encoded value to w.
	// It returns the content type descriptor that identifies the value's type
	// on the receiving side, and an error if the value cannot be encoded
	Serialize(v any, w io.Writer) (contentType []byte, err error)
	// Deserialize reads one value of the type described by contentType from r.
	// The reader is bounded to exactly the bytes of one content part
	Deserialize(contentType []byte, r io.Reader) (any, error)
}

// ITypeResolver maps runtime types to wire type identifiers and back.
// Serializers that do not carry self-describing type information (json, gob)
// use a resolver to produce and interpret content type descriptors
type ITypeResolver interface {
	// TypeID returns the wire identifier for t, false if t is unknown
	TypeID(t reflect.Type) ([]byte, bool)
	// Resolve returns the type registered for id, false if id is unknown
	Resolve(id []byte) (reflect.Type, bool)
}
