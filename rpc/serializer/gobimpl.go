package serializer

import (
	"encoding/gob"
	"fmt"
	"io"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Every value is encoded with a fresh encoder, so each content part is self contained
func NewGOBSerializer(resolver ITypeResolver) ISerializer {
	return &gobSerializerImpl{resolver: resolver}
}

// gobSerializerImpl implements the ISerializer interface using gob encoding
type gobSerializerImpl struct {
	resolver ITypeResolver
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (g *gobSerializerImpl) Serialize(v any, w io.Writer) ([]byte, error) {
	contentType, err := typeID(g.resolver, v)
	if err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return nil, fmt.Errorf("serializer: gob encode %T: %v", v, err)
	}
	return contentType, nil
}

func (g *gobSerializerImpl) Deserialize(contentType []byte, r io.Reader) (any, error) {
	target, err := resolve(g.resolver, contentType)
	if err != nil {
		return nil, err
	}
	if err := gob.NewDecoder(r).Decode(target.Interface()); err != nil {
		return nil, fmt.Errorf("serializer: gob decode %q: %v", contentType, err)
	}
	return target.Elem().Interface(), nil
}
