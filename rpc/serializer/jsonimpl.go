package serializer

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
)

// NewJSONSerializer creates a new serializer using json encoding.
// Content types are the names registered in the resolver
func NewJSONSerializer(resolver ITypeResolver) ISerializer {
	return &jsonSerializerImpl{resolver: resolver}
}

// jsonSerializerImpl implements the ISerializer interface using json encoding
type jsonSerializerImpl struct {
	resolver ITypeResolver
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (j *jsonSerializerImpl) Serialize(v any, w io.Writer) ([]byte, error) {
	contentType, err := typeID(j.resolver, v)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializer: json encode %T: %v", v, err)
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	return contentType, nil
}

func (j *jsonSerializerImpl) Deserialize(contentType []byte, r io.Reader) (any, error) {
	target, err := resolve(j.resolver, contentType)
	if err != nil {
		return nil, err
	}
	if err := json.NewDecoder(r).Decode(target.Interface()); err != nil {
		return nil, fmt.Errorf("serializer: json decode %q: %v", contentType, err)
	}
	return target.Elem().Interface(), nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// typeID looks up the content type of v in the resolver
func typeID(resolver ITypeResolver, v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("serializer: cannot serialize nil value")
	}
	id, ok := resolver.TypeID(reflect.TypeOf(v))
	if !ok {
		return nil, fmt.Errorf("serializer: type %T is not registered", v)
	}
	return id, nil
}

// resolve returns a pointer to a fresh zero value of the type registered for contentType
func resolve(resolver ITypeResolver, contentType []byte) (reflect.Value, error) {
	t, ok := resolver.Resolve(contentType)
	if !ok {
		Logger.Debugf("unknown content type %q", contentType)
		return reflect.Value{}, fmt.Errorf("serializer: unknown content type %q", contentType)
	}
	return reflect.New(t), nil
}
