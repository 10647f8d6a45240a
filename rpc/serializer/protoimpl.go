package serializer

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// NewProtoSerializer creates a new serializer for protobuf messages.
// The content type is the full message name, resolved through the global
// protobuf registry on the receiving side. Pass nil to use protoregistry.GlobalTypes
func NewProtoSerializer(types *protoregistry.Types) ISerializer {
	if types == nil {
		types = protoregistry.GlobalTypes
	}
	return &protoSerializerImpl{types: types}
}

// protoSerializerImpl implements ISerializer for proto.Message values
type protoSerializerImpl struct {
	types *protoregistry.Types
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (p *protoSerializerImpl) Serialize(v any, w io.Writer) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("serializer: %T is not a proto.Message", v)
	}
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("serializer: proto encode %T: %v", v, err)
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	return []byte(msg.ProtoReflect().Descriptor().FullName()), nil
}

func (p *protoSerializerImpl) Deserialize(contentType []byte, r io.Reader) (any, error) {
	mt, err := p.types.FindMessageByName(protoreflect.FullName(contentType))
	if err != nil {
		Logger.Debugf("unknown proto message %q", contentType)
		return nil, fmt.Errorf("serializer: unknown proto message %q: %v", contentType, err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	msg := mt.New().Interface()
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("serializer: proto decode %q: %v", contentType, err)
	}
	return msg, nil
}
