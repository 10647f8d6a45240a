package serializer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// NewBinarySerializer creates a new serializer for scalar values using a compact
// binary format. The content type is a single tag byte, the payload length is
// taken from the frame so strings and byte slices carry no length prefix
func NewBinarySerializer() ISerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements ISerializer for []byte, string, bool and fixed width numbers
type binarySerializerImpl struct {
}

// Type tags used as content type
const (
	tagBytes   byte = 'b'
	tagString  byte = 's'
	tagBool    byte = 't'
	tagInt32   byte = 'i'
	tagInt64   byte = 'l'
	tagUint64  byte = 'u'
	tagFloat64 byte = 'f'
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (b *binarySerializerImpl) Serialize(v any, w io.Writer) ([]byte, error) {
	var (
		tag byte
		buf []byte
	)

	switch val := v.(type) {
	case []byte:
		tag, buf = tagBytes, val
	case string:
		tag, buf = tagString, []byte(val)
	case bool:
		tag, buf = tagBool, []byte{0}
		if val {
			buf[0] = 1
		}
	case int32:
		tag, buf = tagInt32, binary.BigEndian.AppendUint32(nil, uint32(val))
	case int64:
		tag, buf = tagInt64, binary.BigEndian.AppendUint64(nil, uint64(val))
	case int:
		tag, buf = tagInt64, binary.BigEndian.AppendUint64(nil, uint64(val))
	case uint64:
		tag, buf = tagUint64, binary.BigEndian.AppendUint64(nil, val)
	case float64:
		tag, buf = tagFloat64, binary.BigEndian.AppendUint64(nil, math.Float64bits(val))
	default:
		return nil, fmt.Errorf("serializer: binary format does not support %T", v)
	}

	if _, err := w.Write(buf); err != nil {
		return nil, err
	}
	return []byte{tag}, nil
}

func (b *binarySerializerImpl) Deserialize(contentType []byte, r io.Reader) (any, error) {
	if len(contentType) != 1 {
		return nil, fmt.Errorf("serializer: invalid binary content type %q", contentType)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch contentType[0] {
	case tagBytes:
		return data, nil
	case tagString:
		return string(data), nil
	case tagBool:
		if len(data) != 1 {
			return nil, b.sizeError(contentType[0], 1, len(data))
		}
		return data[0] != 0, nil
	case tagInt32:
		if len(data) != 4 {
			return nil, b.sizeError(contentType[0], 4, len(data))
		}
		return int32(binary.BigEndian.Uint32(data)), nil
	case tagInt64, tagUint64, tagFloat64:
		if len(data) != 8 {
			return nil, b.sizeError(contentType[0], 8, len(data))
		}
		u := binary.BigEndian.Uint64(data)
		switch contentType[0] {
		case tagInt64:
			return int64(u), nil
		case tagUint64:
			return u, nil
		default:
			return math.Float64frombits(u), nil
		}
	default:
		return nil, fmt.Errorf("serializer: unknown binary tag %q", contentType[0])
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (b *binarySerializerImpl) sizeError(tag byte, want, got int) error {
	return fmt.Errorf("serializer: binary tag %q needs %d bytes, got %d", tag, want, got)
}
