// Package serializer provides the payload serialization layer of the frame codec.
// It defines the contract that maps application values to content bytes plus a
// content type descriptor carried in every frame header, and back.
//
// Key Components:
//
//   - ISerializer: Core interface that all serializer implementations must satisfy.
//     Serialize writes into the encoder's content buffer and returns the content type,
//     Deserialize reads exactly one content part.
//
//   - ITypeResolver / TypeRegistry: Maps Go types to stable wire names and back. The
//     registry comes with the builtin scalar types registered and is safe for concurrent
//     registration and lookup. Pointer types resolve to their element type.
//
//   - jsonSerializerImpl: JSON encoding of registered types. Human readable, useful
//     for debugging or interoperability with other systems.
//
//   - gobSerializerImpl: Go's gob encoding of registered types. Each value is encoded
//     with its own encoder, so parts can be decoded independently.
//
//   - binarySerializerImpl: Compact tagged encoding for scalars ([]byte, string, bool,
//     int32, int64, uint64, float64). The fastest option for raw byte payloads.
//
//   - protoSerializerImpl: Protocol buffer messages. The content type is the full
//     message name which is resolved through a protoregistry on the receiving side,
//     so no registration beyond importing the generated package is required.
//
// Thread Safety:
//
//	All serializer implementations are stateless apart from their resolver and are
//	safe for concurrent use across multiple goroutines.
//
// Usage:
//
//	registry := serializer.NewTypeRegistry()
//	_ = serializer.RegisterType[Greeting](registry, "example.greeting")
//	s := serializer.NewJSONSerializer(registry)
//
//	var buf bytes.Buffer
//	contentType, err := s.Serialize(Greeting{Text: "hi"}, &buf)
//	// ... transmit contentType and buf ...
//	v, err := s.Deserialize(contentType, &buf) // v is a Greeting
package serializer
