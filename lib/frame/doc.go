// Package frame implements the wire codec of dMsg: a length prefixed frame format
// carried over any duplex byte stream.
//
// Wire Format (big endian):
//
//	u16 headerLength | u8 protocolVersion | u8 packetType | variant fields | payload
//
// headerLength counts every header byte including the two length bytes. The packet
// type selects the variant:
//
//   - Content (1):   u8 flags | entries
//   - Trackable (2): u8 flags | i32 requestId | entries
//   - RawData (3):   i32 bufferId | i32 sequence | i32 contentLength
//
// Entries are absent for NoContent frames, prefixed by a u8 count for MultiContent
// frames and exactly one otherwise. Each entry is `u16 typeLen | type | i32 length`.
// The payload is the concatenation of all content parts in entry order.
//
// Key Components:
//
//   - Decoder: A state machine (ReadHeaderLength -> ReadHeader -> ReadContent per
//     part) fed with arbitrary chunks. Partial input is kept between calls, so the
//     same stream decodes identically no matter how it is split. Every content part
//     is deserialized through the injected serializer.ISerializer and delivered
//     as one Frame after the last part. Raw data frames bypass the serializer.
//     Malformed input returns a *ProtocolError and poisons the decoder.
//
//   - Encoder: Serializes one header plus payload (a single value, a Composite for
//     multi content frames, or nil for no content) and exposes the bytes through a
//     pull API (FillSendBuffer / OnSendCompleted) that survives short writes without
//     re-serializing.
//
// Neither type is safe for concurrent use. A connection owns one decoder in its read
// loop and one encoder in its write loop.
package frame
