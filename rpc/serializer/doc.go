// Package serializer turns common.Message values into bytes and back for the
// transport layer. All implementations satisfy IRPCSerializer and are
// stateless, so a single instance can be shared by any number of goroutines.
//
// Key Components:
//
//   - msgpackSerializerImpl: msgpack with the short field tags of
//     common.Message. The smallest payloads, and the same codec the entity and
//     query packages use for the nested payloads. Recommended for production.
//
//   - jsonSerializerImpl: JSON, useful for debugging with curl. Nested
//     payloads show up base64 encoded.
//
//   - gobSerializerImpl: Go's gob encoding. Works, but every message carries
//     its type description, so payloads are the largest.
//
// Usage:
//
//	s := serializer.NewMsgpackSerializer()
//	data, err := s.Serialize(*common.NewGetRequest(nil, keys))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(received, &resp)
package serializer
