package serializer

import "github.com/ValentinKolb/layerkv/rpc/common"

// IRPCSerializer is the interface for all Message serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into msg, overwriting every field.
	// Messages can therefore be reused across calls.
	Deserialize(b []byte, msg *common.Message) error
}
