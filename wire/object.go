package wire

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"
)

// Object is the materialised key+value payload held in a commit cache
// entry and shipped in write prepares.
// Wire layout: keyLength u16, key bytes, value bytes.
type Object struct {
	Key   []byte
	Value []byte
}

// NewObject builds an object from a key and value.
func NewObject(key, value []byte) *Object {
	return &Object{Key: key, Value: value}
}

// Size returns the serialized length of the object.
func (o *Object) Size() int {
	return 2 + len(o.Key) + len(o.Value)
}

// MarshalBinary serializes the object.
func (o *Object) MarshalBinary() []byte {
	b := make([]byte, 0, o.Size())
	b = binary.LittleEndian.AppendUint16(b, uint16(len(o.Key)))
	b = append(b, o.Key...)
	return append(b, o.Value...)
}

// ParseObject deserializes an object. The remainder of the buffer past
// the key is the value.
func ParseObject(b []byte) (*Object, error) {
	if len(b) < 2 {
		return nil, errShortBuffer("object")
	}
	keyLen := int(binary.LittleEndian.Uint16(b))
	b = b[2:]
	if len(b) < keyLen {
		return nil, errShortBuffer("object key")
	}
	return &Object{Key: b[:keyLen], Value: b[keyLen:]}, nil
}

// KeyHash maps a key to its position in the table's hash space. Tablets
// are ranges of this space, so the hash decides which master owns a key.
func KeyHash(key []byte) uint64 {
	return farm.Fingerprint64(key)
}
