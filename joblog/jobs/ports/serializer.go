package jobports

import "errors"

// ErrSerialize wraps every failure to encode or decode a stored value.
var ErrSerialize = errors.New("serialization failed")

// Serializer turns arbitrary values into bytes for storage and back.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
