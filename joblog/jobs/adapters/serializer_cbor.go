package adapters

import (
	"fmt"
	"reflect"

	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/ugorji/go/codec"
)

// CBORSerializer implements Serializer with canonical CBOR.
// Structs encode by exported field name, so a model decodes into any struct
// with matching fields.
type CBORSerializer struct {
	handle *codec.CborHandle
}

// NewCBORSerializer creates a new CBOR serializer.
func NewCBORSerializer() *CBORSerializer {
	h := &codec.CborHandle{}
	h.Canonical = true
	h.SignedInteger = true
	h.MapType = reflect.TypeOf(map[string]any(nil))
	return &CBORSerializer{handle: h}
}

// Marshal encodes v.
func (s *CBORSerializer) Marshal(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, s.handle).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: failed to encode %T: %v", ports.ErrSerialize, v, err)
	}
	return out, nil
}

// Unmarshal decodes data into v, which must be a pointer.
func (s *CBORSerializer) Unmarshal(data []byte, v any) error {
	if err := codec.NewDecoderBytes(data, s.handle).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode into %T: %v", ports.ErrSerialize, v, err)
	}
	return nil
}

// Ensure CBORSerializer implements the Serializer interface.
var _ ports.Serializer = (*CBORSerializer)(nil)
