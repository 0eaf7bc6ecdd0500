// Package fingerprint derives the content-based identity of a training computation.
//
// A fingerprint is the SHA-384 digest of the canonical CBOR encoding of
//
//	[version, algorithm, sha384(X), sha384(Y), canonical(params), label|null]
//
// Canonical CBOR sorts map keys, so the insertion order of hyperparameters never
// affects the result. Arrays are hashed element by element in row-major order,
// so reordering or transposing training data always yields a new fingerprint.
package fingerprint

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ugorji/go/codec"
	"gonum.org/v1/gonum/mat"
)

// version is bumped whenever the encoded tuple changes shape.
const version = 1

// Size is the length of a fingerprint in bytes.
const Size = sha512.Size384

// ErrInvalidInput is returned for inputs that cannot be fingerprinted.
var ErrInvalidInput = errors.New("invalid fingerprint input")

// Fingerprint identifies one computation.
type Fingerprint [Size]byte

// Digest is the content hash of a single input array.
type Digest [Size]byte

// Inputs are the declared inputs of a computation.
type Inputs struct {
	Algorithm string
	X         mat.Matrix
	Y         mat.Vector
	Params    Params
	Label     *string // nil means no label; a pointer to "" is a present, empty label
}

var cborHandle = func() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	return h
}()

// Compute returns the fingerprint of in. Equal inputs always give equal fingerprints.
func Compute(in Inputs) (Fingerprint, error) {
	if in.Algorithm == "" {
		return Fingerprint{}, fmt.Errorf("%w: empty algorithm id", ErrInvalidInput)
	}
	if in.X == nil {
		return Fingerprint{}, fmt.Errorf("%w: nil feature matrix", ErrInvalidInput)
	}
	if in.Y == nil {
		return Fingerprint{}, fmt.Errorf("%w: nil target vector", ErrInvalidInput)
	}

	params, err := Canonical(in.Params)
	if err != nil {
		return Fingerprint{}, err
	}

	xh := HashMatrix(in.X)
	yh := HashVector(in.Y)

	var label any
	if in.Label != nil {
		label = *in.Label
	}

	tuple := []any{version, in.Algorithm, xh[:], yh[:], params, label}

	var buf []byte
	if err := codec.NewEncoderBytes(&buf, cborHandle).Encode(tuple); err != nil {
		return Fingerprint{}, fmt.Errorf("%w: failed to encode inputs: %v", ErrInvalidInput, err)
	}

	return Fingerprint(sha512.Sum384(buf)), nil
}

// String returns the lowercase hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, enough to tell records apart in listings.
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Parse decodes the hex form produced by String.
func Parse(s string) (Fingerprint, error) {
	var f Fingerprint
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(Size) {
		return f, fmt.Errorf("fingerprint must be %d hex characters, got %d", hex.EncodedLen(Size), len(s))
	}
	if _, err := hex.Decode(f[:], []byte(s)); err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	return f, nil
}

// IsHexPrefix reports whether s could be the beginning of a fingerprint string.
func IsHexPrefix(s string) bool {
	if s == "" || len(s) > hex.EncodedLen(Size) {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
