package fingerprint

import (
	"crypto/sha512"
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/mat"
)

// HashMatrix hashes the dimensions of m followed by its elements in row-major
// order, each as a little-endian IEEE-754 float64.
func HashMatrix(m mat.Matrix) Digest {
	h := sha512.New384()
	r, c := m.Dims()

	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(r))
	h.Write(word[:])
	binary.LittleEndian.PutUint64(word[:], uint64(c))
	h.Write(word[:])

	row := make([]byte, 8*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			binary.LittleEndian.PutUint64(row[8*j:], math.Float64bits(m.At(i, j)))
		}
		h.Write(row)
	}

	var d Digest
	h.Sum(d[:0])
	return d
}

// HashVector hashes the length of v followed by its elements.
func HashVector(v mat.Vector) Digest {
	h := sha512.New384()
	n := v.Len()

	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(n))
	h.Write(word[:])

	buf := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v.AtVec(i)))
	}
	h.Write(buf)

	var d Digest
	h.Sum(d[:0])
	return d
}
