// Package vecmath implements the normalize/dot/blob primitives the vector
// index is built on: unit-norm f32 vectors compared by dot product, and a
// little-endian IEEE-754 blob codec for on-disk storage.
package vecmath

import (
	"encoding/binary"
	"math"

	"github.com/localkb/localkb/internal/kberrors"
)

// epsilon is the minimum magnitude below which a vector cannot be normalized.
const epsilon = 1e-12

// Normalize returns a unit vector pointing in the same direction as v.
// Fails with InvalidArgument if v is empty or has magnitude <= epsilon.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, kberrors.New(kberrors.InvalidArgument, "vector is empty")
	}

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	mag := math.Sqrt(sumSq)
	if mag <= epsilon {
		return nil, kberrors.New(kberrors.InvalidArgument, "vector magnitude is zero or negligible")
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out, nil
}

// Dot computes the dot product of a and b. Fails with InvalidArgument on
// length mismatch or empty input.
func Dot(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, kberrors.New(kberrors.InvalidArgument, "vector is empty")
	}
	if len(a) != len(b) {
		return 0, kberrors.Newf(kberrors.InvalidArgument, "length mismatch: %d != %d", len(a), len(b))
	}

	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

// ToBlob serializes v as len(v)*4 bytes, little-endian IEEE-754 f32.
func ToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// FromBlob deserializes a little-endian f32 blob back into a vector. Fails
// if len(b) is not a multiple of 4.
func FromBlob(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, kberrors.Newf(kberrors.InvalidArgument, "blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
