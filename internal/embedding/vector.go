package embedding

import "math"

// Norm returns the L2 norm of the vector
func Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize scales the vector to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	norm := Norm(vec)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// IsUnitNorm reports whether the vector's L2 norm is within tolerance of 1
func IsUnitNorm(vec []float32, tolerance float64) bool {
	return math.Abs(Norm(vec)-1) <= tolerance
}

// Cosine returns the cosine similarity of two vectors of equal length.
// Returns 0 when either vector has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}
