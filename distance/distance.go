package distance

import (
	"fmt"
	"math"
	"slices"
)

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricCosine Metric = iota
	MetricL2
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "Cosine"
	case MetricL2:
		return "L2"
	case MetricDot:
		return "Dot"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Func is a function type for distance calculation.
// Smaller values mean closer vectors for every metric.
type Func func(a, b []float32) float32

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// L2 calculates the L2 (Euclidean) distance between two vectors.
func L2(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// Cosine calculates the cosine distance (1 - cosine similarity) between two
// vectors. Zero-magnitude vectors have distance 1 to everything.
func Cosine(a, b []float32) float32 {
	dot := Dot(a, b)
	magA := float32(math.Sqrt(float64(Dot(a, a))))
	magB := float32(math.Sqrt(float64(Dot(b, b))))
	if magA == 0 || magB == 0 {
		return 1
	}
	return 1 - dot/(magA*magB)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricCosine:
		return Cosine, nil
	case MetricL2:
		return L2, nil
	case MetricDot:
		// Convert dot product similarity (higher is better) into a distance (lower is better).
		return func(a, b []float32) float32 {
			return -Dot(a, b)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Similarity converts a metric-specific distance into an increasing-is-better
// similarity score:
//
//	Cosine: 1 - distance
//	L2:     exp(-distance)
//	Dot:    -distance
func Similarity(m Metric, distance float32) float32 {
	switch m {
	case MetricCosine:
		return 1 - distance
	case MetricL2:
		return float32(math.Exp(-float64(distance)))
	case MetricDot:
		return -distance
	default:
		return -distance
	}
}
