package vector

// SquaredL2 returns the squared Euclidean distance between a and b.
// Callers guarantee equal lengths.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Similarity converts a squared L2 distance between unit vectors into a cosine-style score.
// For normalized inputs the result lies in [-1, 1]; 1 means identical.
func Similarity(distance float32) float64 {
	return 1.0 - float64(distance)/2.0
}
