package vector

// InnerProduct is the dot product of a and b, the cosine similarity when both are unit
// length. Mismatched lengths score 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float32
	for i, v := range a {
		dot += v * b[i]
	}
	return float64(dot)
}
