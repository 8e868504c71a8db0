package emb

import "math"

// MeanPool averages the token states in hidden (seqLen x dim, row-major)
// whose attention mask is non-zero.
func MeanPool(hidden []float32, mask []int64, seqLen, dim int) []float32 {
	out := make([]float32, dim)
	if dim <= 0 || len(hidden) < seqLen*dim {
		return out
	}
	sums := make([]float64, dim)
	var count float64
	for t := 0; t < seqLen; t++ {
		if t < len(mask) && mask[t] == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			sums[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return out
	}
	for i := range sums {
		out[i] = float32(sums[i] / count)
	}
	return out
}

// Normalize scales vec to unit length in place. Zero vectors are left as is.
func Normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
