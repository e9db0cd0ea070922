package contacts

import "math"

// encodeVector stores a vector as little-endian IEEE 754 float32s.
func encodeVector(vector []float32) []byte {
	if len(vector) == 0 {
		return nil
	}
	data := make([]byte, len(vector)*4)
	for i, f := range vector {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// CosineDistance returns 1 - cosine similarity. Mismatched or zero vectors
// are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
