package memory

import (
	"encoding/binary"
	"math"
)

const embeddingDim = 1024

// packEmbedding encodes a float32 vector as a little-endian BLOB, the
// storage representation declared for memories.embedding. A nil/empty
// vector packs to nil, meaning "no embedding yet" (FTS-only row).
func packEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// unpackEmbedding is packEmbedding's inverse. A malformed (wrong-length)
// blob unpacks to nil rather than panicking, since a zero-value vector
// cosine-similarity's to zero with everything and simply never wins a
// ranking.
func unpackEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// if either is empty or zero-length (no embedding to compare).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
