package store

import (
	"encoding/binary"
	"math"
	"sort"
)

// encodeVector converts a float32 slice to a byte slice for storage.
// Each float32 is encoded as 4 bytes in little-endian format.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector converts a byte slice back to a float32 slice.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineSimilarity returns a value in [-1, 1]; mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

type scoredMemory struct {
	Memory
	score float32
}

// rankBySimilarity keeps memories whose embedding matches the query dimension
// and returns the top limit of them, most similar first.
func rankBySimilarity(memories []Memory, query []float32, limit int) []Memory {
	scored := make([]scoredMemory, 0, len(memories))
	for _, m := range memories {
		if len(m.Embedding) == 0 || len(m.Embedding) != len(query) {
			continue
		}
		scored = append(scored, scoredMemory{Memory: m, score: cosineSimilarity(query, m.Embedding)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	topK := len(scored)
	if limit > 0 {
		topK = min(limit, topK)
	}
	out := make([]Memory, topK)
	for i := range topK {
		out[i] = scored[i].Memory
	}
	return out
}
