package memory

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns free text into a fixed-size vector. The default is a
// deterministic local hasher; real embedding backends are out of scope
// and would plug in behind this interface.
type Embedder interface {
	Dim() int
	Embed(text string) []float32
}

// HashEmbedder buckets token hashes into a small dense vector and
// normalizes it. Crude, but deterministic and good enough to make
// cosine ranking meaningful over short observation texts.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dim() int { return e.dim }

func (e *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum) % e.dim
		if idx < 0 {
			idx += e.dim
		}
		// Alternate sign off a second hash bit so common tokens
		// don't all pile onto the positive orthant.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
