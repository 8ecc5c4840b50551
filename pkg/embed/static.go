package embed

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// Static implements [Embedder] with deterministic pseudo-random vectors:
// equal payloads always embed to the same unit vector, distinct payloads
// almost surely do not. It needs no network and no model, which makes it
// the embedder for tests, CI, and offline smoke runs.
type Static struct {
	dim int
}

var _ Embedder = (*Static)(nil)

// NewStatic creates a deterministic embedder producing dim-sized vectors.
func NewStatic(dim int) *Static {
	if dim <= 0 {
		panic("embed: dim must be positive")
	}
	return &Static{dim: dim}
}

// EmbedBatch derives each vector from a hash of the payload content.
// Invalid payloads yield nil rows.
func (s *Static) EmbedBatch(_ context.Context, payloads []Payload) ([][]float32, error) {
	if len(payloads) == 0 {
		return nil, ErrEmptyInput
	}
	result := make([][]float32, len(payloads))
	for i, p := range payloads {
		if p.Validate() != nil {
			continue
		}
		result[i] = s.vectorFor(p)
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (s *Static) Dimension() int {
	return s.dim
}

func (s *Static) vectorFor(p Payload) []float32 {
	h := fnv.New64a()
	h.Write([]byte(p.Kind()))
	h.Write([]byte{0})
	if p.Kind() == KindImage {
		h.Write(p.Image)
	} else {
		h.Write([]byte(p.Text))
	}
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	vec := make([]float32, s.dim)
	var norm float64
	for i := range vec {
		x := rng.NormFloat64()
		vec[i] = float32(x)
		norm += x * x
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}
