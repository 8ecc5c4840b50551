// Package embed turns search payloads into dense unit vectors.
//
// A [Payload] is either a piece of text or raw image bytes; an [Embedder]
// converts a batch of payloads into vectors. Embedding failures are
// per-item: a failed payload yields a nil row and the rest of the batch
// proceeds, so one bad image cannot sink an ingestion batch.
//
// # Implementations
//
//   - [OpenAI] — text via the OpenAI embeddings API (or any compatible
//     provider via WithBaseURL); image payloads are per-item failures
//   - [DashScope] — Aliyun DashScope text models, OpenAI-compatible API
//   - [Remote] — a CLIP-style HTTP server that handles both text and images
//   - [Static] — deterministic vectors for tests and offline runs
//
// All implementations return unit-normalized vectors, so cosine distance
// between them is a pure direction comparison.
package embed

import (
	"context"
	"errors"
	"math"

	"github.com/isearch/isearch/pkg/vecstore"
)

// Common errors.
var (
	// ErrEmptyInput is returned when the batch has no payloads.
	ErrEmptyInput = errors.New("embed: empty input")

	// ErrInvalidPayload is returned for a payload with neither or both
	// fields set.
	ErrInvalidPayload = errors.New("embed: invalid payload")
)

// Kind discriminates the payload union.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Payload is one item to embed: either text or image bytes, never both.
// Build one with [Text] or [Image]; a zero Payload is invalid.
type Payload struct {
	Text  string
	Image []byte
}

// Text wraps a text payload.
func Text(s string) Payload { return Payload{Text: s} }

// Image wraps an image-bytes payload.
func Image(data []byte) Payload { return Payload{Image: data} }

// Kind reports which side of the union is set.
func (p Payload) Kind() Kind {
	if len(p.Image) > 0 {
		return KindImage
	}
	return KindText
}

// Validate checks that exactly one side of the union is set and non-empty.
func (p Payload) Validate() error {
	hasText := p.Text != ""
	hasImage := len(p.Image) > 0
	if hasText == hasImage {
		return ErrInvalidPayload
	}
	return nil
}

// Embedder converts payload batches into dense float32 vectors.
type Embedder interface {
	// EmbedBatch returns one vector per payload, in order. A nil row marks
	// a per-item failure; the error return is reserved for failures that
	// affect the whole batch (transport, auth).
	EmbedBatch(ctx context.Context, payloads []Payload) ([][]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

// Normalize scales v to unit length in place and returns it.
// A zero vector is left unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Similarity scores two vectors as a percentage in [0, 100].
func Similarity(a, b []float32) float64 {
	return vecstore.Similarity(vecstore.CosineDistance(a, b))
}
