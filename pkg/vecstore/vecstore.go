// Package vecstore provides approximate nearest-neighbor (ANN) search over
// dense float32 vectors keyed by small integers.
//
// The [Index] interface defines the contract for vector storage and search.
// Implementations include [HNSW] for production use and an in-memory
// brute-force index for testing ([NewMemory]).
//
// Keys are 1-based and assigned by the caller; an index holds at most
// Capacity vectors and grows only through an explicit [Index.Resize].
// Deletion is a tombstone: the node stays in the graph so traversal quality
// does not degrade, but it never appears in query results. Callers that
// accumulate many tombstones rebuild into a fresh index.
package vecstore

import (
	"errors"
	"io"
	"iter"
	"math"
)

// Sentinel errors.
var (
	// ErrCapacityExceeded is returned by Insert when the key is beyond the
	// index capacity. Grow with Resize first.
	ErrCapacityExceeded = errors.New("vecstore: capacity exceeded")

	// ErrKeyExists is returned by Insert when the key already holds a live
	// vector and replace was not requested.
	ErrKeyExists = errors.New("vecstore: key already exists")

	// ErrNotFound is returned when the key holds no live vector.
	ErrNotFound = errors.New("vecstore: key not found")

	// ErrCorrupted is returned by Load when the snapshot cannot be decoded.
	ErrCorrupted = errors.New("vecstore: corrupted snapshot")
)

// Index is the interface for approximate nearest-neighbor search over
// dense float32 vectors with caller-assigned uint32 keys (1-based).
//
// All implementations must be safe for concurrent use.
type Index interface {
	// Insert adds a vector under the given key. If the key is occupied
	// (live or tombstoned) and replace is true, the old node is unlinked
	// and the vector inserted fresh; without replace a live key returns
	// ErrKeyExists. Keys beyond capacity return ErrCapacityExceeded.
	Insert(key uint32, vector []float32, replace bool) error

	// Query returns up to k live vectors nearest to the query, ordered by
	// ascending distance. ef bounds the candidate list; it is raised to k
	// when smaller.
	Query(query []float32, k, ef int) ([]Match, error)

	// Tombstone marks a key deleted. The vector stops appearing in query
	// results but its node remains in the graph for connectivity.
	Tombstone(key uint32) error

	// Contains reports whether key holds a live vector.
	Contains(key uint32) bool

	// Vector returns a copy of the live vector stored under key.
	Vector(key uint32) ([]float32, bool)

	// Live iterates over all live key/vector pairs in unspecified order.
	Live() iter.Seq2[uint32, []float32]

	// Count returns the number of live vectors.
	Count() int

	// Capacity returns the maximum number of keys the index can hold.
	Capacity() int

	// Resize grows the index to hold n keys. Shrinking is not supported.
	Resize(n int) error

	// Save serializes the index to w.
	Save(w io.Writer) error
}

// Similarity converts a cosine distance to a percentage score, rounded to
// one decimal and clamped to [0, 100]. Identical direction scores 100;
// orthogonal and worse score 0.
func Similarity(dist float32) float64 {
	s := (1 - float64(dist)) * 100
	s = math.Round(s*10) / 10
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Match is a single result from a vector similarity search.
type Match struct {
	// Key is the key of the matched vector.
	Key uint32

	// Distance is the cosine distance between the query and matched
	// vector, in [0, 2]. Lower values indicate higher similarity.
	Distance float32
}
