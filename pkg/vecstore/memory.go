package vecstore

import (
	"fmt"
	"io"
	"iter"
	"math"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Memory is an in-memory Index implementation using brute-force cosine
// distance. It is exact, so tests use it as a reference against which the
// graph index is checked. Intended for small-scale use (< 1000 vectors).
//
// It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	dim      int
	capacity int
	vectors  map[uint32][]float32
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty brute-force index.
func NewMemory(dim, capacity int) *Memory {
	if dim <= 0 {
		panic("vecstore: dim must be positive")
	}
	if capacity <= 0 {
		panic("vecstore: capacity must be positive")
	}
	return &Memory{
		dim:      dim,
		capacity: capacity,
		vectors:  make(map[uint32][]float32),
	}
}

func (m *Memory) Insert(key uint32, vector []float32, replace bool) error {
	if len(vector) != m.dim {
		return fmt.Errorf("vecstore: dimension mismatch: got %d, want %d", len(vector), m.dim)
	}
	if key == 0 {
		return fmt.Errorf("vecstore: key must be positive")
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	if int(key) > m.capacity {
		return fmt.Errorf("%w: key %d, capacity %d", ErrCapacityExceeded, key, m.capacity)
	}
	if _, ok := m.vectors[key]; ok && !replace {
		return fmt.Errorf("%w: %d", ErrKeyExists, key)
	}
	m.vectors[key] = cp
	return nil
}

func (m *Memory) Query(query []float32, k, ef int) ([]Match, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("vecstore: dimension mismatch: got %d, want %d", len(query), m.dim)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.vectors) == 0 || k <= 0 {
		return nil, nil
	}

	results := make([]Match, 0, len(m.vectors))
	for key, vec := range m.vectors {
		results = append(results, Match{Key: key, Distance: CosineDistance(query, vec)})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Tombstone removes the vector outright; there is no graph to preserve.
func (m *Memory) Tombstone(key uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vectors[key]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, key)
	}
	delete(m.vectors, key)
	return nil
}

func (m *Memory) Contains(key uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vectors[key]
	return ok
}

func (m *Memory) Vector(key uint32) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, ok := m.vectors[key]
	if !ok {
		return nil, false
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	return cp, true
}

func (m *Memory) Live() iter.Seq2[uint32, []float32] {
	return func(yield func(uint32, []float32) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for key, vec := range m.vectors {
			cp := make([]float32, len(vec))
			copy(cp, vec)
			if !yield(key, cp) {
				return
			}
		}
	}
}

func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

func (m *Memory) Capacity() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capacity
}

func (m *Memory) Resize(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < m.capacity {
		return fmt.Errorf("vecstore: cannot shrink capacity %d to %d", m.capacity, n)
	}
	m.capacity = n
	return nil
}

// memorySnapshot is the msgpack form of a Memory index.
type memorySnapshot struct {
	Dim      int                  `msgpack:"dim"`
	Capacity int                  `msgpack:"capacity"`
	Vectors  map[uint32][]float32 `msgpack:"vectors"`
}

func (m *Memory) Save(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, err := msgpack.Marshal(memorySnapshot{
		Dim:      m.dim,
		Capacity: m.capacity,
		Vectors:  m.vectors,
	})
	if err != nil {
		return fmt.Errorf("vecstore: save memory index: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// LoadMemory deserializes a Memory index written by [Memory.Save].
func LoadMemory(r io.Reader) (*Memory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var snap memorySnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if snap.Dim <= 0 || snap.Capacity <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions", ErrCorrupted)
	}
	if snap.Vectors == nil {
		snap.Vectors = make(map[uint32][]float32)
	}
	return &Memory{
		dim:      snap.Dim,
		capacity: snap.Capacity,
		vectors:  snap.Vectors,
	}, nil
}

// CosineDistance computes the cosine distance between two vectors.
// Returns a value in [0, 2] where 0 means identical direction and
// 2 means opposite direction. Mismatched lengths and zero-norm vectors
// report the maximum distance.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2 // maximum distance for mismatched dimensions
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return 2 // zero vector has no direction
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return float32(1 - similarity)
}
