// Package labelmap maintains the bijection between internal vector keys and
// externally meaningful string labels.
//
// A [Map] holds `key -> label` and its inverse `label -> key`; both lookups
// are O(1) and the two directions are kept consistent by construction. One
// Map belongs to exactly one store, which serializes access to it — the Map
// itself performs no locking.
//
// Snapshots are msgpack-encoded (the same codec used on the wire), so a
// round trip preserves the bijection exactly regardless of map ordering.
package labelmap

import (
	"errors"
	"fmt"
	"iter"

	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel errors.
var (
	// ErrKeyExists is returned by Insert when the key is already mapped.
	ErrKeyExists = errors.New("labelmap: key already exists")

	// ErrLabelExists is returned by Insert when the label is already mapped.
	ErrLabelExists = errors.New("labelmap: label already exists")

	// ErrNotFound is returned by Remove when the key is not mapped.
	ErrNotFound = errors.New("labelmap: key not found")

	// ErrCorrupted is returned by Restore when the snapshot does not encode
	// a bijection (e.g. two keys sharing one label).
	ErrCorrupted = errors.New("labelmap: corrupted snapshot")
)

// Map is a bijective mapping between uint32 keys and string labels.
type Map struct {
	byKey   map[uint32]string
	byLabel map[string]uint32
}

// New creates an empty Map.
func New() *Map {
	return &Map{
		byKey:   make(map[uint32]string),
		byLabel: make(map[string]uint32),
	}
}

// Len returns the number of key/label pairs.
func (m *Map) Len() int {
	return len(m.byKey)
}

// Insert adds a key/label pair. Both sides must be unused: callers replace
// an entry by removing it first.
func (m *Map) Insert(key uint32, label string) error {
	if _, ok := m.byKey[key]; ok {
		return fmt.Errorf("%w: %d", ErrKeyExists, key)
	}
	if _, ok := m.byLabel[label]; ok {
		return fmt.Errorf("%w: %q", ErrLabelExists, label)
	}
	m.byKey[key] = label
	m.byLabel[label] = key
	return nil
}

// Remove deletes the pair identified by key.
func (m *Map) Remove(key uint32) error {
	label, ok := m.byKey[key]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, key)
	}
	delete(m.byKey, key)
	delete(m.byLabel, label)
	return nil
}

// Label returns the label mapped to key.
func (m *Map) Label(key uint32) (string, bool) {
	label, ok := m.byKey[key]
	return label, ok
}

// Key returns the key mapped to label.
func (m *Map) Key(label string) (uint32, bool) {
	key, ok := m.byLabel[label]
	return key, ok
}

// ContainsKey reports whether key is mapped.
func (m *Map) ContainsKey(key uint32) bool {
	_, ok := m.byKey[key]
	return ok
}

// ContainsLabel reports whether label is mapped.
func (m *Map) ContainsLabel(label string) bool {
	_, ok := m.byLabel[label]
	return ok
}

// Keys iterates over all mapped keys in unspecified order.
func (m *Map) Keys() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for k := range m.byKey {
			if !yield(k) {
				return
			}
		}
	}
}

// All iterates over all key/label pairs in unspecified order.
func (m *Map) All() iter.Seq2[uint32, string] {
	return func(yield func(uint32, string) bool) {
		for k, l := range m.byKey {
			if !yield(k, l) {
				return
			}
		}
	}
}

// Clone returns a deep copy of the Map.
func (m *Map) Clone() *Map {
	c := &Map{
		byKey:   make(map[uint32]string, len(m.byKey)),
		byLabel: make(map[string]uint32, len(m.byLabel)),
	}
	for k, l := range m.byKey {
		c.byKey[k] = l
		c.byLabel[l] = k
	}
	return c
}

// Snapshot serializes the forward map with msgpack. The inverse direction
// is reconstructed on Restore, so only one direction is stored.
func (m *Map) Snapshot() ([]byte, error) {
	data, err := msgpack.Marshal(m.byKey)
	if err != nil {
		return nil, fmt.Errorf("labelmap: snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the Map's contents with the snapshot's. The snapshot must
// encode a bijection; a duplicate label makes the whole snapshot invalid.
func (m *Map) Restore(data []byte) error {
	byKey := make(map[uint32]string)
	if err := msgpack.Unmarshal(data, &byKey); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	byLabel := make(map[string]uint32, len(byKey))
	for k, l := range byKey {
		if prev, ok := byLabel[l]; ok {
			return fmt.Errorf("%w: label %q mapped to keys %d and %d", ErrCorrupted, l, prev, k)
		}
		byLabel[l] = k
	}

	m.byKey = byKey
	m.byLabel = byLabel
	return nil
}
