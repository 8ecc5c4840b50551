// Package store composes a vector index with a label mapping and keeps both
// durable.
//
// A Store owns exactly one [vecstore.HNSW] index and one [labelmap.Map],
// persisted as two files under a per-store directory: index.db (the binary
// index snapshot) and mapping.db (the msgpack label mapping). The pair is
// the unit of consistency; opening a store with only one file present, or
// with the two files disagreeing about the number of live vectors, fails
// with [ErrCorrupted] rather than guessing.
//
// Keys are allocated store-side: tombstoned keys are reused first, then a
// monotonic counter. Deleting accumulates tombstones in the index; Rebuild
// reinserts the live vectors into a fresh graph with dense keys from 1.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"

	"github.com/isearch/isearch/pkg/labelmap"
	"github.com/isearch/isearch/pkg/storage"
	"github.com/isearch/isearch/pkg/vecstore"
)

// Snapshot file names inside a store directory.
const (
	indexFile   = "index.db"
	mappingFile = "mapping.db"
)

// Defaults for store options.
const (
	// DefaultCapacityStep is the increment by which index capacity grows
	// when a batch would overflow it.
	DefaultCapacityStep = 10_000

	// DefaultRebuildBatch is how many vectors Rebuild reinserts between
	// progress log lines.
	DefaultRebuildBatch = 1000

	// Query breadth bounds: ef = clamp(3k, minEf, maxEf).
	minEf = 150
	maxEf = 300
)

// Sentinel errors.
var (
	// ErrArgument is returned for invalid caller input: mismatched batch
	// lengths, out-of-range similarity bounds, unknown delete references.
	ErrArgument = errors.New("store: invalid argument")

	// ErrCorrupted is returned by Open when the on-disk artifacts are
	// incomplete or inconsistent with each other.
	ErrCorrupted = errors.New("store: corrupted store")
)

// Options configures a Store.
type Options struct {
	// Dim is the vector dimension. Required when creating a new store;
	// ignored (the snapshot wins) when loading an existing one.
	Dim int

	// CapacityStep is the capacity growth increment.
	// Default: DefaultCapacityStep.
	CapacityStep int

	// M and EfConstruction tune new indexes; zero keeps the vecstore
	// defaults.
	M              int
	EfConstruction int

	// Logger receives store-scoped logs. Default: slog.Default().
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.CapacityStep <= 0 {
		o.CapacityStep = DefaultCapacityStep
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Ref identifies a vector for deletion, by key or by label.
// Exactly one field should be set; a zero Key means "by label".
type Ref struct {
	Key   uint32
	Label string
}

// Match is a single search result.
type Match struct {
	// Label identifies the matched item.
	Label string

	// Similarity is a percentage in [0, 100], one decimal place.
	Similarity float64
}

// Info describes a store's current shape.
type Info struct {
	Name     string
	Size     int // live vectors
	Capacity int
	Dim      int
}

// Store pairs one vector index with one label mapping and persists both.
//
// All mutators run under the store's mutex. Searches query the index
// without it (the index serializes internally) and take it only to
// resolve result keys to labels, so the graph traversal never waits on
// an in-flight batch commit; the short label-resolution step can.
type Store struct {
	name string
	fs   storage.FileStore
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	index   *vecstore.HNSW
	mapping *labelmap.Map
	nextKey uint32   // next never-used key
	free    []uint32 // tombstoned keys available for reuse
}

// Open loads the named store from fs, or creates an empty one if no
// artifacts exist. Exactly one of the two snapshot files present, or a
// live-count/mapping-size mismatch, is ErrCorrupted: a partial write has
// destroyed the key-to-label correspondence and searching would return
// wrong labels silently.
func Open(ctx context.Context, fs storage.FileStore, name string, opts Options) (*Store, error) {
	opts.setDefaults()
	log := opts.Logger.With("store", name)

	s := &Store{
		name: name,
		fs:   fs,
		opts: opts,
		log:  log,
	}

	haveIndex, err := fs.Exists(ctx, s.path(indexFile))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", name, err)
	}
	haveMapping, err := fs.Exists(ctx, s.path(mappingFile))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", name, err)
	}

	switch {
	case haveIndex && haveMapping:
		if err := s.load(ctx); err != nil {
			return nil, err
		}
		log.Info("store loaded", "size", s.index.Count(), "capacity", s.index.Capacity())

	case haveIndex != haveMapping:
		return nil, fmt.Errorf("%w: %s has index=%v mapping=%v", ErrCorrupted, name, haveIndex, haveMapping)

	default:
		if opts.Dim <= 0 {
			return nil, fmt.Errorf("%w: dimension required to create store %s", ErrArgument, name)
		}
		s.index = s.newIndex(opts.Dim, opts.CapacityStep)
		s.mapping = labelmap.New()
		s.nextKey = 1
		log.Info("store created", "dim", opts.Dim, "capacity", opts.CapacityStep)
	}

	return s, nil
}

func (s *Store) path(file string) string {
	return path.Join(s.name, file)
}

func (s *Store) newIndex(dim, capacity int) *vecstore.HNSW {
	return vecstore.NewHNSW(vecstore.Config{
		Dim:            dim,
		Capacity:       capacity,
		M:              s.opts.M,
		EfConstruction: s.opts.EfConstruction,
	})
}

// load reads both snapshot files and cross-checks them.
func (s *Store) load(ctx context.Context) error {
	rc, err := s.fs.Read(ctx, s.path(indexFile))
	if err != nil {
		return fmt.Errorf("store: load %s: %w", s.name, err)
	}
	idx, err := vecstore.Load(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, s.name, err)
	}

	data, err := storage.ReadFile(ctx, s.fs, s.path(mappingFile))
	if err != nil {
		return fmt.Errorf("store: load %s: %w", s.name, err)
	}
	mapping := labelmap.New()
	if err := mapping.Restore(data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, s.name, err)
	}

	if idx.Count() != mapping.Len() {
		return fmt.Errorf("%w: %s: index has %d live vectors, mapping has %d labels",
			ErrCorrupted, s.name, idx.Count(), mapping.Len())
	}
	for key := range mapping.Keys() {
		if !idx.Contains(key) {
			return fmt.Errorf("%w: %s: mapped key %d is not live in the index", ErrCorrupted, s.name, key)
		}
	}

	s.index = idx
	s.mapping = mapping
	s.nextKey = idx.MaxKey() + 1
	s.free = idx.Tombstones()
	return nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Info reports the store's current shape.
func (s *Store) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Name:     s.name,
		Size:     s.index.Count(),
		Capacity: s.index.Capacity(),
		Dim:      s.index.Dimension(),
	}
}

// HasLabels reports, per label, whether the store holds a vector for it.
func (s *Store) HasLabels(labels []string) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(labels))
	for i, label := range labels {
		out[i] = s.mapping.ContainsLabel(label)
	}
	return out
}

// allocKey hands out the next key: tombstoned keys first, then the counter.
// Caller must hold s.mu.
func (s *Store) allocKey() uint32 {
	if n := len(s.free); n > 0 {
		key := s.free[n-1]
		s.free = s.free[:n-1]
		return key
	}
	key := s.nextKey
	s.nextKey++
	return key
}

// Add inserts a batch of labeled vectors and persists the result. Labels
// already present are overwritten in place when overwrite is set, skipped
// otherwise; neither case allocates a new key. Nil vectors (failed
// embeddings upstream) are skipped. The index grows by CapacityStep
// increments before a batch that would overflow it.
//
// The returned count is the number of vectors actually written.
func (s *Store) Add(ctx context.Context, labels []string, vectors [][]float32, overwrite bool) (int, error) {
	if len(labels) != len(vectors) {
		return 0, fmt.Errorf("%w: %d labels, %d vectors", ErrArgument, len(labels), len(vectors))
	}
	if len(labels) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Count key allocations up front so capacity grows once per batch.
	newCount := 0
	for i, label := range labels {
		if vectors[i] == nil {
			continue
		}
		if !s.mapping.ContainsLabel(label) {
			newCount++
		}
	}
	if err := s.ensureCapacity(newCount); err != nil {
		return 0, err
	}

	written := 0
	for i, label := range labels {
		vec := vectors[i]
		if vec == nil {
			s.log.Debug("skipping item without vector", "label", label)
			continue
		}

		if key, ok := s.mapping.Key(label); ok {
			if !overwrite {
				s.log.Debug("label exists, skipping", "label", label)
				continue
			}
			if err := s.index.Insert(key, vec, true); err != nil {
				return written, fmt.Errorf("store: add %q: %w", label, err)
			}
			written++
			continue
		}

		key := s.allocKey()
		if err := s.index.Insert(key, vec, true); err != nil {
			s.free = append(s.free, key)
			return written, fmt.Errorf("store: add %q: %w", label, err)
		}
		if err := s.mapping.Insert(key, label); err != nil {
			return written, fmt.Errorf("store: add %q: %w", label, err)
		}
		written++
	}

	if written > 0 {
		if err := s.persist(ctx); err != nil {
			return written, err
		}
		s.log.Info("batch added", "written", written, "size", s.index.Count())
	}
	return written, nil
}

// ensureCapacity grows the index so that n more keys can be allocated.
// Caller must hold s.mu.
func (s *Store) ensureCapacity(n int) error {
	reusable := len(s.free)
	needed := int(s.nextKey) - 1 + n - reusable
	current := s.index.Capacity()
	if needed <= current {
		return nil
	}
	grown := current
	for grown < needed {
		grown += s.opts.CapacityStep
	}
	if err := s.index.Resize(grown); err != nil {
		return fmt.Errorf("store: grow capacity: %w", err)
	}
	s.log.Info("capacity grown", "from", current, "to", grown)
	return nil
}

// searchEf picks the layer-0 beam width for a top-k search.
func searchEf(k int) int {
	ef := 3 * k
	if ef < minEf {
		return minEf
	}
	if ef > maxEf {
		return maxEf
	}
	return ef
}

// Search returns up to k labels whose vectors are most similar to the
// query, with similarity at least minSim (a percentage), sorted by
// descending similarity. An empty query vector or an empty store yields an
// empty result.
func (s *Store) Search(query []float32, k int, minSim float64) ([]Match, error) {
	if minSim < 0 || minSim > 100 {
		return nil, fmt.Errorf("%w: similarity bound %v outside [0, 100]", ErrArgument, minSim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrArgument)
	}
	if len(query) == 0 {
		return nil, nil
	}

	// No store lock: the index serializes internally, and a stale read
	// during a concurrent batch is acceptable.
	found, err := s.index.Query(query, k, searchEf(k))
	if err != nil {
		return nil, fmt.Errorf("store: search %s: %w", s.name, err)
	}

	matches := make([]Match, 0, len(found))
	s.mu.Lock()
	for _, f := range found {
		label, ok := s.mapping.Label(f.Key)
		if !ok {
			// Key was unmapped between the index read and here.
			continue
		}
		sim := vecstore.Similarity(f.Distance)
		if sim < minSim {
			continue
		}
		matches = append(matches, Match{Label: label, Similarity: sim})
	}
	s.mu.Unlock()
	return matches, nil
}

// Delete tombstones the referenced vectors and removes their labels. Every
// ref must resolve; an unknown key or label fails the whole call before
// anything is mutated. Refs resolving to the same key collapse into one
// delete. With rebuild set the index is rebuilt immediately, otherwise
// tombstones accumulate until the next rebuild.
func (s *Store) Delete(ctx context.Context, refs []Ref, rebuild bool) error {
	if len(refs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]uint32, 0, len(refs))
	seen := make(map[uint32]struct{}, len(refs))
	for _, ref := range refs {
		var key uint32
		switch {
		case ref.Key != 0:
			if !s.mapping.ContainsKey(ref.Key) {
				return fmt.Errorf("%w: unknown key %d", ErrArgument, ref.Key)
			}
			key = ref.Key
		case ref.Label != "":
			k, ok := s.mapping.Key(ref.Label)
			if !ok {
				return fmt.Errorf("%w: unknown label %q", ErrArgument, ref.Label)
			}
			key = k
		default:
			return fmt.Errorf("%w: empty delete reference", ErrArgument)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	for _, key := range keys {
		if err := s.index.Tombstone(key); err != nil {
			return fmt.Errorf("store: delete key %d: %w", key, err)
		}
		if err := s.mapping.Remove(key); err != nil {
			return fmt.Errorf("store: delete key %d: %w", key, err)
		}
		s.free = append(s.free, key)
	}
	s.log.Info("deleted", "count", len(keys), "size", s.index.Count())

	if rebuild {
		if err := s.rebuildLocked(0, 0); err != nil {
			return err
		}
	}
	return s.persist(ctx)
}

// Rebuild reinserts all live vectors into a fresh index with dense keys
// starting at 1, discarding tombstones, and persists the result.
// efConstruction and maxConns override the build parameters when positive.
func (s *Store) Rebuild(ctx context.Context, efConstruction, maxConns int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rebuildLocked(efConstruction, maxConns); err != nil {
		return err
	}
	return s.persist(ctx)
}

// rebuildLocked does the rebuild without persisting. Caller must hold s.mu.
func (s *Store) rebuildLocked(efConstruction, maxConns int) error {
	opts := s.opts
	if efConstruction > 0 {
		opts.EfConstruction = efConstruction
	}
	if maxConns > 0 {
		opts.M = maxConns
	}

	fresh := vecstore.NewHNSW(vecstore.Config{
		Dim:            s.index.Dimension(),
		Capacity:       s.index.Capacity(),
		M:              opts.M,
		EfConstruction: opts.EfConstruction,
	})
	mapping := labelmap.New()

	var key uint32
	batch := 0
	for oldKey, vec := range s.index.Live() {
		label, ok := s.mapping.Label(oldKey)
		if !ok {
			continue
		}
		key++
		if err := fresh.Insert(key, vec, false); err != nil {
			return fmt.Errorf("store: rebuild %s: %w", s.name, err)
		}
		if err := mapping.Insert(key, label); err != nil {
			return fmt.Errorf("store: rebuild %s: %w", s.name, err)
		}
		batch++
		if batch == DefaultRebuildBatch {
			s.log.Info("rebuild progress", "reinserted", key)
			batch = 0
		}
	}

	s.index = fresh
	s.mapping = mapping
	s.nextKey = key + 1
	s.free = nil
	s.log.Info("rebuilt", "size", key, "capacity", fresh.Capacity())
	return nil
}

// Clear replaces the store contents with a fresh empty index at the default
// capacity and persists immediately.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = s.newIndex(s.index.Dimension(), s.opts.CapacityStep)
	s.mapping = labelmap.New()
	s.nextKey = 1
	s.free = nil
	s.log.Info("cleared")
	return s.persist(ctx)
}

// Save persists both snapshot files.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx)
}

// persist writes both files through WriteFile, so each replacement is
// atomic. Caller must hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	var buf bytes.Buffer
	if err := s.index.Save(&buf); err != nil {
		return fmt.Errorf("store: persist %s: %w", s.name, err)
	}
	if err := s.fs.WriteFile(ctx, s.path(indexFile), buf.Bytes()); err != nil {
		return fmt.Errorf("store: persist %s: %w", s.name, err)
	}

	data, err := s.mapping.Snapshot()
	if err != nil {
		return fmt.Errorf("store: persist %s: %w", s.name, err)
	}
	if err := s.fs.WriteFile(ctx, s.path(mappingFile), data); err != nil {
		return fmt.Errorf("store: persist %s: %w", s.name, err)
	}
	return nil
}

// List returns the names of all stores under fs: directories that hold
// both snapshot files.
func List(ctx context.Context, fs storage.FileStore) ([]string, error) {
	files, err := fs.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	haveIndex := make(map[string]bool)
	haveMapping := make(map[string]bool)
	for _, f := range files {
		dir, file := path.Split(f)
		dir = path.Clean(dir)
		if dir == "." {
			continue
		}
		switch file {
		case indexFile:
			haveIndex[dir] = true
		case mappingFile:
			haveMapping[dir] = true
		}
	}

	var names []string
	for name := range haveIndex {
		if haveMapping[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Drop removes the named store's files from fs.
func Drop(ctx context.Context, fs storage.FileStore, name string) error {
	for _, f := range []string{indexFile, mappingFile} {
		if err := fs.Delete(ctx, path.Join(name, f)); err != nil {
			return fmt.Errorf("store: drop %s: %w", name, err)
		}
	}
	return nil
}
