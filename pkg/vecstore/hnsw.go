package vecstore

import (
	"container/heap"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config configures a new [HNSW] index.
type Config struct {
	// Dim is the vector dimension. Required; must be positive.
	// All inserted vectors must have exactly this many elements.
	Dim int

	// Capacity is the maximum key the index accepts. Required; must be
	// positive. Grow a full index with [HNSW.Resize].
	Capacity int

	// M is the maximum number of connections per node per layer (except
	// layer 0, which allows 2*M). Higher values improve recall but
	// increase memory usage and insertion time. Default: 32.
	M int

	// EfConstruction is the size of the dynamic candidate list during
	// index building. Higher values produce a higher-quality graph at
	// the cost of slower insertion. Default: 400.
	EfConstruction int
}

func (c *Config) setDefaults() {
	if c.M < 2 {
		c.M = 32
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 400
	}
}

// maxConns returns the maximum number of connections at the given layer.
// Layer 0 allows 2*M; higher layers allow M.
func (c *Config) maxConns(layer int) int {
	if layer == 0 {
		return c.M * 2
	}
	return c.M
}

// ---------------------------------------------------------------------------
// Internal priority-queue types for beam search
// ---------------------------------------------------------------------------

// distItem pairs a node's slot index with its distance to a query vector.
type distItem struct {
	slot uint32
	dist float32
}

// minDistHeap is a min-heap ordered by distance (closest first).
type minDistHeap []distItem

func (h minDistHeap) Len() int           { return len(h) }
func (h minDistHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *minDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxDistHeap is a max-heap ordered by distance (farthest first).
type maxDistHeap []distItem

func (h maxDistHeap) Len() int           { return len(h) }
func (h maxDistHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *maxDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// hnswNode is a single vector in the HNSW graph.
type hnswNode struct {
	vector  []float32  // the vector data (len == Dim)
	level   int        // highest layer this node appears on (0-based)
	friends [][]uint32 // friends[layer] = neighbor slot indices at that layer
	deleted bool       // tombstoned: stays in the graph, never in results
}

// ---------------------------------------------------------------------------
// HNSW
// ---------------------------------------------------------------------------

// HNSW is a Hierarchical Navigable Small World index implementing [Index].
//
// It provides approximate nearest-neighbor search with O(log n) query time
// by organizing vectors into a multi-layer navigable graph. Higher layers
// contain exponentially fewer nodes and act as "express lanes" for fast
// traversal; layer 0 contains all nodes for precise local search.
//
// Key k occupies slot k-1 of a fixed-capacity slot table; tombstoned nodes
// keep their graph links so searches can still route through them.
//
// All methods are safe for concurrent use.
type HNSW struct {
	mu       sync.RWMutex
	cfg      Config
	nodes    []*hnswNode // slot index = key-1; nil = never used
	entry    int32       // entry point slot index; -1 if empty
	maxLevel int         // highest occupied layer in the graph
	live     int         // number of live (non-tombstoned) nodes
	levelMul float64     // 1/ln(M), for random level generation
}

// Compile-time interface check.
var _ Index = (*HNSW)(nil)

// NewHNSW creates an empty HNSW index with the given configuration.
// Panics if cfg.Dim or cfg.Capacity is not positive.
func NewHNSW(cfg Config) *HNSW {
	if cfg.Dim <= 0 {
		panic("vecstore: Config.Dim must be positive")
	}
	if cfg.Capacity <= 0 {
		panic("vecstore: Config.Capacity must be positive")
	}
	cfg.setDefaults()
	return &HNSW{
		cfg:      cfg,
		nodes:    make([]*hnswNode, cfg.Capacity),
		entry:    -1,
		levelMul: 1.0 / math.Log(float64(cfg.M)),
	}
}

// Count returns the number of live vectors.
func (h *HNSW) Count() int {
	h.mu.RLock()
	n := h.live
	h.mu.RUnlock()
	return n
}

// Capacity returns the maximum number of keys the index can hold.
func (h *HNSW) Capacity() int {
	h.mu.RLock()
	n := len(h.nodes)
	h.mu.RUnlock()
	return n
}

// Dimension returns the configured vector dimension.
func (h *HNSW) Dimension() int {
	return h.cfg.Dim
}

// Resize grows the slot table to hold n keys. Growing never touches the
// graph; shrinking is not supported because high slots may be occupied.
func (h *HNSW) Resize(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n < len(h.nodes) {
		return fmt.Errorf("vecstore: cannot shrink capacity %d to %d", len(h.nodes), n)
	}
	if n == len(h.nodes) {
		return nil
	}
	grown := make([]*hnswNode, n)
	copy(grown, h.nodes)
	h.nodes = grown
	return nil
}

// Contains reports whether key holds a live vector.
func (h *HNSW) Contains(key uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nd := h.nodeAt(key)
	return nd != nil && !nd.deleted
}

// Vector returns a copy of the live vector stored under key.
func (h *HNSW) Vector(key uint32) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nd := h.nodeAt(key)
	if nd == nil || nd.deleted {
		return nil, false
	}
	cp := make([]float32, len(nd.vector))
	copy(cp, nd.vector)
	return cp, true
}

// Live iterates over all live key/vector pairs in ascending key order.
// The yielded vectors are copies.
func (h *HNSW) Live() iter.Seq2[uint32, []float32] {
	return func(yield func(uint32, []float32) bool) {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for i, nd := range h.nodes {
			if nd == nil || nd.deleted {
				continue
			}
			cp := make([]float32, len(nd.vector))
			copy(cp, nd.vector)
			if !yield(uint32(i)+1, cp) {
				return
			}
		}
	}
}

// Tombstones returns the keys of all tombstoned slots in ascending order.
// Callers use them as a free list: a tombstoned slot can be reoccupied with
// a replace insert.
func (h *HNSW) Tombstones() []uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var keys []uint32
	for i, nd := range h.nodes {
		if nd != nil && nd.deleted {
			keys = append(keys, uint32(i)+1)
		}
	}
	return keys
}

// MaxKey returns the highest occupied key, live or tombstoned, or 0 when
// the index is empty. Key allocators resume from here after a load.
func (h *HNSW) MaxKey() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.nodes) - 1; i >= 0; i-- {
		if h.nodes[i] != nil {
			return uint32(i) + 1
		}
	}
	return 0
}

// nodeAt returns the node for key, or nil. Caller must hold h.mu.
func (h *HNSW) nodeAt(key uint32) *hnswNode {
	if key == 0 || int(key) > len(h.nodes) {
		return nil
	}
	return h.nodes[key-1]
}

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

// Insert adds a vector under the given key. A live key is an error unless
// replace is true; a tombstoned or replaced key has its old node unlinked
// before the fresh insert, so stale links never leak into the new graph
// position.
func (h *HNSW) Insert(key uint32, vector []float32, replace bool) error {
	if len(vector) != h.cfg.Dim {
		return fmt.Errorf("vecstore: dimension mismatch: got %d, want %d", len(vector), h.cfg.Dim)
	}
	if key == 0 {
		return fmt.Errorf("vecstore: key must be positive")
	}

	// Copy to avoid caller mutation.
	vec := make([]float32, len(vector))
	copy(vec, vector)

	h.mu.Lock()
	defer h.mu.Unlock()

	if int(key) > len(h.nodes) {
		return fmt.Errorf("%w: key %d, capacity %d", ErrCapacityExceeded, key, len(h.nodes))
	}

	slot := key - 1
	if old := h.nodes[slot]; old != nil {
		if !old.deleted && !replace {
			return fmt.Errorf("%w: %d", ErrKeyExists, key)
		}
		h.unlinkLocked(slot)
	}

	level := h.randomLevel()
	nd := &hnswNode{
		vector:  vec,
		level:   level,
		friends: make([][]uint32, level+1),
	}
	h.nodes[slot] = nd
	h.live++

	// First node on the graph: becomes the entry point.
	if h.entry < 0 {
		h.entry = int32(slot)
		h.maxLevel = level
		return nil
	}

	// Phase 1: Greedy descent from the top layer down to level+1.
	// At each layer above the new node's level we only track the single
	// closest node (ef=1 greedy walk). Tombstoned nodes still route.
	cur := uint32(h.entry)
	curDist := CosineDistance(vec, h.nodes[cur].vector)

	for lev := h.maxLevel; lev > level; lev-- {
		changed := true
		for changed {
			changed = false
			curNode := h.nodes[cur]
			if curNode == nil || lev >= len(curNode.friends) {
				break
			}
			for _, fSlot := range curNode.friends[lev] {
				if h.nodes[fSlot] == nil {
					continue
				}
				d := CosineDistance(vec, h.nodes[fSlot].vector)
				if d < curDist {
					cur = fSlot
					curDist = d
					changed = true
				}
			}
		}
	}

	// Phase 2: At each layer from min(level, maxLevel) down to 0,
	// do a beam search, select neighbors, and connect bidirectionally.
	topInsert := min(level, h.maxLevel)

	ep := []uint32{cur}
	for lev := topInsert; lev >= 0; lev-- {
		candidates := h.searchLayer(vec, ep, h.cfg.EfConstruction, lev, false)

		maxC := h.cfg.maxConns(lev)
		neighbors := h.selectClosest(vec, candidates, maxC)
		nd.friends[lev] = neighbors

		// Add bidirectional connections and prune if necessary.
		for _, nSlot := range neighbors {
			nn := h.nodes[nSlot]
			if nn == nil || lev >= len(nn.friends) {
				continue
			}
			nn.friends[lev] = append(nn.friends[lev], slot)
			if len(nn.friends[lev]) > maxC {
				nn.friends[lev] = h.selectClosest(nn.vector, nn.friends[lev], maxC)
			}
		}

		// Use candidates as entry points for the next (lower) layer.
		ep = candidates
	}

	// Update the global entry point if the new node is higher.
	if level > h.maxLevel {
		h.entry = int32(slot)
		h.maxLevel = level
	}

	return nil
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

// Query returns up to k live vectors nearest to the query, ordered by
// ascending distance. ef bounds the beam width at layer 0 and is raised to
// k when smaller. Tombstoned nodes are traversed but never returned.
func (h *HNSW) Query(query []float32, k, ef int) ([]Match, error) {
	if len(query) != h.cfg.Dim {
		return nil, fmt.Errorf("vecstore: dimension mismatch: got %d, want %d", len(query), h.cfg.Dim)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.live == 0 || k <= 0 {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	// Phase 1: Greedy descent from top layer to layer 1.
	cur := uint32(h.entry)
	entry := h.nodes[cur]
	if entry == nil {
		return nil, nil
	}
	curDist := CosineDistance(query, entry.vector)

	for lev := h.maxLevel; lev > 0; lev-- {
		changed := true
		for changed {
			changed = false
			nd := h.nodes[cur]
			if nd == nil || lev >= len(nd.friends) {
				break
			}
			for _, fSlot := range nd.friends[lev] {
				fn := h.nodes[fSlot]
				if fn == nil {
					continue
				}
				d := CosineDistance(query, fn.vector)
				if d < curDist {
					cur = fSlot
					curDist = d
					changed = true
				}
			}
		}
	}

	// Phase 2: Beam search at layer 0, collecting live nodes only.
	candidates := h.searchLayer(query, []uint32{cur}, ef, 0, true)

	results := make([]Match, 0, len(candidates))
	for _, cSlot := range candidates {
		nd := h.nodes[cSlot]
		if nd == nil || nd.deleted {
			continue
		}
		results = append(results, Match{
			Key:      cSlot + 1,
			Distance: CosineDistance(query, nd.vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Tombstone
// ---------------------------------------------------------------------------

// Tombstone marks key deleted. The node stays in the graph: unlinking on
// every delete would fragment neighborhoods, while a dead node that still
// routes costs only the memory of its vector until the next rebuild.
func (h *HNSW) Tombstone(key uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	nd := h.nodeAt(key)
	if nd == nil || nd.deleted {
		return fmt.Errorf("%w: %d", ErrNotFound, key)
	}
	nd.deleted = true
	h.live--
	return nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// randomLevel generates a random layer for a new node using an exponential
// distribution: P(level >= l) = exp(-l * ln(M)). Most nodes end up at
// layer 0; higher layers are exponentially rarer.
func (h *HNSW) randomLevel() int {
	// Use max with the smallest float to get (0,1] and avoid log(0).
	r := max(rand.Float64(), math.SmallestNonzeroFloat64)
	level := int(-math.Log(r) * h.levelMul)
	if level > 31 {
		level = 31 // cap to prevent pathological cases
	}
	return level
}

// searchLayer performs a beam search on a single layer, starting from the
// given entry points. It returns up to ef slot indices closest to the query
// vector. With liveOnly set, tombstoned nodes are expanded for routing but
// excluded from the result set.
func (h *HNSW) searchLayer(query []float32, entryPoints []uint32, ef int, layer int, liveOnly bool) []uint32 {
	visited := make(map[uint32]struct{}, ef*2)

	var candidates minDistHeap
	var results maxDistHeap

	admit := func(nd *hnswNode) bool {
		return !liveOnly || !nd.deleted
	}

	for _, ep := range entryPoints {
		nd := h.nodes[ep]
		if nd == nil {
			continue
		}
		visited[ep] = struct{}{}
		d := CosineDistance(query, nd.vector)
		heap.Push(&candidates, distItem{slot: ep, dist: d})
		if admit(nd) {
			heap.Push(&results, distItem{slot: ep, dist: d})
		}
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)

		// If the closest unvisited candidate is farther than the farthest
		// result and we already have ef results, stop expanding.
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}

		nd := h.nodes[closest.slot]
		if nd == nil || layer >= len(nd.friends) {
			continue
		}

		for _, fSlot := range nd.friends[layer] {
			if _, seen := visited[fSlot]; seen {
				continue
			}
			visited[fSlot] = struct{}{}

			fn := h.nodes[fSlot]
			if fn == nil {
				continue
			}

			d := CosineDistance(query, fn.vector)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, distItem{slot: fSlot, dist: d})
				if admit(fn) {
					heap.Push(&results, distItem{slot: fSlot, dist: d})
					if results.Len() > ef {
						heap.Pop(&results)
					}
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].slot
	}
	return out
}

// selectClosest returns up to maxN slot indices from candidates that are
// closest to the query vector.
func (h *HNSW) selectClosest(query []float32, candidates []uint32, maxN int) []uint32 {
	if len(candidates) <= maxN {
		out := make([]uint32, len(candidates))
		copy(out, candidates)
		return out
	}

	items := make([]distItem, 0, len(candidates))
	for _, cSlot := range candidates {
		if h.nodes[cSlot] == nil {
			continue
		}
		items = append(items, distItem{slot: cSlot, dist: CosineDistance(query, h.nodes[cSlot].vector)})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].dist < items[j].dist
	})
	if len(items) > maxN {
		items = items[:maxN]
	}

	out := make([]uint32, len(items))
	for i := range items {
		out[i] = items[i].slot
	}
	return out
}

// unlinkLocked removes the node at slot from the graph entirely, clearing
// the slot for a fresh insert. Caller must hold h.mu for writing.
func (h *HNSW) unlinkLocked(slot uint32) {
	nd := h.nodes[slot]
	if nd == nil {
		return
	}

	// Disconnect from all neighbors at every layer.
	for lev := 0; lev <= nd.level && lev < len(nd.friends); lev++ {
		for _, fSlot := range nd.friends[lev] {
			fn := h.nodes[fSlot]
			if fn == nil || lev >= len(fn.friends) {
				continue
			}
			fn.friends[lev] = removeFrom(fn.friends[lev], slot)
		}
	}

	if !nd.deleted {
		h.live--
	}
	h.nodes[slot] = nil

	// If we just removed the entry point, find a replacement.
	if h.entry == int32(slot) {
		h.findNewEntry()
	}
}

// findNewEntry scans all nodes to elect a new entry point (the node with
// the highest level). Called after the current entry point is unlinked.
// Tombstoned nodes qualify; they still route searches.
func (h *HNSW) findNewEntry() {
	best := int32(-1)
	bestLevel := -1
	for i, nd := range h.nodes {
		if nd != nil && nd.level > bestLevel {
			best = int32(i)
			bestLevel = nd.level
		}
	}
	h.entry = best
	if best < 0 {
		h.maxLevel = 0
		return
	}
	h.maxLevel = bestLevel
}

// removeFrom removes the first occurrence of val from s.
func removeFrom(s []uint32, val uint32) []uint32 {
	for i, v := range s {
		if v == val {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
