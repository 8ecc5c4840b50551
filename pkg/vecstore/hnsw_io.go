package vecstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Binary format version and magic bytes for index serialization.
var snapshotMagic = [4]byte{'I', 'S', 'V', 'X'}

const snapshotVersion uint32 = 1

// Save serializes the entire HNSW index to w in a compact binary format.
//
// The format preserves slot indices so that neighbor references remain
// valid after deserialization. Empty slots are written as inactive markers
// to maintain table alignment; tombstoned nodes keep their flag.
//
// Format overview:
//
//	[4B magic "ISVX"] [4B version]
//	[4B dim] [4B M] [4B efConstruction]
//	[4B capacity] [4B liveCount] [4B maxLevel] [4B entry]
//	For each slot:
//	  [1B state: 0 empty, 1 live, 2 tombstoned]
//	  If occupied:
//	    [4B level]
//	    [dim × 4B float32 vector]
//	    For each layer 0..level:
//	      [4B numFriends] [numFriends × 4B friend slots]
func (h *HNSW) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bw := bufio.NewWriter(w)

	le := binary.LittleEndian
	write := func(v any) error { return binary.Write(bw, le, v) }

	// Header.
	if _, err := bw.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("vecstore: save magic: %w", err)
	}
	if err := write(snapshotVersion); err != nil {
		return fmt.Errorf("vecstore: save version: %w", err)
	}

	// Config.
	for _, v := range []uint32{
		uint32(h.cfg.Dim),
		uint32(h.cfg.M),
		uint32(h.cfg.EfConstruction),
	} {
		if err := write(v); err != nil {
			return fmt.Errorf("vecstore: save config: %w", err)
		}
	}

	// Index metadata.
	if err := write(uint32(len(h.nodes))); err != nil {
		return err
	}
	if err := write(uint32(h.live)); err != nil {
		return err
	}
	if err := write(uint32(h.maxLevel)); err != nil {
		return err
	}
	if err := write(h.entry); err != nil {
		return err
	}

	// Slot table.
	for _, nd := range h.nodes {
		if nd == nil {
			if err := write(uint8(0)); err != nil {
				return err
			}
			continue
		}

		state := uint8(1)
		if nd.deleted {
			state = 2
		}
		if err := write(state); err != nil {
			return err
		}

		if err := write(uint32(nd.level)); err != nil {
			return err
		}

		for _, v := range nd.vector {
			if err := write(v); err != nil {
				return err
			}
		}

		for lev := 0; lev <= nd.level; lev++ {
			var friends []uint32
			if lev < len(nd.friends) {
				friends = nd.friends[lev]
			}
			if err := write(uint32(len(friends))); err != nil {
				return err
			}
			for _, f := range friends {
				if err := write(f); err != nil {
					return err
				}
			}
		}
	}

	return bw.Flush()
}

// Load deserializes an HNSW index from r. The returned index is ready for
// immediate use.
func Load(r io.Reader) (*HNSW, error) {
	br := bufio.NewReader(r)

	le := binary.LittleEndian
	read := func(v any) error { return binary.Read(br, le, v) }

	// Magic.
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrCorrupted, err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("%w: invalid magic %q", ErrCorrupted, magic[:])
	}

	// Version.
	var version uint32
	if err := read(&version); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrCorrupted, err)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (want %d)", ErrCorrupted, version, snapshotVersion)
	}

	// Config.
	var dim, m, efC uint32
	if err := read(&dim); err != nil {
		return nil, fmt.Errorf("%w: read config: %v", ErrCorrupted, err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorrupted)
	}
	if err := read(&m); err != nil {
		return nil, fmt.Errorf("%w: read config: %v", ErrCorrupted, err)
	}
	if err := read(&efC); err != nil {
		return nil, fmt.Errorf("%w: read config: %v", ErrCorrupted, err)
	}

	// Metadata.
	var capacity, liveCount, maxLev uint32
	var entry int32
	if err := read(&capacity); err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrCorrupted, err)
	}
	if capacity == 0 {
		return nil, fmt.Errorf("%w: zero capacity", ErrCorrupted)
	}
	if err := read(&liveCount); err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrCorrupted, err)
	}
	if err := read(&maxLev); err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrCorrupted, err)
	}
	if err := read(&entry); err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrCorrupted, err)
	}

	// Slot table.
	nodes := make([]*hnswNode, capacity)
	var live uint32

	for i := uint32(0); i < capacity; i++ {
		var state uint8
		if err := read(&state); err != nil {
			return nil, fmt.Errorf("%w: read slot %d: %v", ErrCorrupted, i, err)
		}
		switch state {
		case 0:
			continue
		case 1, 2:
		default:
			return nil, fmt.Errorf("%w: slot %d has state %d", ErrCorrupted, i, state)
		}

		var level uint32
		if err := read(&level); err != nil {
			return nil, fmt.Errorf("%w: read slot %d: %v", ErrCorrupted, i, err)
		}
		if level > 31 {
			return nil, fmt.Errorf("%w: slot %d has level %d", ErrCorrupted, i, level)
		}

		vec := make([]float32, dim)
		for j := range vec {
			if err := read(&vec[j]); err != nil {
				return nil, fmt.Errorf("%w: read slot %d: %v", ErrCorrupted, i, err)
			}
		}

		friends := make([][]uint32, level+1)
		for lev := uint32(0); lev <= level; lev++ {
			var nf uint32
			if err := read(&nf); err != nil {
				return nil, fmt.Errorf("%w: read slot %d: %v", ErrCorrupted, i, err)
			}
			if nf > 0 {
				friends[lev] = make([]uint32, nf)
				for k := range friends[lev] {
					if err := read(&friends[lev][k]); err != nil {
						return nil, fmt.Errorf("%w: read slot %d: %v", ErrCorrupted, i, err)
					}
					if friends[lev][k] >= capacity {
						return nil, fmt.Errorf("%w: slot %d links past capacity", ErrCorrupted, i)
					}
				}
			}
		}

		nd := &hnswNode{
			vector:  vec,
			level:   int(level),
			friends: friends,
			deleted: state == 2,
		}
		nodes[i] = nd
		if state == 1 {
			live++
		}
	}

	if live != liveCount {
		return nil, fmt.Errorf("%w: header says %d live, table has %d", ErrCorrupted, liveCount, live)
	}
	if entry >= int32(capacity) || (entry >= 0 && nodes[entry] == nil) {
		return nil, fmt.Errorf("%w: entry point %d is invalid", ErrCorrupted, entry)
	}

	cfg := Config{
		Dim:            int(dim),
		Capacity:       int(capacity),
		M:              int(m),
		EfConstruction: int(efC),
	}
	cfg.setDefaults() // clamp M < 2 to avoid log(1)=0 in level generation

	return &HNSW{
		cfg:      cfg,
		nodes:    nodes,
		entry:    entry,
		maxLevel: int(maxLev),
		live:     int(live),
		levelMul: 1.0 / math.Log(float64(cfg.M)),
	}, nil
}
