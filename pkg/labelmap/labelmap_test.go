package labelmap

import (
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestInsertLookup(t *testing.T) {
	m := New()
	if err := m.Insert(1, "a.jpg"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := m.Insert(2, "b.jpg"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if got := m.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if label, ok := m.Label(1); !ok || label != "a.jpg" {
		t.Errorf("Label(1) = %q, %v", label, ok)
	}
	if key, ok := m.Key("b.jpg"); !ok || key != 2 {
		t.Errorf("Key(b.jpg) = %d, %v", key, ok)
	}
	if !m.ContainsKey(2) || !m.ContainsLabel("a.jpg") {
		t.Error("Contains* should report inserted entries")
	}
	if m.ContainsKey(3) || m.ContainsLabel("c.jpg") {
		t.Error("Contains* should not report missing entries")
	}
}

func TestInsertDuplicates(t *testing.T) {
	m := New()
	if err := m.Insert(1, "a.jpg"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := m.Insert(1, "other.jpg"); !errors.Is(err, ErrKeyExists) {
		t.Errorf("duplicate key: got %v, want ErrKeyExists", err)
	}
	if err := m.Insert(2, "a.jpg"); !errors.Is(err, ErrLabelExists) {
		t.Errorf("duplicate label: got %v, want ErrLabelExists", err)
	}

	// A failed insert must leave both directions untouched.
	if got := m.Len(); got != 1 {
		t.Errorf("Len() = %d after failed inserts, want 1", got)
	}
	if m.ContainsLabel("other.jpg") || m.ContainsKey(2) {
		t.Error("failed insert leaked an entry")
	}
}

func TestRemove(t *testing.T) {
	m := New()
	if err := m.Insert(1, "a.jpg"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := m.Remove(1); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if m.ContainsKey(1) || m.ContainsLabel("a.jpg") {
		t.Error("Remove left a stale entry")
	}

	if err := m.Remove(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(missing) = %v, want ErrNotFound", err)
	}

	// Both sides are free again after removal.
	if err := m.Insert(1, "a.jpg"); err != nil {
		t.Errorf("re-insert after remove failed: %v", err)
	}
}

func TestKeysIteration(t *testing.T) {
	m := New()
	want := map[uint32]string{1: "a", 2: "b", 3: "c"}
	for k, l := range want {
		if err := m.Insert(k, l); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	seen := make(map[uint32]bool)
	for k := range m.Keys() {
		seen[k] = true
	}
	if len(seen) != len(want) {
		t.Errorf("Keys yielded %d keys, want %d", len(seen), len(want))
	}

	got := make(map[uint32]string)
	for k, l := range m.All() {
		got[k] = l
	}
	for k, l := range want {
		if got[k] != l {
			t.Errorf("All: key %d = %q, want %q", k, got[k], l)
		}
	}
}

func TestClone(t *testing.T) {
	m := New()
	if err := m.Insert(1, "a.jpg"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	c := m.Clone()
	if err := c.Insert(2, "b.jpg"); err != nil {
		t.Fatalf("Insert into clone failed: %v", err)
	}

	if m.ContainsKey(2) {
		t.Error("mutating the clone changed the original")
	}
	if !c.ContainsKey(1) {
		t.Error("clone is missing the original entry")
	}
}

func TestSnapshotRestore(t *testing.T) {
	m := New()
	for k, l := range map[uint32]string{7: "x.png", 42: "y.png", 9001: "z.png"} {
		if err := m.Insert(k, l); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	data, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	r := New()
	if err := r.Restore(data); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if r.Len() != m.Len() {
		t.Fatalf("restored Len() = %d, want %d", r.Len(), m.Len())
	}
	for k, l := range m.All() {
		if got, ok := r.Label(k); !ok || got != l {
			t.Errorf("restored Label(%d) = %q, %v, want %q", k, got, ok, l)
		}
		if got, ok := r.Key(l); !ok || got != k {
			t.Errorf("restored Key(%q) = %d, %v, want %d", l, got, ok, k)
		}
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	m := New()
	if err := m.Restore([]byte("not msgpack at all")); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Restore(garbage) = %v, want ErrCorrupted", err)
	}
}

func TestRestoreRejectsDuplicateLabels(t *testing.T) {
	// Hand-build a forward map that is not injective.
	bad := map[uint32]string{1: "same", 2: "same"}
	raw, err := msgpack.Marshal(bad)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	m := New()
	if err := m.Restore(raw); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Restore(duplicate labels) = %v, want ErrCorrupted", err)
	}
	if m.Len() != 0 {
		t.Error("failed Restore modified the map")
	}
}
