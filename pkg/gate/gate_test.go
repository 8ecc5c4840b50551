package gate_test

import (
	"testing"

	"github.com/isearch/isearch/pkg/gate"
)

func TestPermitsFromBatchSize(t *testing.T) {
	tests := []struct {
		batchSize int
		want      int
	}{
		{1, 2},
		{2, 2},
		{4, 2},
		{5, 2},
		{6, 3},
		{32, 16},
		{100, 50},
	}
	for _, tt := range tests {
		if got := gate.New(tt.batchSize).Permits(); got != tt.want {
			t.Errorf("New(%d).Permits() = %d, want %d", tt.batchSize, got, tt.want)
		}
	}
}

func TestSaturationRejects(t *testing.T) {
	g := gate.New(8) // 4 permits
	for i := 0; i < 4; i++ {
		if !g.TryAcquire() {
			t.Fatalf("acquire %d refused below capacity", i)
		}
	}
	if g.TryAcquire() {
		t.Fatal("acquire succeeded past capacity")
	}

	g.Release()
	if !g.TryAcquire() {
		t.Fatal("acquire refused after a release")
	}
}
