package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/isearch/isearch/pkg/embed"
	"github.com/isearch/isearch/pkg/ingest"
)

// recorder collects committed batches for inspection.
type recorder struct {
	mu      sync.Mutex
	batches []committedBatch
	fail     bool
	attempts int
	block    chan struct{} // commit waits for this to close when set
}

type committedBatch struct {
	db      string
	labels  []string
	vectors [][]float32
}

func (r *recorder) commit(_ context.Context, db string, labels []string, vectors [][]float32) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.fail {
		return errors.New("commit refused")
	}
	r.batches = append(r.batches, committedBatch{db: db, labels: labels, vectors: vectors})
	return nil
}

func (r *recorder) snapshot() []committedBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]committedBatch(nil), r.batches...)
}

func (r *recorder) totalLabels() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for _, b := range r.batches {
		out[b.db] = append(out[b.db], b.labels...)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func items(db string, labels ...string) []ingest.Item {
	out := make([]ingest.Item, len(labels))
	for i, label := range labels {
		out[i] = ingest.Item{Label: label, Payload: embed.Text(label), DB: db}
	}
	return out
}

func closePipeline(t *testing.T, p *ingest.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFlushOnClose(t *testing.T) {
	rec := &recorder{}
	p := ingest.New(embed.NewStatic(8), rec.commit,
		ingest.WithBatchSize(32),
		ingest.WithLogger(quietLogger()),
	)

	if got := p.Enqueue(items("photos", "a", "b", "c")); got != 3 {
		t.Fatalf("Enqueue = %d, want 3", got)
	}
	closePipeline(t, p)

	labels := rec.totalLabels()
	if len(labels["photos"]) != 3 {
		t.Fatalf("committed %v, want 3 labels in photos", labels)
	}
	for _, b := range rec.snapshot() {
		for i, vec := range b.vectors {
			if vec == nil {
				t.Errorf("vector for %q is nil", b.labels[i])
			}
		}
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	rec := &recorder{}
	p := ingest.New(embed.NewStatic(4), rec.commit,
		ingest.WithBatchSize(2),
		ingest.WithFlushInterval(time.Hour), // no timer flush
		ingest.WithLogger(quietLogger()),
	)
	defer closePipeline(t, p)

	p.Enqueue(items("docs", "a", "b"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	batches := rec.snapshot()
	if len(batches) != 1 || len(batches[0].labels) != 2 {
		t.Fatalf("batches = %+v, want one batch of 2", batches)
	}
}

func TestFlushOnTimeout(t *testing.T) {
	rec := &recorder{}
	p := ingest.New(embed.NewStatic(4), rec.commit,
		ingest.WithBatchSize(100),
		ingest.WithFlushInterval(20*time.Millisecond),
		ingest.WithLogger(quietLogger()),
	)
	defer closePipeline(t, p)

	p.Enqueue(items("docs", "only"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	labels := rec.totalLabels()
	if len(labels["docs"]) != 1 {
		t.Fatalf("partial batch not flushed on timeout: %v", labels)
	}
}

func TestEnqueueStopsAtFullQueue(t *testing.T) {
	// A stalled committer stops the worker from draining, so the queue
	// fills and Enqueue refuses the overflow.
	rec := &recorder{block: make(chan struct{})}
	p := ingest.New(embed.NewStatic(4), rec.commit,
		ingest.WithBatchSize(2),
		ingest.WithQueueSize(4),
		ingest.WithFlushInterval(time.Hour),
		ingest.WithLogger(quietLogger()),
	)
	defer closePipeline(t, p)

	batch := make([]ingest.Item, 20)
	for i := range batch {
		label := fmt.Sprintf("item-%d", i)
		batch[i] = ingest.Item{Label: label, Payload: embed.Text(label), DB: "docs"}
	}

	// The worker can hold at most one batch while the commit is stalled, so
	// it can never make room for all 20 items.
	accepted := p.Enqueue(batch)
	if accepted < 4 || accepted > 4+p.BatchSize() {
		t.Fatalf("accepted = %d, want between 4 and %d", accepted, 4+p.BatchSize())
	}

	close(rec.block)
}

func TestEnqueueAfterClose(t *testing.T) {
	rec := &recorder{}
	p := ingest.New(embed.NewStatic(4), rec.commit, ingest.WithLogger(quietLogger()))
	closePipeline(t, p)

	if got := p.Enqueue(items("docs", "late")); got != 0 {
		t.Fatalf("Enqueue after close = %d, want 0", got)
	}
}

func TestGroupsByStore(t *testing.T) {
	rec := &recorder{}
	p := ingest.New(embed.NewStatic(4), rec.commit,
		ingest.WithBatchSize(32),
		ingest.WithLogger(quietLogger()),
	)

	mixed := append(items("photos", "p1", "p2"), items("docs", "d1")...)
	p.Enqueue(mixed)
	closePipeline(t, p)

	labels := rec.totalLabels()
	if len(labels["photos"]) != 2 || len(labels["docs"]) != 1 {
		t.Fatalf("labels = %v, want photos:2 docs:1", labels)
	}
	for _, b := range rec.snapshot() {
		for _, label := range b.labels {
			if (b.db == "photos") != (label[0] == 'p') {
				t.Errorf("label %q committed to %q", label, b.db)
			}
		}
	}
}

func TestCommitFailureKeepsWorkerAlive(t *testing.T) {
	rec := &recorder{fail: true}
	p := ingest.New(embed.NewStatic(4), rec.commit,
		ingest.WithBatchSize(1),
		ingest.WithLogger(quietLogger()),
	)

	p.Enqueue(items("docs", "doomed"))

	// Wait for the failed commit, then let the next one through.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		tried := rec.attempts > 0
		if tried {
			rec.fail = false
		}
		rec.mu.Unlock()
		if tried {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Enqueue(items("docs", "fine"))
	closePipeline(t, p)

	labels := rec.totalLabels()
	if len(labels["docs"]) != 1 || labels["docs"][0] != "fine" {
		t.Fatalf("labels = %v, want only the post-failure item", labels)
	}
}

func TestInvalidPayloadCommittedAsNilRow(t *testing.T) {
	rec := &recorder{}
	p := ingest.New(embed.NewStatic(4), rec.commit,
		ingest.WithBatchSize(32),
		ingest.WithLogger(quietLogger()),
	)

	p.Enqueue([]ingest.Item{
		{Label: "good", Payload: embed.Text("good"), DB: "docs"},
		{Label: "bad", Payload: embed.Payload{}, DB: "docs"},
	})
	closePipeline(t, p)

	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	b := batches[0]
	if len(b.labels) != 2 {
		t.Fatalf("labels = %v, want both rows committed", b.labels)
	}
	for i, label := range b.labels {
		wantNil := label == "bad"
		if (b.vectors[i] == nil) != wantNil {
			t.Errorf("vector for %q nil=%v, want %v", label, b.vectors[i] == nil, wantNil)
		}
	}
}
