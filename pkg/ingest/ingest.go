// Package ingest implements the background ingestion pipeline. Items are
// accepted through a bounded queue and processed by a single worker that
// batch-embeds payloads and commits the vectors to their destination store.
//
// Enqueue never blocks the caller: when the queue fills up, the remaining
// items are refused and the caller learns how many made it in. Batches are
// flushed when they reach the configured size, when no new item arrives for
// a flush interval, and unconditionally on Close.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/isearch/isearch/pkg/embed"
)

const (
	// DefaultBatchSize is the number of items embedded and committed at once.
	DefaultBatchSize = 32

	// DefaultFlushInterval bounds how long a partial batch may sit in the
	// worker before being committed.
	DefaultFlushInterval = time.Second
)

// Item is a single unit of ingestion: a label, its payload, and the name of
// the store the resulting vector belongs to.
type Item struct {
	Label   string
	Payload embed.Payload
	DB      string
}

// Committer persists embedded vectors into a destination store. labels and
// vectors have equal length; nil vectors mark items the embedder could not
// process and are skipped by the store.
type Committer func(ctx context.Context, db string, labels []string, vectors [][]float32) error

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets how many items are embedded and committed per batch.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithQueueSize sets the capacity of the ingestion queue. The default is
// three batches.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithFlushInterval sets how long a partial batch may wait before flushing.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.flushEvery = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.log = logger
		}
	}
}

// Pipeline owns the ingestion queue and its worker goroutine.
type Pipeline struct {
	embedder embed.Embedder
	commit   Committer

	batchSize  int
	queueSize  int
	flushEvery time.Duration
	log        *slog.Logger

	queue chan Item
	done  chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// New creates a Pipeline and starts its worker.
func New(embedder embed.Embedder, commit Committer, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder:   embedder,
		commit:     commit,
		batchSize:  DefaultBatchSize,
		flushEvery: DefaultFlushInterval,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queueSize == 0 {
		p.queueSize = 3 * p.batchSize
	}
	p.queue = make(chan Item, p.queueSize)
	p.done = make(chan struct{})
	go p.run()
	return p
}

// BatchSize returns the configured batch size.
func (p *Pipeline) BatchSize() int {
	return p.batchSize
}

// Enqueue offers items to the pipeline without blocking. It returns how many
// items were accepted; items beyond the first full slot are refused in order.
// After Close it accepts nothing.
func (p *Pipeline) Enqueue(items []Item) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	for i, item := range items {
		select {
		case p.queue <- item:
		default:
			p.log.Warn("ingest queue full", "accepted", i, "refused", len(items)-i)
			return i
		}
	}
	return len(items)
}

// Pending reports how many items are waiting in the queue. Pending items may
// already be inside the worker's current batch and so no longer counted.
func (p *Pipeline) Pending() int {
	return len(p.queue)
}

// Close stops intake, drains the queue, flushes every partial batch, and
// waits for the worker to exit. The context bounds the wait.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.queue)
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the worker loop. Items are grouped per destination store; a group
// is flushed when it reaches batchSize, and every group is flushed when the
// queue stays quiet for flushEvery or when intake closes.
func (p *Pipeline) run() {
	defer close(p.done)

	pending := make(map[string][]Item)
	timer := time.NewTimer(p.flushEvery)
	defer timer.Stop()

	flushAll := func() {
		for db, items := range pending {
			p.flush(db, items)
			delete(pending, db)
		}
	}

	for {
		select {
		case item, ok := <-p.queue:
			if !ok {
				flushAll()
				return
			}
			pending[item.DB] = append(pending[item.DB], item)
			if len(pending[item.DB]) >= p.batchSize {
				p.flush(item.DB, pending[item.DB])
				delete(pending, item.DB)
			}
		case <-timer.C:
			flushAll()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.flushEvery)
	}
}

// flush embeds one store's batch and commits it. Embed and commit failures
// are logged; the worker keeps running either way.
func (p *Pipeline) flush(db string, items []Item) {
	ctx := context.Background()

	payloads := make([]embed.Payload, len(items))
	labels := make([]string, len(items))
	for i, item := range items {
		payloads[i] = item.Payload
		labels[i] = item.Label
	}

	vectors, err := p.embedder.EmbedBatch(ctx, payloads)
	if err != nil {
		p.log.Error("embedding batch failed", "db", db, "items", len(items), "error", err)
		return
	}
	failed := 0
	for i, vec := range vectors {
		if vec == nil {
			failed++
			p.log.Warn("skipping item that could not be embedded", "db", db, "label", labels[i])
		}
	}

	if err := p.commit(ctx, db, labels, vectors); err != nil {
		p.log.Error("commit failed", "db", db, "items", len(items), "error", err)
		return
	}
	p.log.Debug("batch committed", "db", db, "items", len(items), "failed", failed)
}
