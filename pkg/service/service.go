// Package service ties the pieces of the search daemon together: the store
// registry, the ingestion pipeline, the query admission gate, and the
// embedder. It is the single entry point used by the RPC layer and by tests
// that want the whole system without a socket.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/isearch/isearch/pkg/embed"
	"github.com/isearch/isearch/pkg/gate"
	"github.com/isearch/isearch/pkg/ingest"
	"github.com/isearch/isearch/pkg/storage"
	"github.com/isearch/isearch/pkg/store"
)

// Status classifies a search outcome. Argument and store errors are returned
// separately; a Status only describes what happened to a well-formed query.
type Status int

const (
	// StatusOK means the query ran and produced at least one match.
	StatusOK Status = iota

	// StatusEmpty means the query ran but nothing cleared the similarity
	// threshold (or the store is empty).
	StatusEmpty

	// StatusRejected means the admission gate was saturated and the query
	// was refused without touching the index. Callers may retry.
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// SearchReply is the result of a Search call.
type SearchReply struct {
	Status  Status
	Matches []store.Match
}

// Option configures a Service.
type Option func(*config)

type config struct {
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	storeOpts     store.Options
}

// WithBatchSize sets the ingestion batch size, which also sizes the
// ingestion queue and the admission gate.
func WithBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFlushInterval sets the ingestion flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStoreOptions sets the options used when opening stores.
func WithStoreOptions(opts store.Options) Option {
	return func(c *config) {
		c.storeOpts = opts
	}
}

// Service is the daemon facade.
type Service struct {
	registry *store.Registry
	pipeline *ingest.Pipeline
	gate     *gate.Gate
	embedder embed.Embedder
	log      *slog.Logger
}

// New assembles a Service on top of the given file store and embedder. The
// store dimensionality follows the embedder unless overridden through
// WithStoreOptions.
func New(fs storage.FileStore, embedder embed.Embedder, opts ...Option) *Service {
	cfg := config{
		batchSize: ingest.DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.storeOpts.Dim == 0 {
		cfg.storeOpts.Dim = embedder.Dimension()
	}
	if cfg.storeOpts.Logger == nil {
		cfg.storeOpts.Logger = cfg.logger
	}

	s := &Service{
		registry: store.NewRegistry(fs, cfg.storeOpts),
		gate:     gate.New(cfg.batchSize),
		embedder: embedder,
		log:      cfg.logger,
	}

	pipeOpts := []ingest.Option{
		ingest.WithBatchSize(cfg.batchSize),
		ingest.WithLogger(cfg.logger),
	}
	if cfg.flushInterval > 0 {
		pipeOpts = append(pipeOpts, ingest.WithFlushInterval(cfg.flushInterval))
	}
	s.pipeline = ingest.New(embedder, s.commitBatch, pipeOpts...)
	return s
}

// commitBatch lands one embedded batch in its destination store.
func (s *Service) commitBatch(ctx context.Context, db string, labels []string, vectors [][]float32) error {
	st, err := s.registry.Get(ctx, db)
	if err != nil {
		return err
	}
	_, err = st.Add(ctx, labels, vectors, true)
	return err
}

// AddItems queues payloads for ingestion into the named store and returns
// how many were accepted. Labels are enqueued in sorted order so rejection
// under a full queue is deterministic.
func (s *Service) AddItems(db string, payloads map[string]embed.Payload) int {
	labels := make([]string, 0, len(payloads))
	for label := range payloads {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	items := make([]ingest.Item, len(labels))
	for i, label := range labels {
		items[i] = ingest.Item{Label: label, Payload: payloads[label], DB: db}
	}
	return s.pipeline.Enqueue(items)
}

// Search embeds the payload and runs a k-NN query against the named store.
// When the admission gate is saturated the reply is StatusRejected and the
// index is never touched.
func (s *Service) Search(ctx context.Context, db string, payload embed.Payload, k int, minSim float64) (SearchReply, error) {
	if err := payload.Validate(); err != nil {
		return SearchReply{}, err
	}

	if !s.gate.TryAcquire() {
		s.log.Debug("query rejected, gate saturated", "db", db)
		return SearchReply{Status: StatusRejected}, nil
	}
	defer s.gate.Release()

	vecs, err := s.embedder.EmbedBatch(ctx, []embed.Payload{payload})
	if err != nil {
		return SearchReply{}, fmt.Errorf("service: embed query: %w", err)
	}
	if vecs[0] == nil {
		return SearchReply{}, fmt.Errorf("service: query payload could not be embedded")
	}

	st, err := s.registry.Get(ctx, db)
	if err != nil {
		return SearchReply{}, err
	}
	matches, err := st.Search(vecs[0], k, minSim)
	if err != nil {
		return SearchReply{}, err
	}
	if len(matches) == 0 {
		return SearchReply{Status: StatusEmpty}, nil
	}
	return SearchReply{Status: StatusOK, Matches: matches}, nil
}

// Compare embeds two payloads and returns their similarity percentage.
func (s *Service) Compare(ctx context.Context, a, b embed.Payload) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	vecs, err := s.embedder.EmbedBatch(ctx, []embed.Payload{a, b})
	if err != nil {
		return 0, fmt.Errorf("service: embed payloads: %w", err)
	}
	if vecs[0] == nil || vecs[1] == nil {
		return 0, fmt.Errorf("service: payload could not be embedded")
	}
	return embed.Similarity(vecs[0], vecs[1]), nil
}

// HasLabels reports, per label, whether the named store holds it.
func (s *Service) HasLabels(ctx context.Context, db string, labels []string) ([]bool, error) {
	st, err := s.registry.Get(ctx, db)
	if err != nil {
		return nil, err
	}
	return st.HasLabels(labels), nil
}

// Info returns metadata for the named store.
func (s *Service) Info(ctx context.Context, db string) (store.Info, error) {
	st, err := s.registry.Get(ctx, db)
	if err != nil {
		return store.Info{}, err
	}
	return st.Info(), nil
}

// List returns the names of all stores under the base directory.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.registry.List(ctx)
}

// Clear removes every entry from the named store.
func (s *Service) Clear(ctx context.Context, db string) error {
	st, err := s.registry.Get(ctx, db)
	if err != nil {
		return err
	}
	return st.Clear(ctx)
}

// Delete removes entries by label or key, optionally rebuilding the index
// afterwards. It fails without changes when any ref does not resolve.
func (s *Service) Delete(ctx context.Context, db string, refs []store.Ref, rebuild bool) error {
	st, err := s.registry.Get(ctx, db)
	if err != nil {
		return err
	}
	return st.Delete(ctx, refs, rebuild)
}

// Drop deletes the named store and its files.
func (s *Service) Drop(ctx context.Context, db string) error {
	return s.registry.Drop(ctx, db)
}

// Pending reports how many ingestion items are still queued.
func (s *Service) Pending() int {
	return s.pipeline.Pending()
}

// Flush persists every open store.
func (s *Service) Flush(ctx context.Context) error {
	return s.registry.Flush(ctx)
}

// Close drains the ingestion pipeline, then saves and forgets all stores.
func (s *Service) Close(ctx context.Context) error {
	if err := s.pipeline.Close(ctx); err != nil {
		s.log.Error("pipeline drain failed", "error", err)
	}
	return s.registry.Close(ctx)
}
