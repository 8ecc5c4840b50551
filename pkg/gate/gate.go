// Package gate provides admission control for query handling. Searches run
// concurrently with ingestion, so the number of in-flight queries is capped:
// when every permit is taken, new queries are rejected immediately instead
// of queueing behind a busy index.
package gate

import "golang.org/x/sync/semaphore"

// Gate is a fixed-size pool of query permits.
type Gate struct {
	sem     *semaphore.Weighted
	permits int64
}

// New creates a Gate sized for the given ingestion batch size: half a batch
// worth of permits, never fewer than two.
func New(batchSize int) *Gate {
	permits := int64(batchSize / 2)
	if permits < 2 {
		permits = 2
	}
	return &Gate{
		sem:     semaphore.NewWeighted(permits),
		permits: permits,
	}
}

// Permits returns the total number of permits.
func (g *Gate) Permits() int {
	return int(g.permits)
}

// TryAcquire takes a permit without blocking. It reports false when the gate
// is saturated; the caller must not Release in that case.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a permit taken by a successful TryAcquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}
