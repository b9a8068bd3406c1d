package resolve

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirtech/pylock/internal/requirement"
)

// oracleCache coalesces concurrent Candidates/MetadataFor calls for the
// same key into a single oracle round trip, per the "re-entry on the same
// key must be coalesced, not duplicated" shared-resource discipline, and
// prefetches a batch of names concurrently via errgroup.
type oracleCache struct {
	oracle Oracle

	mu         sync.Mutex
	candidates map[string]*candidateEntry
	metadata   map[string]*metadataEntry
}

type candidateEntry struct {
	done   chan struct{}
	result []Candidate
	err    error
}

type metadataEntry struct {
	done   chan struct{}
	result Metadata
	err    error
}

func newOracleCache(o Oracle) *oracleCache {
	return &oracleCache{
		oracle:     o,
		candidates: make(map[string]*candidateEntry),
		metadata:   make(map[string]*metadataEntry),
	}
}

func (c *oracleCache) candidatesFor(ctx context.Context, name string) ([]Candidate, error) {
	c.mu.Lock()
	entry, ok := c.candidates[name]
	if !ok {
		entry = &candidateEntry{done: make(chan struct{})}
		c.candidates[name] = entry
		c.mu.Unlock()

		entry.result, entry.err = c.oracle.Candidates(ctx, name)
		close(entry.done)
	} else {
		c.mu.Unlock()
		<-entry.done
	}

	return entry.result, entry.err
}

func (c *oracleCache) metadataFor(ctx context.Context, id requirement.PackageId) (Metadata, error) {
	key := id.String()

	c.mu.Lock()
	entry, ok := c.metadata[key]
	if !ok {
		entry = &metadataEntry{done: make(chan struct{})}
		c.metadata[key] = entry
		c.mu.Unlock()

		entry.result, entry.err = c.oracle.MetadataFor(ctx, id)
		close(entry.done)
	} else {
		c.mu.Unlock()
		<-entry.done
	}

	return entry.result, entry.err
}

// prefetchCandidates warms the cache for a batch of package names
// concurrently, at most eight fetches at a time; a fetch failure here is not fatal; the error surfaces again,
// synchronously, the next time that name is looked up.
func (c *oracleCache) prefetchCandidates(ctx context.Context, names []string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, name := range names {
		name := name

		g.Go(func() error {
			_, _ = c.candidatesFor(ctx, name)

			return nil
		})
	}

	_ = g.Wait()
}
