// Package dictionary manages the self-learning correction dictionary: the
// lifecycle of heard-variant terms (record, approve, reject) and a versioned
// in-memory cache of approved terms that the normalization engine reads on
// every transcript.
package dictionary

import (
	"context"
	"fmt"
	"sync"

	"github.com/aserkali/tilmash/internal/store"
)

// Cache is a lazily loaded snapshot of approved terms per language, keyed by
// lowercased heard variant. Readers share one snapshot until Invalidate
// bumps the version; the next read reloads from the store.
type Cache struct {
	terms store.TermStore

	mu        sync.RWMutex
	version   uint64
	snapshots map[store.Language]*snapshot
}

type snapshot struct {
	version uint64
	terms   map[string]string
}

// NewCache returns a cache backed by the given term store.
func NewCache(terms store.TermStore) *Cache {
	return &Cache{
		terms:     terms,
		snapshots: make(map[store.Language]*snapshot),
	}
}

// Approved returns the heard-variant to correct-form mapping of all approved
// terms in the given language. The returned map is shared between callers
// and must not be mutated.
func (c *Cache) Approved(ctx context.Context, lang store.Language) (map[string]string, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[lang]
	version := c.version
	c.mu.RUnlock()
	if ok && snap.version == version {
		return snap.terms, nil
	}

	listed, err := c.terms.ListTerms(ctx, store.TermFilter{Language: lang, Status: store.TermApproved})
	if err != nil {
		return nil, fmt.Errorf("dictionary cache: load %s terms: %w", lang, err)
	}
	terms := make(map[string]string, len(listed))
	for _, t := range listed {
		terms[t.HeardVariant] = t.CorrectForm
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have reloaded, or an invalidation may have
	// landed while we were reading the store. Only install the snapshot
	// if the version we loaded against is still current.
	if c.version == version {
		c.snapshots[lang] = &snapshot{version: version, terms: terms}
	}
	return terms, nil
}

// Invalidate discards all cached snapshots. The next Approved call per
// language reloads from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
}
