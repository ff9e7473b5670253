// Package cache memoizes merged views per query path.
//
// An entry's presence is the only freshness proof: writers must call
// Invalidate for every write, and nothing ever compares signatures.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/docpath"
	"github.com/agentic-research/strata/internal/merge"
)

// DefaultSize bounds the number of cached paths. Evicted entries are simply
// recomputed on the next read.
const DefaultSize = 4096

// Entry is one cached merge. Node is shared read-only by every reader until
// the entry is invalidated; a nil Node records that the path is absent.
type Entry struct {
	Path      string
	Signature merge.Signature
	Node      doc.Node
}

type Cache struct {
	mu      sync.RWMutex
	entries *lru.Cache[string, *Entry]
}

// New returns a cache holding at most size entries. size <= 0 uses DefaultSize.
func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *Entry](size)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &Cache{entries: entries}
}

// Lookup returns the entry for path, calling fill on a miss.
//
// The hit path only takes the shared lock. On a miss the exclusive lock is
// taken and the entry re-checked, so concurrent readers missing the same path
// fill it once and all observe the same node.
func (c *Cache) Lookup(path string, fill func() *Entry) *Entry {
	c.mu.RLock()
	e, ok := c.entries.Get(path)
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries.Get(path); ok {
		return e
	}
	e = fill()
	c.entries.Add(path, e)
	return e
}

// Peek returns the cached entry for path without filling or touching recency.
func (c *Cache) Peek(path string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Peek(path)
}

// Invalidate drops every entry whose merged view can include data at
// written: the path itself, its descendants and its ancestors. It returns the
// number of entries removed.
func (c *Cache) Invalidate(written string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		if docpath.IsAncestorOrEqual(written, key) || docpath.IsAncestorOrEqual(key, written) {
			if c.entries.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}
