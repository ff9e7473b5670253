// Package store is the entry point of strata: a layered document-merge store.
//
// Writers contribute fragments at a path with a priority; readers get the
// merged view of everything registered at or below a path. Merged views are
// cached until a write touches them, and subscribers hear about writes at
// the path they watch and below it.
//
// All methods are safe for concurrent use. Subscriber handlers run after the
// store lock has been released, so a handler may call back into the store.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/agentic-research/strata/internal/cache"
	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/docpath"
	"github.com/agentic-research/strata/internal/fragment"
	"github.com/agentic-research/strata/internal/include"
	"github.com/agentic-research/strata/internal/merge"
	"github.com/agentic-research/strata/internal/query"
	"github.com/agentic-research/strata/internal/subscribe"
)

var (
	ErrInvalidPath = docpath.ErrInvalid
	ErrNilPayload  = errors.New("nil payload")
)

type Store struct {
	mu        sync.RWMutex
	fragments *fragment.Store
	cache     *cache.Cache
	subs      *subscribe.Registry
	includes  *include.Resolver
	now       func() time.Time
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	cfg := applyOptions(opts)
	resolverOpts := []include.Option{include.WithKey(cfg.includeKey)}
	if cfg.decoder != nil {
		resolverOpts = append(resolverOpts, include.WithDecoder(cfg.decoder))
	}
	return &Store{
		fragments: fragment.NewStore(),
		cache:     cache.New(cfg.cacheSize),
		subs:      subscribe.NewRegistry(),
		includes:  include.NewResolver(cfg.loader, resolverOpts...),
		now:       cfg.clock,
	}
}

// Upsert registers payload at (path, priority), replacing any fragment that
// already holds that pair. Include markers inside payload are resolved and
// stored as extra fragments at the marker's position with the same priority;
// a marker on the payload root is overlaid onto the payload itself.
//
// A malformed path or nil payload is logged, leaves the store unchanged and
// is returned as an error.
func (s *Store) Upsert(path string, priority int, payload doc.Node) error {
	if err := docpath.Validate(path); err != nil {
		glog.Warningf("upsert rejected: %v", err)
		return err
	}
	if payload == nil {
		glog.Warningf("upsert %s@%d rejected: %v", path, priority, ErrNilPayload)
		return fmt.Errorf("upsert %s: %w", path, ErrNilPayload)
	}

	// Loading happens before the lock so slow resources never block readers.
	main := payload
	var nested []include.Layer
	for _, layer := range s.includes.Resolve(path, payload) {
		glog.V(1).Infof("include %s resolved at %s@%d", layer.Source, layer.Path, priority)
		if layer.Path == path {
			main = doc.Overlay(main, layer.Node)
			continue
		}
		nested = append(nested, layer)
	}

	s.mu.Lock()
	batch := s.applyLocked(path, func() bool {
		s.fragments.Insert(path, priority, main)
		return true
	})
	for _, layer := range nested {
		batch = append(batch, s.applyLocked(layer.Path, func() bool {
			s.fragments.Insert(layer.Path, priority, layer.Node)
			return true
		})...)
	}
	s.mu.Unlock()

	subscribe.Deliver(batch)
	return nil
}

// Remove deletes every fragment at path. Removing nothing is a no-op.
func (s *Store) Remove(path string) error {
	if err := docpath.Validate(path); err != nil {
		glog.Warningf("remove rejected: %v", err)
		return err
	}
	s.mu.Lock()
	batch := s.applyLocked(path, func() bool {
		return len(s.fragments.Remove(path)) > 0
	})
	s.mu.Unlock()

	subscribe.Deliver(batch)
	return nil
}

// RemovePriority deletes the fragment at (path, priority), if any.
func (s *Store) RemovePriority(path string, priority int) error {
	if err := docpath.Validate(path); err != nil {
		glog.Warningf("remove rejected: %v", err)
		return err
	}
	s.mu.Lock()
	batch := s.applyLocked(path, func() bool {
		return s.fragments.RemovePriority(path, priority) != nil
	})
	s.mu.Unlock()

	subscribe.Deliver(batch)
	return nil
}

// Read returns the merged view at path, or nil when nothing is registered at
// or below it. The returned tree is shared with other readers and must not be
// modified; Clone it first.
func (s *Store) Read(path string) (doc.Node, error) {
	if err := docpath.Validate(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(path), nil
}

// Query evaluates a JSONPath selector against the merged view at path.
func (s *Store) Query(path, selector string) ([]doc.Node, error) {
	n, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return query.Select(n, selector)
}

// Subscribe registers h for changes at path. Dispose the returned handle to
// stop receiving events.
func (s *Store) Subscribe(path string, h subscribe.Handler) (*subscribe.Subscription, error) {
	if err := docpath.Validate(path); err != nil {
		glog.Warningf("subscribe rejected: %v", err)
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", path)
	}
	return s.subs.Subscribe(path, h), nil
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Fragments    int
	Paths        int
	CacheEntries int
	Subscribers  int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Fragments:    s.fragments.Len(),
		Paths:        len(s.fragments.Paths()),
		CacheEntries: s.cache.Len(),
		Subscribers:  s.subs.Count(),
	}
}

// Paths lists every path holding at least one fragment.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fragments.Paths()
}

// readLocked serves path from the cache, merging on a miss. s.mu must be held
// in either mode; fragments cannot change underneath it.
func (s *Store) readLocked(path string) doc.Node {
	e := s.cache.Lookup(path, func() *cache.Entry {
		res := merge.Compute(s.fragments, path)
		glog.V(2).Infof("merge %s: %d fragments, signature %x", path, res.Fragments, uint64(res.Signature))
		return &cache.Entry{Path: path, Signature: res.Signature, Node: res.Node}
	})
	return e.Node
}

// applyLocked runs one write at path and returns the events it produced.
// s.mu must be held exclusively. mutate reports whether anything changed.
//
// Subscribers at path get one event classified from the merged value before
// and after. Subscribers of each strict ancestor get a Modified event whose
// OldValue is whatever the cache held for the ancestor (absent when it was not
// cached) and whose NewValue is recomputed. Values are only computed for paths
// somebody watches.
func (s *Store) applyLocked(path string, mutate func() bool) []subscribe.Delivery {
	type watched struct {
		path string
		subs []*subscribe.Subscription
		old  doc.Node
	}

	exact := s.subs.Snapshot(path)
	var before doc.Node
	if len(exact) > 0 {
		before = s.readLocked(path)
	}
	var ancestors []watched
	for _, anc := range docpath.Ancestors(path) {
		if subs := s.subs.Snapshot(anc); len(subs) > 0 {
			w := watched{path: anc, subs: subs}
			if e, ok := s.cache.Peek(anc); ok {
				w.old = e.Node
			}
			ancestors = append(ancestors, w)
		}
	}

	if !mutate() {
		return nil
	}
	dropped := s.cache.Invalidate(path)
	glog.V(2).Infof("write %s invalidated %d cache entries", path, dropped)

	ts := s.now()
	var batch []subscribe.Delivery
	if len(exact) > 0 {
		after := s.readLocked(path)
		if kind, ok := subscribe.Classify(before, after); ok {
			batch = append(batch, subscribe.Delivery{
				Event: subscribe.Event{
					Path:      path,
					Kind:      kind,
					NewValue:  after,
					OldValue:  before,
					Timestamp: ts,
				},
				Targets: exact,
			})
		}
	}
	for _, w := range ancestors {
		batch = append(batch, subscribe.Delivery{
			Event: subscribe.Event{
				Path:      w.path,
				Kind:      subscribe.Modified,
				NewValue:  s.readLocked(w.path),
				OldValue:  w.old,
				Timestamp: ts,
			},
			Targets: w.subs,
		})
	}
	return batch
}
