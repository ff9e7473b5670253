// Package fragment holds the documents contributed to a strata store.
//
// A Store is pure storage plus path-relation filtering: it knows which
// fragments sit at or below a path, never how they merge. It is not safe for
// concurrent use; the owning store serializes access.
package fragment

import (
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/docpath"
)

// Fragment is one immutable contribution. Payload is a private deep copy.
type Fragment struct {
	Path     string
	Priority int
	Sequence uint64
	Payload  doc.Node
}

// Less orders fragments by (priority, sequence); later entries win a merge.
func Less(a, b *Fragment) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Sequence < b.Sequence
}

type Store struct {
	byPath  map[string][]*Fragment // path -> fragments sorted by priority
	bySeq   map[uint64]*Fragment
	subtree map[string]*roaring64.Bitmap // path -> sequences registered at or below it
	nextSeq uint64
}

func NewStore() *Store {
	return &Store{
		byPath:  make(map[string][]*Fragment),
		bySeq:   make(map[uint64]*Fragment),
		subtree: make(map[string]*roaring64.Bitmap),
	}
}

// Insert stores a clone of payload at (path, priority) under the next
// sequence number. A fragment already holding that (path, priority) is
// replaced, not merged, and returned as replaced.
func (s *Store) Insert(path string, priority int, payload doc.Node) (inserted, replaced *Fragment) {
	s.nextSeq++
	inserted = &Fragment{
		Path:     path,
		Priority: priority,
		Sequence: s.nextSeq,
		Payload:  doc.Clone(payload),
	}

	list := s.byPath[path]
	idx := sort.Search(len(list), func(i int) bool { return list[i].Priority >= priority })
	if idx < len(list) && list[idx].Priority == priority {
		replaced = list[idx]
		s.unindex(replaced)
		list[idx] = inserted
	} else {
		list = append(list, nil)
		copy(list[idx+1:], list[idx:])
		list[idx] = inserted
	}
	s.byPath[path] = list
	s.index(inserted)
	return inserted, replaced
}

// Remove deletes every fragment at path and returns them.
func (s *Store) Remove(path string) []*Fragment {
	list, ok := s.byPath[path]
	if !ok {
		return nil
	}
	delete(s.byPath, path)
	for _, f := range list {
		s.unindex(f)
	}
	return list
}

// RemovePriority deletes the fragment at (path, priority), if any.
func (s *Store) RemovePriority(path string, priority int) *Fragment {
	list := s.byPath[path]
	for i, f := range list {
		if f.Priority != priority {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.byPath, path)
		} else {
			s.byPath[path] = list
		}
		s.unindex(f)
		return f
	}
	return nil
}

// At returns the fragments registered exactly at path, lowest priority first.
func (s *Store) At(path string) []*Fragment {
	list := s.byPath[path]
	out := make([]*Fragment, len(list))
	copy(out, list)
	return out
}

// Affecting returns every fragment registered at query or below it, in
// sequence order. The result is unsorted with respect to priority.
func (s *Store) Affecting(query string) []*Fragment {
	bm, ok := s.subtree[query]
	if !ok {
		return nil
	}
	out := make([]*Fragment, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		if f, ok := s.bySeq[it.Next()]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of stored fragments.
func (s *Store) Len() int {
	return len(s.bySeq)
}

// Paths returns every path holding at least one fragment, sorted.
func (s *Store) Paths() []string {
	out := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// index registers f's sequence on its own path and every ancestor.
func (s *Store) index(f *Fragment) {
	s.bySeq[f.Sequence] = f
	s.mark(f.Path, f.Sequence)
	for _, anc := range docpath.Ancestors(f.Path) {
		s.mark(anc, f.Sequence)
	}
}

func (s *Store) unindex(f *Fragment) {
	delete(s.bySeq, f.Sequence)
	s.unmark(f.Path, f.Sequence)
	for _, anc := range docpath.Ancestors(f.Path) {
		s.unmark(anc, f.Sequence)
	}
}

func (s *Store) mark(path string, seq uint64) {
	bm, ok := s.subtree[path]
	if !ok {
		bm = roaring64.New()
		s.subtree[path] = bm
	}
	bm.Add(seq)
}

func (s *Store) unmark(path string, seq uint64) {
	bm, ok := s.subtree[path]
	if !ok {
		return
	}
	bm.Remove(seq)
	if bm.IsEmpty() {
		delete(s.subtree, path)
	}
}
