// Package merge folds the fragments affecting a path into one merged tree.
package merge

import (
	"encoding/binary"
	"hash/fnv"
	"sort"

	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/docpath"
	"github.com/agentic-research/strata/internal/fragment"
)

// Source provides the fragments registered at or below a path.
type Source interface {
	Affecting(query string) []*fragment.Fragment
}

// Signature summarizes which fragments produced a result. It is diagnostic
// only; nothing compares signatures to decide freshness.
type Signature uint64

// Result is the outcome of one merge.
type Result struct {
	Node      doc.Node // nil when no fragment affects the path
	Signature Signature
	Fragments int
}

// Compute merges every fragment affecting query.
//
// Fragments are applied in (priority, sequence) order onto an initially empty
// accumulator. A fragment registered at query overlays the accumulator root; a
// fragment registered deeper is overlaid at its relative position, creating
// intermediate objects and discarding any scalar or array standing in the way.
func Compute(src Source, query string) Result {
	frags := src.Affecting(query)
	if len(frags) == 0 {
		return Result{}
	}
	sort.Slice(frags, func(i, j int) bool { return fragment.Less(frags[i], frags[j]) })

	var acc doc.Node
	for _, f := range frags {
		segs, ok := docpath.Relative(query, f.Path)
		if !ok {
			continue
		}
		acc = place(acc, segs, f.Payload)
	}
	return Result{
		Node:      acc,
		Signature: sign(frags),
		Fragments: len(frags),
	}
}

// place overlays payload at segs below acc. acc is owned by the merge.
func place(acc doc.Node, segs []string, payload doc.Node) doc.Node {
	if len(segs) == 0 {
		return doc.OverlayOwned(acc, payload)
	}
	obj, ok := acc.(doc.Object)
	if !ok || obj == nil {
		obj = doc.Object{}
	}
	obj[segs[0]] = place(obj[segs[0]], segs[1:], payload)
	return obj
}

func sign(frags []*fragment.Fragment) Signature {
	h := fnv.New64a()
	var buf [16]byte
	for _, f := range frags {
		binary.LittleEndian.PutUint64(buf[:8], uint64(int64(f.Priority)))
		binary.LittleEndian.PutUint64(buf[8:], f.Sequence)
		_, _ = h.Write(buf[:])
	}
	return Signature(h.Sum64())
}
