// Package docpath implements the slash-delimited tree paths used to address
// fragments and merged views. Paths are absolute, "/" is the root, and empty
// segments are never valid.
package docpath

import (
	"errors"
	"fmt"
	"strings"
)

// Root is the path of the whole document tree.
const Root = "/"

var ErrInvalid = errors.New("invalid path")

// Validate reports whether p is a well-formed absolute path.
// E.g. "/", "/a", "/a/b" are valid; "", "a", "/a/", "/a//b" are not.
func Validate(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if p[0] != '/' {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalid, p)
	}
	if p == Root {
		return nil
	}
	for i, seg := range strings.Split(p[1:], "/") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment at %d", ErrInvalid, p, i)
		}
	}
	return nil
}

// Segments splits a valid path into its segments. The root has none.
func Segments(p string) []string {
	if p == Root || p == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// Join appends segments to base. Segments must not contain '/'.
func Join(base string, segs ...string) string {
	if len(segs) == 0 {
		return base
	}
	rest := strings.Join(segs, "/")
	if base == Root {
		return "/" + rest
	}
	return base + "/" + rest
}

// ValidSegment reports whether s can be used as a single path segment.
func ValidSegment(s string) bool {
	return s != "" && !strings.Contains(s, "/")
}

// IsAncestorOrEqual reports whether anc equals p or is a prefix of p on a
// segment boundary. "/a" is an ancestor of "/a/b" but not of "/ab".
func IsAncestorOrEqual(anc, p string) bool {
	if anc == p || anc == Root {
		return true
	}
	return strings.HasPrefix(p, anc) && len(p) > len(anc) && p[len(anc)] == '/'
}

// Relative returns the segments leading from anc down to p.
// ok is false when anc is not an ancestor-or-equal of p.
func Relative(anc, p string) (segs []string, ok bool) {
	if !IsAncestorOrEqual(anc, p) {
		return nil, false
	}
	if anc == p {
		return nil, true
	}
	if anc == Root {
		return Segments(p), true
	}
	return strings.Split(p[len(anc)+1:], "/"), true
}

// Parent returns the parent of p. The root is its own parent.
func Parent(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return Root
	}
	return p[:idx]
}

// Ancestors returns the strict ancestors of p, nearest first, ending with the
// root. The root has no ancestors.
// E.g. "/a/b/c" -> ["/a/b", "/a", "/"]
func Ancestors(p string) []string {
	if p == Root {
		return nil
	}
	var out []string
	for cur := Parent(p); ; cur = Parent(cur) {
		out = append(out, cur)
		if cur == Root {
			return out
		}
	}
}
