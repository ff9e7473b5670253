// Package include expands include markers found in raw fragments.
//
// A marker is an object property (by default "$include") whose string value
// names a resource. The resolved resource becomes an extra layer at the
// marker's position, at the same priority as the fragment that carried it.
package include

import (
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/agentic-research/strata/internal/codec"
	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/docpath"
)

// DefaultKey is the reserved marker property.
const DefaultKey = "$include"

// Layer is one resolved include, to be stored at Path.
type Layer struct {
	Path   string
	Node   doc.Node
	Source string // loader's full path for the resource
}

// DecodeFunc turns resource bytes into a tree.
type DecodeFunc func(name string, data []byte) (doc.Node, error)

type Resolver struct {
	loader Loader
	key    string
	decode DecodeFunc
}

type Option func(*Resolver)

// WithKey overrides the marker property name.
func WithKey(key string) Option {
	return func(r *Resolver) {
		if key != "" {
			r.key = key
		}
	}
}

// WithDecoder overrides the extension-based decoding.
func WithDecoder(fn DecodeFunc) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.decode = fn
		}
	}
}

// NewResolver returns a resolver reading through loader. A nil loader makes
// every marker fail resolution.
func NewResolver(loader Loader, opts ...Option) *Resolver {
	r := &Resolver{
		loader: loader,
		key:    DefaultKey,
		decode: codec.Decode,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type pending struct {
	path string
	obj  doc.Object
}

// Resolve walks raw breadth-first from base and loads every marker it finds,
// returning the layers in traversal order. Arrays are not descended since
// their elements have no path. Loaded documents are not scanned again.
// Failures are logged and the marker skipped.
func (r *Resolver) Resolve(base string, raw doc.Node) []Layer {
	root, ok := raw.(doc.Object)
	if !ok {
		return nil
	}

	var layers []Layer
	queue := []pending{{path: base, obj: root}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if id, ok := cur.obj[r.key].(doc.String); ok {
			if layer, err := r.load(cur.path, string(id)); err != nil {
				glog.Warningf("include %q at %s skipped: %v", string(id), cur.path, err)
			} else {
				layers = append(layers, layer)
			}
		}

		for _, key := range cur.obj.Keys() {
			child, ok := cur.obj[key].(doc.Object)
			if !ok || key == r.key {
				continue
			}
			if !docpath.ValidSegment(key) {
				glog.V(1).Infof("include scan: key %q under %s is not addressable, not descending", key, cur.path)
				continue
			}
			queue = append(queue, pending{path: docpath.Join(cur.path, key), obj: child})
		}
	}
	return layers
}

func (r *Resolver) load(path, id string) (Layer, error) {
	if r.loader == nil {
		return Layer{}, fmt.Errorf("no loader configured")
	}
	if !r.loader.Exists(id) {
		return Layer{}, fmt.Errorf("%w: %s", ErrNotFound, r.loader.ResolveFullPath(id))
	}
	rc, err := r.loader.Open(id)
	if err != nil {
		return Layer{}, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Layer{}, fmt.Errorf("read %s: %w", r.loader.ResolveFullPath(id), err)
	}
	n, err := r.decode(id, data)
	if err != nil {
		return Layer{}, err
	}
	return Layer{Path: path, Node: n, Source: r.loader.ResolveFullPath(id)}, nil
}
