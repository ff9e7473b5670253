// Package manifest loads layer stacks described in JSONC files and applies
// them to a store.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/golang/glog"
	"github.com/tailscale/hujson"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/codec"
	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/docpath"
	"github.com/agentic-research/strata/internal/include"
	"github.com/agentic-research/strata/internal/store"
)

// Version is the manifest format this package understands.
const Version = "1"

var (
	ErrInvalid = errors.New("invalid manifest")
	// ErrVersion is returned for manifests written for another format.
	ErrVersion = errors.New("unsupported manifest version")
)

// Load reads and validates the manifest name from fs.
func Load(fs billy.Filesystem, name string) (*api.Manifest, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}
	return Parse(data)
}

// Parse decodes JSONC manifest text and validates it.
func Parse(data []byte) (*api.Manifest, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	var m api.Manifest
	if err := json.Unmarshal(standardized, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the version and that every layer has a well-formed path and
// exactly one source.
func Validate(m *api.Manifest) error {
	if m.Version != Version {
		return fmt.Errorf("%w: %q (want %q)", ErrVersion, m.Version, Version)
	}
	for i, l := range m.Layers {
		if err := docpath.Validate(l.Path); err != nil {
			return fmt.Errorf("%w: layer %d: %w", ErrInvalid, i, err)
		}
		hasFile, hasDoc := l.File != "", l.Document != nil
		if hasFile == hasDoc {
			return fmt.Errorf("%w: layer %d (%s): exactly one of file or document is required", ErrInvalid, i, l.Path)
		}
	}
	return nil
}

// Apply upserts every layer of m into s in order. Layer files are read from
// fs and decoded by extension. Apply stops at the first failing layer; layers
// before it stay applied.
func Apply(s *store.Store, fs billy.Filesystem, m *api.Manifest) error {
	for i, l := range m.Layers {
		payload, err := layerPayload(fs, l)
		if err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, l.Path, err)
		}
		if err := s.Upsert(l.Path, l.Priority, payload); err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, l.Path, err)
		}
		glog.V(1).Infof("applied layer %d at %s@%d", i, l.Path, l.Priority)
	}
	return nil
}

func layerPayload(fs billy.Filesystem, l api.Layer) (doc.Node, error) {
	if l.Document != nil {
		return doc.FromAny(l.Document)
	}
	f, err := fs.Open(l.File)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.File, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.File, err)
	}
	return codec.Decode(l.File, data)
}

// Stack is a store built from a manifest on disk, together with the resources
// it holds open.
type Stack struct {
	Manifest *api.Manifest
	Store    *store.Store
	closers  []io.Closer
}

// Close releases loaders opened by Open.
func (st *Stack) Close() error {
	var errs []error
	for _, c := range st.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Open loads the manifest at path, wires its include loaders into a new store
// and applies every layer. Extra options are passed to store.New after the
// manifest's own.
func Open(path string, opts ...store.Option) (*Stack, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	m, err := Load(osfs.New(dir), name)
	if err != nil {
		return nil, err
	}

	root := m.IncludeRoot
	if root == "" {
		root = dir
	} else if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}
	files := osfs.New(root)

	st := &Stack{Manifest: m}
	loaders := include.ChainLoader{include.NewFSLoader(files)}
	if m.IncludeDB != "" {
		dbPath := m.IncludeDB
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(dir, dbPath)
		}
		sl, err := include.OpenSQLiteLoader(dbPath)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, sl)
		loaders = append(loaders, sl)
	}

	storeOpts := []store.Option{store.WithLoader(loaders)}
	if m.IncludeKey != "" {
		storeOpts = append(storeOpts, store.WithIncludeKey(m.IncludeKey))
	}
	st.Store = store.New(append(storeOpts, opts...)...)

	if err := Apply(st.Store, files, m); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
