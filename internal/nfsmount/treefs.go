// Package nfsmount serves the merged view of a store as a read-only NFS
// export. Objects appear as directories, every other value as a file holding
// its JSON, and each directory carries a _merged.json with the whole subtree.
package nfsmount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/docpath"
)

// MergedName is the virtual file present in every directory.
const MergedName = "_merged.json"

var errReadOnly = fmt.Errorf("read-only filesystem")

// Reader is the slice of the store the projection needs.
type Reader interface {
	Read(path string) (doc.Node, error)
}

// TreeFS adapts a store's merged view to billy.Filesystem for go-nfs.
// Every call reads a fresh snapshot, so writes to the store show up on the
// next lookup.
type TreeFS struct {
	store     Reader
	base      string
	mountTime time.Time
}

// NewTreeFS exposes the merged view at base (a store path) as the root.
func NewTreeFS(r Reader, base string) (*TreeFS, error) {
	if err := docpath.Validate(base); err != nil {
		return nil, err
	}
	return &TreeFS{store: r, base: base, mountTime: time.Now()}, nil
}

// --- billy.Basic ---

func (fs *TreeFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *TreeFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *TreeFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, errReadOnly
	}

	e, err := fs.lookup(filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: err}
	}
	if e.dir {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}
	return &snapshotFile{name: filename, data: e.content()}, nil
}

func (fs *TreeFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *TreeFS) Rename(oldpath, newpath string) error {
	return errReadOnly
}

func (fs *TreeFS) Remove(filename string) error {
	return errReadOnly
}

func (fs *TreeFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *TreeFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *TreeFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)

	e, err := fs.lookup(path)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: err}
	}
	if !e.dir {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: fmt.Errorf("not a directory")}
	}

	obj, _ := e.node.(doc.Object)
	infos := make([]os.FileInfo, 0, len(obj)+1)
	infos = append(infos, fs.info(entry{name: MergedName, node: e.node}))
	for _, key := range obj.Keys() {
		if !exposable(key) {
			continue
		}
		infos = append(infos, fs.info(newEntry(key, obj[key])))
	}
	return infos, nil
}

func (fs *TreeFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *TreeFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)

	e, err := fs.lookup(filename)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: err}
	}
	return fs.info(e), nil
}

func (fs *TreeFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *TreeFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *TreeFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *TreeFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *TreeFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

// entry is one resolved name in the projection.
type entry struct {
	name string
	node doc.Node
	dir  bool
}

func newEntry(name string, n doc.Node) entry {
	_, isObj := n.(doc.Object)
	return entry{name: name, node: n, dir: isObj}
}

// content is what reading the entry as a file yields.
func (e entry) content() []byte {
	return append(doc.Marshal(e.node, 2), '\n')
}

// lookup resolves a projection path against a fresh snapshot of the merged
// view. The root always exists, as an empty directory when the store has
// nothing at base.
func (fs *TreeFS) lookup(path string) (entry, error) {
	root, err := fs.store.Read(fs.base)
	if err != nil {
		return entry{}, err
	}
	if root == nil {
		root = doc.Object{}
	}

	// A non-object at base still mounts as a directory; its value is only
	// reachable through _merged.json.
	cur := entry{name: "/", node: root, dir: true}
	if path == "/" {
		return cur, nil
	}

	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segs {
		if seg == MergedName && i == len(segs)-1 && cur.dir {
			return entry{name: MergedName, node: cur.node}, nil
		}
		obj, ok := cur.node.(doc.Object)
		if !ok || !exposable(seg) {
			return entry{}, os.ErrNotExist
		}
		child, ok := obj[seg]
		if !ok {
			return entry{}, os.ErrNotExist
		}
		cur = newEntry(seg, child)
	}
	return cur, nil
}

func (fs *TreeFS) info(e entry) os.FileInfo {
	if e.dir {
		return &staticFileInfo{name: e.name, mode: os.ModeDir | 0o555, modTime: fs.mountTime}
	}
	return &staticFileInfo{
		name:    e.name,
		size:    int64(len(e.content())),
		mode:    0o444,
		modTime: fs.mountTime,
	}
}

// exposable reports whether an object key can appear as a file name.
func exposable(key string) bool {
	return docpath.ValidSegment(key) && key != "." && key != ".." && key != MergedName
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	path = filepath.Clean("/" + path)
	if path == "." {
		return "/"
	}
	return path
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

var (
	_ billy.Filesystem = (*TreeFS)(nil)
	_ billy.Capable    = (*TreeFS)(nil)
	_ billy.File       = (*snapshotFile)(nil)
)
