package nfsmount

import (
	"io"
)

// snapshotFile implements billy.File over the bytes captured at open time.
// Later store writes do not change an already open file.
type snapshotFile struct {
	name string
	data []byte
	pos  int64
}

func (f *snapshotFile) Name() string { return f.name }

func (f *snapshotFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	if f.pos >= int64(len(f.data)) {
		return n, io.EOF
	}
	return n, nil
}

func (f *snapshotFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *snapshotFile) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = int64(len(f.data)) + offset
	}
	if newPos < 0 {
		newPos = 0
	}
	f.pos = newPos
	return f.pos, nil
}

func (f *snapshotFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *snapshotFile) Truncate(int64) error      { return errReadOnly }
func (f *snapshotFile) Lock() error               { return nil }
func (f *snapshotFile) Unlock() error             { return nil }
func (f *snapshotFile) Close() error              { return nil }
