package include

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("include resource not found")

// Loader resolves include identifiers to readable resources.
type Loader interface {
	Exists(id string) bool
	Open(id string) (io.ReadCloser, error)
	// ResolveFullPath describes where id points, for diagnostics only.
	ResolveFullPath(id string) string
}

// FSLoader loads includes from a billy filesystem. Identifiers are paths
// relative to the filesystem root.
type FSLoader struct {
	fs billy.Filesystem
}

func NewFSLoader(fs billy.Filesystem) *FSLoader {
	return &FSLoader{fs: fs}
}

func (l *FSLoader) Exists(id string) bool {
	info, err := l.fs.Stat(id)
	return err == nil && !info.IsDir()
}

func (l *FSLoader) Open(id string) (io.ReadCloser, error) {
	f, err := l.fs.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	return f, nil
}

func (l *FSLoader) ResolveFullPath(id string) string {
	return l.fs.Join(l.fs.Root(), id)
}

// SQLiteLoader loads includes from the results(id, record) table of a SQLite
// database, one JSON document per row.
type SQLiteLoader struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLiteLoader opens dbPath. The caller must Close the loader.
func OpenSQLiteLoader(dbPath string) (*SQLiteLoader, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	var count int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name='results'").Scan(&count); err != nil || count == 0 {
		_ = db.Close()
		return nil, fmt.Errorf("results table not found in %s", dbPath)
	}
	return &SQLiteLoader{db: db, dbPath: dbPath}, nil
}

func (l *SQLiteLoader) Exists(id string) bool {
	var one int
	err := l.db.QueryRow("SELECT 1 FROM results WHERE id = ?", id).Scan(&one)
	return err == nil
}

func (l *SQLiteLoader) Open(id string) (io.ReadCloser, error) {
	var raw string
	err := l.db.QueryRow("SELECT record FROM results WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", id, err)
	}
	return io.NopCloser(strings.NewReader(raw)), nil
}

func (l *SQLiteLoader) ResolveFullPath(id string) string {
	return l.dbPath + "#" + id
}

func (l *SQLiteLoader) Close() error {
	return l.db.Close()
}

// ChainLoader asks each loader in turn; the first that has id wins.
type ChainLoader []Loader

func (c ChainLoader) Exists(id string) bool {
	return c.find(id) != nil
}

func (c ChainLoader) Open(id string) (io.ReadCloser, error) {
	l := c.find(id)
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l.Open(id)
}

func (c ChainLoader) ResolveFullPath(id string) string {
	if l := c.find(id); l != nil {
		return l.ResolveFullPath(id)
	}
	return id
}

func (c ChainLoader) find(id string) Loader {
	for _, l := range c {
		if l != nil && l.Exists(id) {
			return l
		}
	}
	return nil
}
