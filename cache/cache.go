// Package cache keeps compiled programs in a SQLite database keyed by
// the hash of their source, so unchanged files are not recompiled.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/pcode/vm"
	"github.com/chazu/pcode/vm/image"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("pcode.cache")

// ErrNotFound indicates the requested program is not cached.
var ErrNotFound = errors.New("program not in cache")

// CompileFunc turns source into a program.
type CompileFunc func(source string) (*vm.Program, error)

// Cache is a compile cache backed by one SQLite file. It is safe for
// concurrent use.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path. Use ":memory:" for a
// throwaway cache.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// one connection keeps :memory: databases alive and writes ordered
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Path returns the database file the cache was opened with.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the raw image stored for hash.
func (c *Cache) Get(hash image.SourceHash) ([]byte, error) {
	var data []byte
	err := c.db.QueryRow("SELECT image FROM programs WHERE hash = ?", hash.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	return data, nil
}

// Put stores a raw image under hash, replacing any previous entry.
func (c *Cache) Put(hash image.SourceHash, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO programs (hash, image, created) VALUES (?, ?, ?)",
		hash.String(), data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Delete removes the entry for hash, if any.
func (c *Cache) Delete(hash image.SourceHash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM programs WHERE hash = ?", hash.String()); err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return nil
}

// Load decodes the program cached for hash. An entry that no longer
// decodes, for example one written by an older image version, is dropped
// and reported as ErrNotFound.
func (c *Cache) Load(hash image.SourceHash) (*vm.Program, error) {
	data, err := c.Get(hash)
	if err != nil {
		return nil, err
	}
	p, stored, err := image.Unmarshal(data)
	if err == nil && stored != hash {
		err = fmt.Errorf("entry holds image for %s", stored)
	}
	if err != nil {
		log.Warningf("discarding cache entry %s: %s", hash, err)
		if err := c.Delete(hash); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return p, nil
}

// Store encodes p and caches it under hash.
func (c *Cache) Store(hash image.SourceHash, p *vm.Program) error {
	data, err := image.Marshal(p, hash)
	if err != nil {
		return err
	}
	return c.Put(hash, data)
}

// Compile returns the cached program for source, compiling and storing
// it on a miss. The boolean reports a cache hit.
func (c *Cache) Compile(source string, compile CompileFunc) (*vm.Program, bool, error) {
	hash := image.HashSource([]byte(source))
	p, err := c.Load(hash)
	switch {
	case err == nil:
		log.Debugf("cache hit %s", hash)
		return p, true, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	log.Debugf("cache miss %s", hash)
	p, err = compile(source)
	if err != nil {
		return nil, false, err
	}
	if err := c.Store(hash, p); err != nil {
		// a cache that cannot be written still compiled the program
		log.Warningf("%s", err)
	}
	return p, false, nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Clear removes every cached program.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM programs"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}
