// Package chunkstore persists fixed-shape rectangular chunks of dense cube
// data as individual files under the cube's directory. Allocation is lazy:
// a chunk that has never been written has no file, and reads of it yield
// the cube's fill value without touching storage.
//
// An LRU cache of recently touched chunks sits in front of the files, and
// a striped lock table provides chunk-level shared/exclusive locking.
package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TobiasJacob/cube-store/internal/errors"
)

const chunksSubdir = "chunks"

// Key addresses one chunk by its per-dimension chunk-index tuple.
type Key []int

// String renders the key in dotted on-disk form, e.g. "1.4.0".
func (k Key) String() string {
	if len(k) == 0 {
		return "0"
	}
	if len(k) == 1 {
		return strconv.Itoa(k[0])
	}
	var sb strings.Builder
	for i, idx := range k {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// ParseKey parses the dotted on-disk form back into a key.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ".")
	k := make(Key, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("bad chunk key %q", s)
		}
		k[i] = v
	}
	return k, nil
}

// Store persists chunks for a single cube.
//
// Store is safe for concurrent use; callers serialize access to individual
// chunks through the lock table.
type Store struct {
	cubeName string
	dir      string
	cache    *Cache
	locks    *LockTable
}

// Open creates or opens the chunk directory for a cube. cache may be shared
// between stores; nil disables caching.
func Open(cubeName, cubeDir string, cache *Cache, locks *LockTable) (*Store, error) {
	dir := filepath.Join(cubeDir, chunksSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorage(cubeName, "", err)
	}
	if locks == nil {
		locks = NewLockTable(0)
	}
	return &Store{cubeName: cubeName, dir: dir, cache: cache, locks: locks}, nil
}

// Locks returns the chunk lock table for this store.
func (s *Store) Locks() *LockTable { return s.locks }

func (s *Store) path(key Key) string {
	return filepath.Join(s.dir, key.String())
}

func (s *Store) cacheKey(key Key) string {
	return s.cubeName + "/" + key.String()
}

// Read returns the chunk's bytes and whether it has ever been allocated.
// An unallocated chunk returns (nil, false, nil); the caller substitutes
// fill-value content.
func (s *Store) Read(key Key) ([]byte, bool, error) {
	ck := s.cacheKey(key)
	if s.cache != nil {
		if data, ok := s.cache.Get(ck); ok {
			return data, true, nil
		}
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.NewStorage(s.cubeName, key.String(), err)
	}
	if s.cache != nil {
		s.cache.Put(ck, data)
	}
	return data, true, nil
}

// Write persists a chunk atomically (temp file + rename). Each chunk write
// is its own atomic unit; a failure leaves the previous contents intact.
// The cache entry is invalidated, not updated, so readers re-load the
// durable bytes.
func (s *Store) Write(key Key, data []byte) error {
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewStorage(s.cubeName, key.String(), err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		os.Remove(tmp)
		return errors.NewStorage(s.cubeName, key.String(), err)
	}
	if s.cache != nil {
		s.cache.Invalidate(s.cacheKey(key))
	}
	return nil
}

// Delete removes a chunk file if present.
func (s *Store) Delete(key Key) error {
	if s.cache != nil {
		s.cache.Invalidate(s.cacheKey(key))
	}
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.NewStorage(s.cubeName, key.String(), err)
	}
	return nil
}

// Keys lists every allocated chunk key.
func (s *Store) Keys() ([]Key, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewStorage(s.cubeName, "", err)
	}
	keys := make([]Key, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		k, err := ParseKey(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Destroy removes the whole chunk directory.
func (s *Store) Destroy() error {
	if s.cache != nil {
		s.cache.InvalidatePrefix(s.cubeName + "/")
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.NewStorage(s.cubeName, "", err)
	}
	return nil
}

// RLock acquires a shared lock on one chunk.
func (s *Store) RLock(key Key) func() {
	return s.locks.RLock(s.cacheKey(key))
}

// Lock acquires an exclusive lock on one chunk.
func (s *Store) Lock(key Key) func() {
	return s.locks.Lock(s.cacheKey(key))
}
