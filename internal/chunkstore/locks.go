package chunkstore

import (
	"hash/fnv"
	"sync"
)

// LockTable provides chunk-level shared/exclusive locking via a fixed set
// of stripes. Two chunks hashing to different stripes lock independently;
// collisions serialize harmlessly. Locks are scoped to a single chunk
// operation, never to a whole multi-chunk traversal.
type LockTable struct {
	stripes []sync.RWMutex
	mask    uint32
}

// NewLockTable creates a lock table with the given number of stripes,
// rounded up to a power of two. n <= 0 selects a default of 128.
func NewLockTable(n int) *LockTable {
	if n <= 0 {
		n = 128
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &LockTable{
		stripes: make([]sync.RWMutex, size),
		mask:    uint32(size - 1),
	}
}

func (t *LockTable) stripe(key string) *sync.RWMutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.stripes[h.Sum32()&t.mask]
}

// RLock acquires a shared lock for a chunk key and returns the unlock func.
func (t *LockTable) RLock(key string) func() {
	s := t.stripe(key)
	s.RLock()
	return s.RUnlock
}

// Lock acquires an exclusive lock for a chunk key and returns the unlock func.
func (t *LockTable) Lock(key string) func() {
	s := t.stripe(key)
	s.Lock()
	return s.Unlock
}
