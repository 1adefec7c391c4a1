// Package hash implements an in-memory extendible hash table: a dynamic
// map whose directory doubles and whose buckets split locally, so a full
// bucket never forces a whole-table rehash. The buffer pool uses it as the
// page table; it also stands alone as a generic container.
package hash

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashFunc maps a key to the bits the directory indexes by.
type HashFunc[K comparable] func(K) uint64

// IntOf hashes integer keys by their value, so the directory discriminates
// on the key's own low bits.
func IntOf[K ~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64](key K) uint64 {
	return uint64(key)
}

// StringOf hashes string keys with xxhash.
func StringOf(key string) uint64 {
	return xxhash.Sum64String(key)
}

// BytesOf hashes a fixed integer key through xxhash, for callers that want
// scrambled rather than identity bits.
func BytesOf[K ~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64](key K) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return xxhash.Sum64(buf[:])
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// bucket holds up to bucketSize entries and discriminates on localDepth
// low-order hash bits. Several directory slots may share one bucket while
// its local depth is below the table's global depth.
type bucket[K comparable, V any] struct {
	entries    []entry[K, V]
	localDepth int
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// insert appends or overwrites. It reports false when the bucket is full
// and the key is not already present.
func (b *bucket[K, V]) insert(key K, value V, capacity int) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries[i].value = value
			return true
		}
	}
	if len(b.entries) >= capacity {
		return false
	}
	b.entries = append(b.entries, entry[K, V]{key: key, value: value})
	return true
}

// ExtendibleHashTable is a latch-protected extendible hash map. Writers
// take the latch exclusively; readers share it.
type ExtendibleHashTable[K comparable, V any] struct {
	mu          sync.RWMutex
	globalDepth int
	bucketSize  int
	numBuckets  int
	dir         []*bucket[K, V]
	hash        HashFunc[K]
}

// NewExtendibleHashTable creates a table whose buckets hold bucketSize
// entries, indexed by the low bits of hash(key).
func NewExtendibleHashTable[K comparable, V any](bucketSize int, hash HashFunc[K]) *ExtendibleHashTable[K, V] {
	if bucketSize <= 0 {
		panic(fmt.Sprintf("extendible hash table: invalid bucket size %d", bucketSize))
	}
	if hash == nil {
		panic("extendible hash table: nil hash function")
	}
	return &ExtendibleHashTable[K, V]{
		bucketSize: bucketSize,
		numBuckets: 1,
		dir:        []*bucket[K, V]{{localDepth: 0}},
		hash:       hash,
	}
}

// indexOf returns the directory slot for key under the current global
// depth. Callers must hold the latch.
func (t *ExtendibleHashTable[K, V]) indexOf(key K) uint64 {
	mask := uint64(1)<<t.globalDepth - 1
	return t.hash(key) & mask
}

// Find looks up key and returns its value.
func (t *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dir[t.indexOf(key)].find(key)
}

// Remove deletes key, reporting whether it was present. Buckets are never
// coalesced on removal.
func (t *ExtendibleHashTable[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].remove(key)
}

// Insert stores value under key, overwriting any previous value. A full
// bucket splits, doubling the directory when its local depth has caught up
// with the global depth; the insert then retries, splitting again if the
// redistribution left the target bucket full.
func (t *ExtendibleHashTable[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := t.indexOf(key)
		target := t.dir[idx]
		if target.insert(key, value, t.bucketSize) {
			return
		}

		if target.localDepth == t.globalDepth {
			t.growDirectory()
		}
		t.splitBucket(target)
	}
}

// growDirectory doubles the directory; each new slot aliases its lower
// twin. Callers must hold the latch exclusively.
func (t *ExtendibleHashTable[K, V]) growDirectory() {
	t.globalDepth++
	old := t.dir
	t.dir = make([]*bucket[K, V], len(old)*2)
	copy(t.dir, old)
	copy(t.dir[len(old):], old)
}

// splitBucket replaces old with two buckets of local depth old+1, rewires
// every aliasing directory slot by the newly discriminated bit, and
// redistributes old's entries. Callers must hold the latch exclusively.
func (t *ExtendibleHashTable[K, V]) splitBucket(old *bucket[K, V]) {
	depth := old.localDepth
	zero := &bucket[K, V]{localDepth: depth + 1}
	one := &bucket[K, V]{localDepth: depth + 1}

	for i, b := range t.dir {
		if b != old {
			continue
		}
		if (uint64(i)>>depth)&1 == 0 {
			t.dir[i] = zero
		} else {
			t.dir[i] = one
		}
	}

	for _, e := range old.entries {
		dest := t.dir[t.indexOf(e.key)]
		dest.entries = append(dest.entries, e)
	}
	t.numBuckets++
}

// GetGlobalDepth returns the number of low-order hash bits the directory
// indexes by.
func (t *ExtendibleHashTable[K, V]) GetGlobalDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.globalDepth
}

// GetLocalDepth returns the local depth of the bucket behind directory
// slot dirIndex.
func (t *ExtendibleHashTable[K, V]) GetLocalDepth(dirIndex int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dir[dirIndex].localDepth
}

// GetNumBuckets returns the number of distinct buckets in the table.
func (t *ExtendibleHashTable[K, V]) GetNumBuckets() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numBuckets
}
