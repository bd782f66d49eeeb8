package engine

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// keyLocks serializes work per string key using a fixed set of striped
// mutexes. Two keys may share a stripe, which over-serializes but never
// under-serializes.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the stripe for key and returns its unlock func.
func (k *keyLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	m := &k.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
