package store

import "sync"

// keyLock serializes writes per normalized email so that authority ordering
// and blacklist stickiness are applied atomically. Striped to bound memory:
// two emails may share a stripe, which only costs contention, never safety.
type keyLock struct {
	stripes []sync.Mutex
}

func newKeyLock(n int) *keyLock {
	if n <= 0 {
		n = 64
	}
	return &keyLock{stripes: make([]sync.Mutex, n)}
}

func (k *keyLock) lock(key string) *sync.Mutex {
	mu := &k.stripes[fnv32(key)%uint32(len(k.stripes))]
	mu.Lock()
	return mu
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
