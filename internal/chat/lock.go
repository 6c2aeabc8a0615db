package chat

import (
	"hash/fnv"
	"sync"
)

// keyedMutex serializes work per key over a fixed set of stripes. Unrelated
// keys may share a stripe.
type keyedMutex struct {
	stripes []sync.Mutex
}

func newKeyedMutex(n int) *keyedMutex {
	return &keyedMutex{stripes: make([]sync.Mutex, n)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	mu.Lock()
	return mu.Unlock
}
