package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// MemoryStore keeps fixed-window counters in process.
type MemoryStore struct {
	shards [shardCount]*counterShard
	now    func() time.Time
}

type counterShard struct {
	mu       sync.Mutex
	counters map[string]*window
}

type window struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &counterShard{counters: make(map[string]*window)}
	}
	return s
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) shard(key string) *counterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int64, error) {
	now := s.now()
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.counters[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(length)}
		sh.counters[key] = w
	}
	w.count++
	return w.count, nil
}

// Sweep evicts expired windows and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, w := range sh.counters {
			if !now.Before(w.expiresAt) {
				delete(sh.counters, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
