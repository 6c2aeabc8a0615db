package presence

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 32

// Memory is an in-process Registry. Identities are spread over shards so that
// connects and disconnects of unrelated identities never contend on one lock.
type Memory struct {
	shards [shardCount]*memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]map[string]struct{}
}

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]map[string]struct{})}
	}
	return m
}

func (m *Memory) shard(identityID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityID))
	return m.shards[h.Sum32()%shardCount]
}

func (m *Memory) AddConnection(_ context.Context, identityID, connectionID string) (int, error) {
	if err := validateIDs(identityID, connectionID); err != nil {
		return 0, err
	}
	s := m.shard(identityID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.entries[identityID]
	if !ok {
		set = make(map[string]struct{})
		s.entries[identityID] = set
	}
	set[connectionID] = struct{}{}
	return len(set), nil
}

func (m *Memory) RemoveConnection(_ context.Context, identityID, connectionID string) (int, error) {
	if err := validateIDs(identityID, connectionID); err != nil {
		return 0, err
	}
	s := m.shard(identityID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.entries[identityID]
	if !ok {
		return 0, nil
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(s.entries, identityID)
		return 0, nil
	}
	return len(set), nil
}

func (m *Memory) IsOnline(_ context.Context, identityID string) (bool, error) {
	s := m.shard(identityID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[identityID]) > 0, nil
}

func (m *Memory) Touch(context.Context, string) error {
	return nil
}

// Len returns the number of online identities.
func (m *Memory) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}
