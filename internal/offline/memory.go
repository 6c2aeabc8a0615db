package offline

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with per-entry retention.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string][]entry
	ttl    time.Duration
	maxLen int
	now    func() time.Time
}

type entry struct {
	event    []byte
	storedAt time.Time
}

func NewMemoryStore(ttl time.Duration, maxLen int) *MemoryStore {
	return &MemoryStore{
		queues: make(map[string][]entry),
		ttl:    ttl,
		maxLen: maxLen,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Push(_ context.Context, identityID string, event []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	queue := append(s.live(s.queues[identityID], now), entry{event: event, storedAt: now})
	dropped := 0
	if s.maxLen > 0 && len(queue) > s.maxLen {
		dropped = len(queue) - s.maxLen
		queue = append([]entry(nil), queue[dropped:]...)
	}
	s.queues[identityID] = queue
	return dropped, nil
}

func (s *MemoryStore) PopAll(_ context.Context, identityID string) ([][]byte, error) {
	s.mu.Lock()
	queue := s.queues[identityID]
	delete(s.queues, identityID)
	s.mu.Unlock()

	queue = s.live(queue, s.now())
	events := make([][]byte, 0, len(queue))
	for _, e := range queue {
		events = append(events, e.event)
	}
	return events, nil
}

func (s *MemoryStore) PushFront(_ context.Context, identityID string, events [][]byte) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	head := make([]entry, 0, len(events)+len(s.queues[identityID]))
	for _, event := range events {
		head = append(head, entry{event: event, storedAt: now})
	}
	queue := append(head, s.live(s.queues[identityID], now)...)
	if s.maxLen > 0 && len(queue) > s.maxLen {
		queue = queue[len(queue)-s.maxLen:]
	}
	s.queues[identityID] = queue
	return nil
}

// Len returns the number of pending events for identityID.
func (s *MemoryStore) Len(identityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live(s.queues[identityID], s.now()))
}

func (s *MemoryStore) live(queue []entry, now time.Time) []entry {
	if s.ttl <= 0 {
		return queue
	}
	i := 0
	for i < len(queue) && now.Sub(queue[i].storedAt) >= s.ttl {
		i++
	}
	return queue[i:]
}
