package countstore

import (
	"context"
	"sync"
	"time"
)

// In-process counters. Buckets for past periods are never evicted, so this is intended for tests and single-node development.
type MemCountStore struct {
	mu     sync.Mutex
	Counts map[string]int
	// clock used for period buckets; defaults to time.Now
	Now func() time.Time
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Counts: make(map[string]int),
		Now:    time.Now,
	}
}

func (s *MemCountStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counts[periodBucket(s.now(), name, val, period)], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		s.Counts[periodBucket(now, name, val, p)]++
	}
	return nil
}
