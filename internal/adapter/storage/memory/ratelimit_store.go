package memory

import (
	"context"
	"sync"
	"time"

	"crm-webhook-engine/internal/ratelimit"
)

var _ ratelimit.Store = (*RateLimitStore)(nil)

const pruneEvery = 256

type window struct {
	count     int64
	expiresAt time.Time
}

// RateLimitStore counts hits in process memory. Suitable only when a single
// API instance serves traffic.
type RateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*window
	ops     int
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{windows: make(map[string]*window)}
}

func (s *RateLimitStore) Incr(ctx context.Context, key string, ttl time.Duration, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops++
	if s.ops%pruneEvery == 0 {
		s.prune(now)
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(ttl)}
		s.windows[key] = w
	}
	w.count++
	return w.count, nil
}

func (s *RateLimitStore) prune(now time.Time) {
	for k, w := range s.windows {
		if !now.Before(w.expiresAt) {
			delete(s.windows, k)
		}
	}
}

// Len returns the number of tracked windows.
func (s *RateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
