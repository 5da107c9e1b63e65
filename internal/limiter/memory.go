package limiter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count       int
	resetTime   time.Time
	lastRequest time.Time
}

// MemoryStore is the default single-process store: a mutex-guarded
// identifier table with a background sweep that drops closed windows so
// memory stays bounded under many distinct client IPs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	once sync.Once

	// now is swappable for tests.
	now func() time.Time
}

const sweepInterval = time.Minute

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) Check(_ context.Context, identifier string, cfg Config) (Result, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[identifier]
	if !ok || e.resetTime.Before(now) {
		// First request of a fresh window, or the previous window closed.
		s.entries[identifier] = &entry{
			count:       1,
			resetTime:   now.Add(cfg.Window),
			lastRequest: now,
		}
		return Result{
			Allowed:   true,
			Remaining: cfg.MaxRequests - 1,
			ResetTime: now.Add(cfg.Window),
		}, nil
	}

	if e.count >= cfg.MaxRequests {
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetTime: e.resetTime,
		}, nil
	}

	e.count++
	e.lastRequest = now
	return Result{
		Allowed:   true,
		Remaining: cfg.MaxRequests - e.count,
		ResetTime: e.resetTime,
	}, nil
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) sweepOnce() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.resetTime.Before(now) {
			delete(s.entries, id)
		}
	}
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Reset drops the entry for an identifier (test hook and admin use).
func (s *MemoryStore) Reset(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, identifier)
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
