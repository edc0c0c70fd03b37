package detect

import (
	"sync"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/clock"
)

// Suppressor remembers when each source was last reported and holds back
// repeats inside a time window. A zero window never suppresses.
type Suppressor struct {
	seen        map[string]time.Time
	window      time.Duration
	clock       clock.Clock
	mu          sync.Mutex
	lastCleanup time.Time
}

// NewSuppressor creates a suppressor for window.
func NewSuppressor(window time.Duration, clk clock.Clock) *Suppressor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Suppressor{
		seen:        make(map[string]time.Time),
		window:      window,
		clock:       clk,
		lastCleanup: clk.Now(),
	}
}

// Allow reports whether source should be emitted now, and records it if so.
func (s *Suppressor) Allow(source string) bool {
	if s == nil || s.window <= 0 {
		return true
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastCleanup) >= s.window {
		s.cleanup(now)
	}

	if last, ok := s.seen[source]; ok && now.Sub(last) < s.window {
		return false
	}
	s.seen[source] = now
	return true
}

// Len returns the number of sources currently remembered.
func (s *Suppressor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// cleanup removes expired entries. Callers hold s.mu.
func (s *Suppressor) cleanup(now time.Time) {
	cutoff := now.Add(-s.window)
	for source, ts := range s.seen {
		if ts.Before(cutoff) {
			delete(s.seen, source)
		}
	}
	s.lastCleanup = now
}
