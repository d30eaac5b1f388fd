// Package breaker implements per-dependency circuit breakers shared across
// run execution contexts. State is kept in atomics so no run ever blocks on
// another run's breaker check.
package breaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Breaker tracks consecutive transient failures against one downstream
// dependency. Once the threshold is exceeded it fails fast for a cooldown
// window, then allows a probe.
type Breaker struct {
	name      string
	threshold int64
	cooldown  time.Duration

	failures atomic.Int64
	openedAt atomic.Int64 // unix nanos; zero when closed
	now      func() time.Time
}

// New constructs a breaker for a named dependency.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: int64(threshold),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open inside
// its cooldown window it returns a dependency-unavailable error without
// touching the network.
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	opened := b.openedAt.Load()
	if opened == 0 {
		return nil
	}
	if b.now().Sub(time.Unix(0, opened)) >= b.cooldown {
		// Cooldown elapsed: let one caller probe. Failure re-opens the window.
		return nil
	}
	return services.Wrap(services.ErrUnavailable, b.name, "circuit",
		fmt.Sprintf("open after %d consecutive failures", b.failures.Load()), nil)
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.failures.Store(0)
	b.openedAt.Store(0)
}

// Failure records a transient failure; crossing the threshold opens the
// breaker for the cooldown window.
func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	if b.failures.Add(1) >= b.threshold {
		b.openedAt.Store(b.now().UnixNano())
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	return b.Allow() != nil
}

// Set is a collection of breakers keyed by dependency name, shared across all
// runs within a worker process.
type Set struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet constructs an empty breaker set with shared thresholds.
func NewSet(threshold int, cooldown time.Duration) *Set {
	return &Set{
		threshold: threshold,
		cooldown:  cooldown,
		breakers:  make(map[string]*Breaker),
	}
}

// For returns the breaker for a dependency, creating it on first use.
// An empty dependency name means the stage has no external dependency and
// gets a nil breaker, which all methods treat as always-closed.
func (s *Set) For(dependency string) *Breaker {
	if dependency == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[dependency]
	if !ok {
		b = New(dependency, s.threshold, s.cooldown)
		s.breakers[dependency] = b
	}
	return b
}
