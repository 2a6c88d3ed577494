// Package simrand provides the random source used for simulated failures,
// latency and driver synthesis. Callers receive it by injection so tests can
// pin outcomes.
package simrand

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the subset of *rand.Rand the simulator needs.
type Source interface {
	Intn(n int) int
}

// LockedSource wraps a seeded *rand.Rand for concurrent use.
type LockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a source seeded with seed, or with the current time when seed
// is zero.
func New(seed int64) *LockedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LockedSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *LockedSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Fixed always returns the same value, clamped to [0, n).
type Fixed int

func (f Fixed) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	v := int(f)
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// Percent reports whether a uniform draw out of 100 falls under pct.
func Percent(src Source, pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return src.Intn(100) < pct
}

// Between returns a duration drawn uniformly from [lo, hi].
func Between(src Source, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	step := int64(time.Millisecond)
	if span < step {
		return lo
	}
	return lo + time.Duration(src.Intn(int(span/step)+1))*time.Millisecond
}
