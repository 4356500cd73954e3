package util

import (
	"math/rand"
	"sync"
	"time"
)

// syncSource serialises access to a rand.Source so a single *rand.Rand can be shared by the leader loop and
// concurrent allocation requests.
type syncSource struct {
	sync.Mutex
	source rand.Source64
}

func (s *syncSource) Int63() int64 {
	s.Lock()
	defer s.Unlock()
	return s.source.Int63()
}

func (s *syncSource) Uint64() uint64 {
	s.Lock()
	defer s.Unlock()
	return s.source.Uint64()
}

func (s *syncSource) Seed(seed int64) {
	s.Lock()
	defer s.Unlock()
	s.source.Seed(seed)
}

// NewThreadsafeRand returns a seeded *rand.Rand that is safe for concurrent use.
func NewThreadsafeRand(seed int64) *rand.Rand {
	return rand.New(&syncSource{source: rand.NewSource(seed).(rand.Source64)})
}

// Jitter returns a duration drawn uniformly from [base - spread, base + spread], never negative.
func Jitter(r *rand.Rand, base time.Duration, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	d := base - spread + time.Duration(r.Int63n(int64(2*spread)+1))
	if d < 0 {
		return 0
	}
	return d
}
