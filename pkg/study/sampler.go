package study

import (
	"math/rand/v2"
	"sync"
)

// Sampler draws parameter values for trials. The storage layer never calls
// one; samplers run purely client-side inside the optimization loop.
type Sampler interface {
	// Sample returns a value for the named parameter inside dist's range.
	Sample(name string, dist Distribution) float64
}

// RandomSampler samples independently and uniformly from each parameter's
// distribution. It is safe for concurrent use by multiple workers.
type RandomSampler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomSampler creates a RandomSampler with the given seed. A fixed
// seed makes optimization runs reproducible in tests.
func NewRandomSampler(seed uint64) *RandomSampler {
	return &RandomSampler{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Sample implements Sampler.
func (s *RandomSampler) Sample(_ string, dist Distribution) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := dist.Low + s.rnd.Float64()*(dist.High-dist.Low)
	if dist.Step > 0 {
		steps := float64(int64((v - dist.Low) / dist.Step))
		v = dist.Low + steps*dist.Step
	}
	return v
}
