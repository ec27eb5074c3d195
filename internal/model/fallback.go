package model

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Fallback produces synthetic risk scores when no model could be loaded.
// Roughly 70% of draws land in [0,0.3), 20% in [0.3,0.7) and 10% in [0.7,1).
type Fallback struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewFallback(seed uint64) *Fallback {
	return &Fallback{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomFallback seeds the generator from the runtime's random source.
func NewRandomFallback() *Fallback {
	return NewFallback(rand.Uint64())
}

func (f *Fallback) Draw() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.rng.Float64()
	switch {
	case r < 0.7:
		return f.rng.Float64() * 0.3
	case r < 0.9:
		return 0.3 + f.rng.Float64()*0.4
	default:
		return math.Min(0.7+f.rng.Float64()*0.3, math.Nextafter(1, 0))
	}
}
