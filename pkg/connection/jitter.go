package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Jitter bounds added after every connectivity check and observe renewal.
const (
	DefaultJitterMin = 500 * time.Millisecond
	DefaultJitterMax = 5 * time.Second
)

// Jitter produces random delays in [min, max).
type Jitter struct {
	mu       sync.Mutex
	min, max time.Duration
	rng      *rand.Rand
}

// NewJitter creates a jitter source with the default bounds.
func NewJitter() *Jitter {
	return NewJitterWithBounds(DefaultJitterMin, DefaultJitterMax)
}

// NewJitterWithBounds creates a jitter source with custom bounds.
// Bounds are swapped if min > max.
func NewJitterWithBounds(min, max time.Duration) *Jitter {
	return NewJitterWithSource(min, max, rand.NewSource(time.Now().UnixNano()))
}

// NewJitterWithSource creates a jitter source drawing from src.
func NewJitterWithSource(min, max time.Duration, src rand.Source) *Jitter {
	if max < min {
		min, max = max, min
	}
	if min < 0 {
		min = 0
	}
	return &Jitter{min: min, max: max, rng: rand.New(src)}
}

// Next returns the next random delay.
func (j *Jitter) Next() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	span := j.max - j.min
	if span <= 0 {
		return j.min
	}
	return j.min + time.Duration(j.rng.Int63n(int64(span)))
}
