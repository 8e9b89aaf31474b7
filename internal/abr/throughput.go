package abr

import (
	"sort"
	"time"
)

// ThroughputSample is the measured download rate of one segment.
type ThroughputSample struct {
	Rate float64   // bits per second
	At   time.Time // when the download completed
}

// ThroughputEstimator keeps a time-windowed set of download rates and an
// exponentially smoothed estimate. It is not safe for concurrent use.
type ThroughputEstimator struct {
	samples    []ThroughputSample
	maxSamples int
	alpha      float64

	smoothed    float64
	hasSmoothed bool
}

// NewThroughputEstimator returns an estimator whose EWMA gives weight alpha to
// history and 1-alpha to each new average. maxSamples > 0 additionally keeps
// only the most recent maxSamples samples.
func NewThroughputEstimator(alpha float64, maxSamples int) *ThroughputEstimator {
	return &ThroughputEstimator{alpha: alpha, maxSamples: maxSamples}
}

// Record adds a sample, keeping samples ordered by time.
func (e *ThroughputEstimator) Record(rate float64, at time.Time) {
	s := ThroughputSample{Rate: rate, At: at}
	n := len(e.samples)
	if n == 0 || !at.Before(e.samples[n-1].At) {
		e.samples = append(e.samples, s)
	} else {
		i := sort.Search(n, func(i int) bool { return e.samples[i].At.After(at) })
		e.samples = append(e.samples, ThroughputSample{})
		copy(e.samples[i+1:], e.samples[i:])
		e.samples[i] = s
	}
	if e.maxSamples > 0 && len(e.samples) > e.maxSamples {
		e.samples = append(e.samples[:0], e.samples[len(e.samples)-e.maxSamples:]...)
	}
}

// Prune evicts samples older than window relative to the newest sample and
// returns how many were dropped. The newest sample is never evicted.
func (e *ThroughputEstimator) Prune(window time.Duration) int {
	n := len(e.samples)
	if n == 0 {
		return 0
	}
	newest := e.samples[n-1].At
	drop := 0
	for drop < n-1 && newest.Sub(e.samples[drop].At) > window {
		drop++
	}
	if drop > 0 {
		e.samples = append(e.samples[:0], e.samples[drop:]...)
	}
	return drop
}

// Average returns the arithmetic mean rate of the window.
func (e *ThroughputEstimator) Average() (float64, error) {
	if len(e.samples) == 0 {
		return 0, ErrEmptyWindow
	}
	var sum float64
	for _, s := range e.samples {
		sum += s.Rate
	}
	return sum / float64(len(e.samples)), nil
}

// Smooth folds avg into the EWMA and returns the new estimate. The first call
// seeds the estimate with avg.
func (e *ThroughputEstimator) Smooth(avg float64) float64 {
	if !e.hasSmoothed {
		e.smoothed = avg
		e.hasSmoothed = true
		return e.smoothed
	}
	e.smoothed = e.alpha*e.smoothed + (1-e.alpha)*avg
	return e.smoothed
}

// Smoothed returns the current estimate, false before the first Smooth.
func (e *ThroughputEstimator) Smoothed() (float64, bool) {
	return e.smoothed, e.hasSmoothed
}

// Last returns the most recent sample.
func (e *ThroughputEstimator) Last() (ThroughputSample, bool) {
	if len(e.samples) == 0 {
		return ThroughputSample{}, false
	}
	return e.samples[len(e.samples)-1], true
}

// Len returns the number of samples in the window.
func (e *ThroughputEstimator) Len() int { return len(e.samples) }

// Samples returns a copy of the window.
func (e *ThroughputEstimator) Samples() []ThroughputSample {
	return append([]ThroughputSample(nil), e.samples...)
}
