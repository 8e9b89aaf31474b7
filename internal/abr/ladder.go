// Package abr holds the adaptive-bitrate control loop: the quality ladder,
// throughput estimation, hysteresis-damped bitrate selection and the
// per-session controller that drives the fuzzy engine.
package abr

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyLadder is returned when a decision is needed but no
	// representations are known.
	ErrEmptyLadder = errors.New("quality ladder is empty")

	// ErrInvalidLadder is returned for non-positive, non-finite, duplicate or
	// unordered bitrates.
	ErrInvalidLadder = errors.New("quality ladder is invalid")

	// ErrEmptyWindow is returned by Average when no throughput samples remain.
	ErrEmptyWindow = errors.New("throughput window is empty")

	// ErrProtocol is returned when segment events do not alternate
	// request/response. It is fatal to the session.
	ErrProtocol = errors.New("segment event protocol violation")

	// ErrNoManifest is returned for a segment request before the ladder is known.
	ErrNoManifest = errors.New("manifest not received")

	// ErrInvalidConfig is returned by Config.Validate and NewController.
	ErrInvalidConfig = errors.New("invalid adaptation config")
)

// Representation is one encoded quality level.
type Representation struct {
	Index   int     `json:"index"`
	Bitrate float64 `json:"bitrate"`
}

// Ladder is the immutable, strictly ascending list of representations.
type Ladder struct {
	reps []Representation
}

// NewLadder copies and validates bitrates. They must be positive, finite and
// strictly increasing.
func NewLadder(bitrates []float64) (*Ladder, error) {
	if len(bitrates) == 0 {
		return nil, ErrEmptyLadder
	}
	reps := make([]Representation, len(bitrates))
	for i, b := range bitrates {
		if !(b > 0) || math.IsInf(b, 0) {
			return nil, fmt.Errorf("%w: bitrate %d is %g", ErrInvalidLadder, i, b)
		}
		if i > 0 && b <= bitrates[i-1] {
			return nil, fmt.Errorf("%w: bitrate %g at %d does not exceed %g", ErrInvalidLadder, b, i, bitrates[i-1])
		}
		reps[i] = Representation{Index: i, Bitrate: b}
	}
	return &Ladder{reps: reps}, nil
}

// Len returns the number of representations.
func (l *Ladder) Len() int {
	if l == nil {
		return 0
	}
	return len(l.reps)
}

// At returns the representation at index i. It panics when i is out of range.
func (l *Ladder) At(i int) Representation {
	return l.reps[i]
}

// Bitrates returns a copy of the ladder bitrates.
func (l *Ladder) Bitrates() []float64 {
	out := make([]float64, len(l.reps))
	for i, r := range l.reps {
		out[i] = r.Bitrate
	}
	return out
}
