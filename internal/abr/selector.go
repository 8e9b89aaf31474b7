package abr

import (
	"math"
	"sort"
)

// Hold records why the selector kept the current representation.
type Hold int

const (
	HoldNone Hold = iota
	// HoldUpgradeDanger: an upgrade was blocked because the previous buffer
	// sample was at or below the danger threshold.
	HoldUpgradeDanger
	// HoldDowngradeSafe: a downgrade was blocked because the predicted buffer
	// stays at or above half the maximum.
	HoldDowngradeSafe
)

func (h Hold) String() string {
	switch h {
	case HoldUpgradeDanger:
		return "upgrade_danger"
	case HoldDowngradeSafe:
		return "downgrade_safe"
	default:
		return "none"
	}
}

// BitrateSelector maps a desired bitrate to a ladder index and damps
// switches with a buffer-based hysteresis policy.
type BitrateSelector struct {
	ladder    *Ladder
	danger    float64
	maxBuffer float64
}

// NewBitrateSelector returns a selector over ladder.
func NewBitrateSelector(ladder *Ladder, danger, maxBuffer float64) (*BitrateSelector, error) {
	if ladder.Len() == 0 {
		return nil, ErrEmptyLadder
	}
	return &BitrateSelector{ladder: ladder, danger: danger, maxBuffer: maxBuffer}, nil
}

// Rank returns the greatest index whose bitrate does not exceed desired, or 0
// when desired is below the lowest rung.
func (s *BitrateSelector) Rank(desired float64) int {
	if math.IsNaN(desired) {
		return 0
	}
	n := s.ladder.Len()
	i := sort.Search(n, func(i int) bool { return s.ladder.reps[i].Bitrate > desired })
	if i == 0 {
		return 0
	}
	return i - 1
}

// SelectInput carries one cycle's selection inputs.
type SelectInput struct {
	Desired    float64
	Current    int
	BufferNow  float64
	BufferPrev float64
	Smoothed   float64
}

// Selection is the outcome of Select.
type Selection struct {
	Index     int
	Candidate int
	Hold      Hold
	// PredictedBuffer is only set when a downgrade was considered.
	PredictedBuffer float64
}

// Select ranks in.Desired and applies hysteresis:
//   - an upgrade is refused while the previous buffer sample is at or below
//     the danger threshold;
//   - a downgrade is refused when buffer_now + smoothed/candidate_bitrate - 1
//     is still at least half the maximum buffer.
func (s *BitrateSelector) Select(in SelectInput) Selection {
	cand := s.Rank(in.Desired)
	sel := Selection{Index: cand, Candidate: cand}
	switch {
	case cand > in.Current && in.BufferPrev <= s.danger:
		sel.Index, sel.Hold = in.Current, HoldUpgradeDanger
	case cand < in.Current:
		sel.PredictedBuffer = in.BufferNow + in.Smoothed/s.ladder.At(cand).Bitrate - 1
		if sel.PredictedBuffer >= s.maxBuffer/2 {
			sel.Index, sel.Hold = in.Current, HoldDowngradeSafe
		}
	}
	return sel
}
