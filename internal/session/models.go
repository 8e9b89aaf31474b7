package session

import (
	"sync"
	"time"

	"hls-abr/internal/abr"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
)

// ID uniquely identifies an adaptation session.
type ID string

// NewID returns a random session identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// Throughput percentiles are tracked in kbit/s from 1 kbit/s to 100 Gbit/s.
const (
	histLowestKbps  = 1
	histHighestKbps = 100_000_000
	histSigFigs     = 2
)

// TelemetryReport is the player state pushed between segment requests.
// This also matches the JSON body of the telemetry endpoint.
type TelemetryReport struct {
	BufferLevel   *float64 `json:"buffer_level,omitempty"`
	BufferingTime *float64 `json:"buffering_time,omitempty"`
	Pause         bool     `json:"pause,omitempty"`
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID                 ID        `json:"session_id"`
	State              string    `json:"state"`
	Ended              bool      `json:"ended"`
	Index              int       `json:"index"`
	Bitrate            float64   `json:"bitrate"`
	Ladder             []float64 `json:"ladder,omitempty"`
	SmoothedThroughput float64   `json:"smoothed_throughput"`
	ThroughputP50      float64   `json:"throughput_p50"`
	ThroughputP95      float64   `json:"throughput_p95"`
	Samples            int64     `json:"throughput_samples"`
	Decisions          int       `json:"decisions"`
	Switches           int       `json:"switches"`
	Holds              int       `json:"holds"`
	Pauses             int       `json:"pauses"`
	CreatedAt          time.Time `json:"created_at"`
	LastSeen           time.Time `json:"last_seen"`
}

// Session is the in-memory state of one player's adaptation loop.
// mu serialises every event for the session.
type Session struct {
	ID ID

	mu        sync.Mutex
	ctrl      *abr.Controller
	playback  *abr.Playback
	tput      *hdrhistogram.Histogram
	decisions int
	switches  int
	holds     int
	ended     bool
	createdAt time.Time
	lastSeen  time.Time
}

func newSession(id ID, ctrl *abr.Controller, now time.Time) *Session {
	return &Session{
		ID:        id,
		ctrl:      ctrl,
		playback:  &abr.Playback{},
		tput:      hdrhistogram.New(histLowestKbps, histHighestKbps, histSigFigs),
		createdAt: now,
		lastSeen:  now,
	}
}

// Ended reports whether the session was ended.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// idleSince reports whether the session has seen no event since cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen.Before(cutoff)
}

// recordThroughput adds a sample in bits/s to the percentile histogram.
// Caller must hold s.mu.
func (s *Session) recordThroughput(bps float64) {
	kbps := int64(bps / 1000)
	if kbps < histLowestKbps {
		kbps = histLowestKbps
	}
	if kbps > histHighestKbps {
		kbps = histHighestKbps
	}
	_ = s.tput.RecordValue(kbps)
}

// statsLocked builds a Stats snapshot. Caller must hold s.mu.
func (s *Session) statsLocked() Stats {
	st := Stats{
		ID:        s.ID,
		State:     s.ctrl.State().String(),
		Ended:     s.ended,
		Index:     -1,
		Decisions: s.decisions,
		Switches:  s.switches,
		Holds:     s.holds,
		Pauses:    s.playback.Pauses(),
		Samples:   s.tput.TotalCount(),
		CreatedAt: s.createdAt,
		LastSeen:  s.lastSeen,
	}
	if rep, ok := s.ctrl.Current(); ok {
		st.Index, st.Bitrate = rep.Index, rep.Bitrate
		st.Ladder = s.ctrl.Ladder().Bitrates()
	}
	if v, ok := s.ctrl.Throughput().Smoothed(); ok {
		st.SmoothedThroughput = v
	}
	if st.Samples > 0 {
		st.ThroughputP50 = float64(s.tput.ValueAtQuantile(50)) * 1000
		st.ThroughputP95 = float64(s.tput.ValueAtQuantile(95)) * 1000
	}
	return st
}
