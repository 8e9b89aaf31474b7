package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"hls-abr/internal/abr"
	"hls-abr/internal/platform/metrics"
)

// Service hosts one abr.Controller per session and translates session
// events into controller calls. All sessions share one immutable engine.
type Service struct {
	repo    Repository
	cfg     abr.Config
	engine  abr.Inferer
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService returns a Service. m may be nil to disable metrics (e.g. in tests).
func NewService(repo Repository, cfg abr.Config, engine abr.Inferer, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{repo: repo, cfg: cfg, engine: engine, log: log, metrics: m, now: time.Now}
}

// Create starts a new session waiting for its manifest.
func (s *Service) Create() (ID, error) {
	id := NewID()
	var sess *Session
	ctrl, err := abr.NewController(s.cfg, s.engine, func(d abr.Decision) { s.observe(sess, d) })
	if err != nil {
		return "", err
	}
	sess = newSession(id, ctrl, s.now())
	if err := s.repo.Add(sess); err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.IncSessionsCreated()
	}
	s.log.Info("session created", slog.String("session_id", string(id)))
	return id, nil
}

// open looks up a live session and locks it. The caller must unlock.
func (s *Service) open(id ID) (*Session, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return nil, ErrSessionEnded
	}
	sess.lastSeen = s.now()
	return sess, nil
}

// SetManifest builds the session's quality ladder.
func (s *Service) SetManifest(id ID, bitrates []float64) error {
	sess, err := s.open(id)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	before := sess.ctrl.State()
	if err := sess.ctrl.OnManifest(bitrates); err != nil {
		if errors.Is(err, abr.ErrEmptyLadder) || errors.Is(err, abr.ErrInvalidLadder) {
			return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
		return s.controllerErr(sess, before, err)
	}
	s.log.Info("manifest loaded",
		slog.String("session_id", string(id)),
		slog.Int("representations", len(bitrates)))
	return nil
}

// ReportTelemetry appends player state to the session's series.
func (s *Service) ReportTelemetry(id ID, rep TelemetryReport) error {
	sess, err := s.open(id)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	if rep.BufferLevel != nil {
		sess.playback.AddBufferLevel(*rep.BufferLevel)
	}
	if rep.BufferingTime != nil {
		sess.playback.AddBufferingTime(*rep.BufferingTime)
	}
	if rep.Pause {
		sess.playback.AddPause()
		s.log.Info("playback paused",
			slog.String("session_id", string(id)),
			slog.Int("pauses", sess.playback.Pauses()))
	}
	return nil
}

// RequestSegment chooses the representation for the host's next segment.
func (s *Service) RequestSegment(id ID) (abr.Representation, error) {
	sess, err := s.open(id)
	if err != nil {
		return abr.Representation{}, err
	}
	defer sess.mu.Unlock()

	before := sess.ctrl.State()
	rep, err := sess.ctrl.OnSegmentRequest(s.now(), sess.playback)
	if err != nil {
		return abr.Representation{}, s.controllerErr(sess, before, err)
	}
	return rep, nil
}

// CompleteSegment reports the size in bits of the segment requested last.
func (s *Service) CompleteSegment(id ID, bits int64) error {
	sess, err := s.open(id)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	before := sess.ctrl.State()
	sample, err := sess.ctrl.OnSegmentResponse(s.now(), bits)
	if err != nil {
		return s.controllerErr(sess, before, err)
	}
	if sample.Rate > 0 {
		sess.recordThroughput(sample.Rate)
		if s.metrics != nil {
			s.metrics.ObserveThroughput(sample.Rate)
		}
	}
	s.log.Debug("segment downloaded",
		slog.String("session_id", string(id)),
		slog.Int64("bits", bits),
		slog.Float64("throughput", sample.Rate))
	return nil
}

// Stats returns a snapshot of the session, ended or not.
func (s *Service) Stats(id ID) (Stats, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return Stats{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.statsLocked(), nil
}

// Manifest renders the session's ladder as a master playlist, current
// selection first.
func (s *Service) Manifest(id ID, uriPrefix string) (string, error) {
	st, err := s.Stats(id)
	if err != nil {
		return "", err
	}
	if len(st.Ladder) == 0 {
		return "", abr.ErrNoManifest
	}
	return BuildMasterPlaylist(st.Ladder, st.Index, uriPrefix), nil
}

// End ends the session; it is removed at the next reap.
func (s *Service) End(id ID) error {
	if err := s.repo.End(id); err != nil {
		if errors.Is(err, ErrSessionEnded) {
			return nil
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.IncSessionsEnded(1)
	}
	s.log.Info("session ended", slog.String("session_id", string(id)))
	return nil
}

// ReapIdle drops sessions with no event for idle and returns how many.
func (s *Service) ReapIdle(idle time.Duration) int {
	reaped := s.repo.Reap(s.now(), idle)
	if len(reaped) == 0 {
		return 0
	}
	if s.metrics != nil {
		s.metrics.IncSessionsEnded(len(reaped))
	}
	for _, id := range reaped {
		s.log.Info("session reaped", slog.String("session_id", string(id)), slog.Duration("idle", idle))
	}
	return len(reaped)
}

// ActiveSessions returns the number of sessions not yet ended.
func (s *Service) ActiveSessions() int {
	return s.repo.ActiveSessionCount()
}

// controllerErr logs the error that moved the session into the failed
// state. Caller must hold sess.mu.
func (s *Service) controllerErr(sess *Session, before abr.State, err error) error {
	if before != abr.StateFailed && sess.ctrl.State() == abr.StateFailed {
		s.log.Warn("session failed",
			slog.String("session_id", string(sess.ID)),
			slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.IncProtocolErrors()
		}
	}
	return err
}

// observe is the controller's Observer. It runs under sess.mu.
func (s *Service) observe(sess *Session, d abr.Decision) {
	sess.decisions++
	kind := "fuzzy"
	switch {
	case d.ColdStart:
		kind = "cold_start"
	case d.Fallback:
		kind = "fallback"
	}

	attrs := []slog.Attr{
		slog.String("session_id", string(sess.ID)),
		slog.Int("segment", d.Segment),
		slog.String("kind", kind),
		slog.Int("index", d.Selected.Index),
		slog.Float64("bitrate", d.Selected.Bitrate),
		slog.Int("pauses", d.Pauses),
	}
	if !d.ColdStart {
		attrs = append(attrs,
			slog.Any("inputs", d.Inputs),
			slog.Float64("factor", round(d.Factor)),
			slog.Float64("avg_throughput", d.AverageThroughput),
			slog.Float64("smoothed_throughput", d.SmoothedThroughput),
			slog.Float64("desired", d.Desired),
			slog.Int("candidate", d.Candidate.Index))
	}
	if d.Hold != abr.HoldNone {
		sess.holds++
		attrs = append(attrs,
			slog.String("hold", d.Hold.String()),
			slog.Float64("predicted_buffer", d.PredictedBuffer))
		if s.metrics != nil {
			s.metrics.IncHold(d.Hold.String())
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(kind, d.Factor, d.Selected.Bitrate)
	}

	if !d.Switched() {
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "segment decision", attrs...)
		return
	}
	sess.switches++
	direction := "up"
	if d.Selected.Index < d.Previous.Index {
		direction = "down"
	}
	if s.metrics != nil {
		s.metrics.IncSwitch(direction)
	}
	attrs = append(attrs,
		slog.String("direction", direction),
		slog.Float64("previous_bitrate", d.Previous.Bitrate))
	s.log.LogAttrs(context.Background(), slog.LevelInfo, "representation switch", attrs...)
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
