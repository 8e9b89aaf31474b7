package abr

import (
	"fmt"
	"time"

	"hls-abr/internal/fuzzy"
)

// State is the controller's position in the request/response cycle.
type State int

const (
	StateAwaitingManifest State = iota
	StateReady
	StateAwaitingResponse
	// StateFailed is entered on a protocol violation and never left.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingManifest:
		return "awaiting_manifest"
	case StateReady:
		return "ready"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Inferer is the fuzzy engine as seen by the controller.
type Inferer interface {
	Inputs() []string
	Infer(inputs map[string]float64) (fuzzy.Inference, error)
}

// Decision describes one segment request cycle.
type Decision struct {
	Segment   int
	At        time.Time
	ColdStart bool

	Inputs   map[string]float64
	Factor   float64
	Fallback bool

	AverageThroughput  float64
	SmoothedThroughput float64
	Desired            float64

	Previous        Representation
	Candidate       Representation
	Selected        Representation
	Hold            Hold
	PredictedBuffer float64

	Pauses int
}

// Switched reports whether the cycle changed representation.
func (d Decision) Switched() bool {
	return d.Selected.Index != d.Previous.Index
}

// Observer receives every decision. It must not call back into the controller.
type Observer func(Decision)

// Controller runs the adaptation loop for one streaming session. It owns all
// session state and is not safe for concurrent use.
type Controller struct {
	cfg      Config
	engine   Inferer
	needs    map[string]bool
	metric   BufferMetric
	observer Observer

	ladder   *Ladder
	selector *BitrateSelector
	tput     *ThroughputEstimator

	state        State
	current      int
	pendingStart time.Time
	segments     int
	err          error
}

var knownInputs = map[string]bool{
	InputBufferLevel:        true,
	InputBufferLevelDelta:   true,
	InputBufferingTime:      true,
	InputBufferingTimeDelta: true,
	InputRate:               true,
}

// NewController validates cfg and checks that engine only asks for inputs the
// controller can supply. observer may be nil.
func NewController(cfg Config, engine Inferer, observer Observer) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, invalid("no inference engine")
	}
	needs := make(map[string]bool)
	for _, name := range engine.Inputs() {
		if !knownInputs[name] {
			return nil, invalid("rule base input %q cannot be supplied", name)
		}
		needs[name] = true
	}
	metric, err := cfg.metricFor(engine.Inputs())
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:      cfg,
		engine:   engine,
		needs:    needs,
		metric:   metric,
		observer: observer,
		tput:     NewThroughputEstimator(cfg.EWMAAlpha, cfg.MaxThroughputSamples),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Err returns the error that failed the session, if any.
func (c *Controller) Err() error { return c.err }

// Ladder returns the quality ladder, nil before the manifest.
func (c *Controller) Ladder() *Ladder { return c.ladder }

// Current returns the representation that the next request would use.
func (c *Controller) Current() (Representation, bool) {
	if c.ladder == nil {
		return Representation{}, false
	}
	return c.ladder.At(c.current), true
}

// Throughput exposes the estimator for reporting.
func (c *Controller) Throughput() *ThroughputEstimator { return c.tput }

func (c *Controller) fail(format string, args ...any) error {
	c.err = fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
	c.state = StateFailed
	return c.err
}

// OnManifest builds the quality ladder and makes the controller ready.
// The session starts on the lowest representation.
func (c *Controller) OnManifest(bitrates []float64) error {
	if c.state == StateFailed {
		return c.err
	}
	if c.state != StateAwaitingManifest {
		return c.fail("manifest received in state %s", c.state)
	}
	ladder, err := NewLadder(bitrates)
	if err != nil {
		return err
	}
	sel, err := NewBitrateSelector(ladder, c.cfg.DangerThreshold, c.cfg.MaxBuffer)
	if err != nil {
		return err
	}
	c.ladder, c.selector, c.current = ladder, sel, 0
	c.state = StateReady
	return nil
}

// OnSegmentRequest decides the representation of the next segment and
// starts timing its download.
func (c *Controller) OnSegmentRequest(now time.Time, tel Telemetry) (Representation, error) {
	switch c.state {
	case StateFailed:
		return Representation{}, c.err
	case StateAwaitingManifest:
		return Representation{}, ErrNoManifest
	case StateAwaitingResponse:
		return Representation{}, c.fail("segment request while awaiting a response")
	}
	if c.ladder.Len() == 0 {
		return Representation{}, ErrEmptyLadder
	}

	c.segments++
	d := Decision{Segment: c.segments, At: now, Previous: c.ladder.At(c.current)}
	if tel != nil {
		d.Pauses = tel.Pauses()
	}
	if err := c.decide(tel, &d); err != nil {
		c.segments--
		return Representation{}, err
	}

	rep := c.ladder.At(c.current)
	d.Selected = rep
	c.pendingStart = now
	c.state = StateAwaitingResponse
	if c.observer != nil {
		c.observer(d)
	}
	return rep, nil
}

// decide updates c.current unless the session is still cold.
func (c *Controller) decide(tel Telemetry, d *Decision) error {
	d.ColdStart = true
	d.Candidate = d.Previous
	if tel == nil || c.tput.Len() == 0 {
		return nil
	}

	levelNow, levelPrev, levelOK := lastTwo(tel.BufferLevels())
	timeNow, timePrev, timeOK := lastTwo(tel.BufferingTimes())
	var bufNow, bufPrev float64
	var primaryOK bool
	if c.metric == MetricTime {
		bufNow, bufPrev, primaryOK = timeNow, timePrev, timeOK
	} else {
		bufNow, bufPrev, primaryOK = levelNow, levelPrev, levelOK
	}
	needLevel := c.needs[InputBufferLevel] || c.needs[InputBufferLevelDelta]
	needTime := c.needs[InputBufferingTime] || c.needs[InputBufferingTimeDelta]
	if !primaryOK || (needLevel && !levelOK) || (needTime && !timeOK) {
		return nil
	}

	c.tput.Prune(c.cfg.ThroughputWindow)
	avg, err := c.tput.Average()
	if err != nil {
		return err
	}
	smoothed := c.tput.Smooth(avg)

	inputs := make(map[string]float64, len(c.needs))
	if c.needs[InputBufferLevel] {
		inputs[InputBufferLevel] = levelNow
	}
	if c.needs[InputBufferLevelDelta] {
		inputs[InputBufferLevelDelta] = levelNow - levelPrev
	}
	if c.needs[InputBufferingTime] {
		inputs[InputBufferingTime] = timeNow
	}
	if c.needs[InputBufferingTimeDelta] {
		inputs[InputBufferingTimeDelta] = timeNow - timePrev
	}
	if c.needs[InputRate] {
		last, _ := c.tput.Last()
		inputs[InputRate] = last.Rate / c.ladder.At(c.current).Bitrate
	}

	res, err := c.engine.Infer(inputs)
	if err != nil {
		return fmt.Errorf("infer: %w", err)
	}
	desired := smoothed * res.Output
	sel := c.selector.Select(SelectInput{
		Desired:    desired,
		Current:    c.current,
		BufferNow:  bufNow,
		BufferPrev: bufPrev,
		Smoothed:   smoothed,
	})
	c.current = sel.Index

	d.ColdStart = false
	d.Inputs = inputs
	d.Factor = res.Output
	d.Fallback = res.Fallback
	d.AverageThroughput = avg
	d.SmoothedThroughput = smoothed
	d.Desired = desired
	d.Candidate = c.ladder.At(sel.Candidate)
	d.Hold = sel.Hold
	d.PredictedBuffer = sel.PredictedBuffer
	return nil
}

// OnSegmentResponse records the throughput of the segment requested last.
// A response without a pending request fails the session.
func (c *Controller) OnSegmentResponse(now time.Time, bits int64) (ThroughputSample, error) {
	switch c.state {
	case StateFailed:
		return ThroughputSample{}, c.err
	case StateAwaitingResponse:
	default:
		return ThroughputSample{}, c.fail("segment response without a pending request")
	}
	if bits < 0 {
		return ThroughputSample{}, fmt.Errorf("segment size must not be negative, got %d", bits)
	}
	c.state = StateReady
	elapsed := now.Sub(c.pendingStart).Seconds()
	if elapsed <= 0 {
		// No usable timing; the segment still completes the cycle.
		return ThroughputSample{}, nil
	}
	s := ThroughputSample{Rate: float64(bits) / elapsed, At: now}
	c.tput.Record(s.Rate, s.At)
	return s, nil
}
