package abr

import (
	"fmt"
	"math"
	"time"

	"hls-abr/internal/fuzzy"
)

// Config is the full tuning surface of a controller. DefaultConfig is the
// only place defaults live.
type Config struct {
	// TargetBufferTime is the buffering time (seconds) the buffer-time terms
	// are centred on.
	TargetBufferTime float64
	// ThroughputWindow bounds the age of samples relative to the newest.
	ThroughputWindow time.Duration
	// MaxThroughputSamples keeps only the last N samples when > 0.
	MaxThroughputSamples int
	// EWMAAlpha is the weight of history in the smoothed throughput.
	EWMAAlpha float64
	// DangerThreshold is the buffer level at or below which upgrades are held.
	DangerThreshold float64
	// MaxBuffer is the player's maximum buffer size.
	MaxBuffer float64
	// Resolution is the output discretisation step of the fuzzy engine.
	Resolution float64
	// RuleBase names a preset; ignored when RuleBaseFile is set.
	RuleBase string
	// RuleBaseFile is a YAML or TOML rule base.
	RuleBaseFile string
	// BufferMetric picks the series used for hysteresis and cold start.
	// Empty picks the series the rule base reads.
	BufferMetric BufferMetric
}

// DefaultConfig returns the tuning used by the buffer-level rule base.
func DefaultConfig() Config {
	return Config{
		TargetBufferTime: 35,
		ThroughputWindow: 5 * time.Second,
		EWMAAlpha:        0.2,
		DangerThreshold:  15,
		MaxBuffer:        60,
		Resolution:       0.01,
		RuleBase:         PresetBufferLevel,
	}
}

// minResolution keeps the preset factor universe under fuzzy.MaxSamples points.
const minResolution = 2.5 / fuzzy.MaxSamples

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks ranges and the consistency between thresholds.
func (c Config) Validate() error {
	switch {
	case !(c.TargetBufferTime > 0) || math.IsInf(c.TargetBufferTime, 0):
		return invalid("target buffer time must be positive, got %g", c.TargetBufferTime)
	case c.ThroughputWindow <= 0:
		return invalid("throughput window must be positive, got %s", c.ThroughputWindow)
	case c.MaxThroughputSamples < 0:
		return invalid("max throughput samples must not be negative, got %d", c.MaxThroughputSamples)
	case !(c.EWMAAlpha >= 0 && c.EWMAAlpha < 1):
		return invalid("ewma alpha must be in [0,1), got %g", c.EWMAAlpha)
	case !(c.MaxBuffer > 0) || math.IsInf(c.MaxBuffer, 0):
		return invalid("max buffer must be positive, got %g", c.MaxBuffer)
	case !(c.DangerThreshold >= 0 && c.DangerThreshold < c.MaxBuffer/2):
		return invalid("danger threshold must be in [0, max buffer/2), got %g", c.DangerThreshold)
	case !(c.Resolution >= 0) || math.IsInf(c.Resolution, 0):
		return invalid("resolution must not be negative, got %g", c.Resolution)
	case c.Resolution > 0 && c.Resolution < minResolution:
		return invalid("resolution must be at least %g, got %g", minResolution, c.Resolution)
	}
	switch c.BufferMetric {
	case "", MetricLevel, MetricTime:
	default:
		return invalid("unknown buffer metric %q", c.BufferMetric)
	}
	if c.RuleBaseFile == "" && !isPreset(c.RuleBase) {
		return invalid("unknown rule base %q", c.RuleBase)
	}
	return nil
}

// RuleBaseSpec returns the declarative rule base: the file when configured,
// otherwise the named preset instantiated with this config's thresholds.
func (c Config) RuleBaseSpec() (fuzzy.Spec, error) {
	if c.RuleBaseFile != "" {
		spec, err := fuzzy.LoadFile(c.RuleBaseFile)
		if err != nil {
			return fuzzy.Spec{}, fmt.Errorf("load rule base %s: %w", c.RuleBaseFile, err)
		}
		if spec.Resolution == 0 {
			spec.Resolution = c.Resolution
		}
		return spec, nil
	}
	return PresetSpec(c.RuleBase, c)
}

// Engine validates the config and builds its fuzzy engine.
func (c Config) Engine() (*fuzzy.Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	spec, err := c.RuleBaseSpec()
	if err != nil {
		return nil, err
	}
	e, err := spec.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.metricFor(e.Inputs()); err != nil {
		return nil, err
	}
	return e, nil
}

// metricFor resolves BufferMetric against the inputs a rule base reads. A
// rule base that reads only the other buffer series is rejected: the host
// would report that series alone and the session would never leave cold start.
func (c Config) metricFor(inputs []string) (BufferMetric, error) {
	var readsLevel, readsTime bool
	for _, name := range inputs {
		switch name {
		case InputBufferLevel, InputBufferLevelDelta:
			readsLevel = true
		case InputBufferingTime, InputBufferingTimeDelta:
			readsTime = true
		}
	}
	m := c.BufferMetric
	if m == "" {
		m = MetricLevel
		if readsTime && !readsLevel {
			m = MetricTime
		}
	}
	switch {
	case m == MetricLevel && readsTime && !readsLevel:
		return "", invalid("buffer metric %q is not read by a rule base on buffering time", m)
	case m == MetricTime && readsLevel && !readsTime:
		return "", invalid("buffer metric %q is not read by a rule base on buffer level", m)
	}
	return m, nil
}
