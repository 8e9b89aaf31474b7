package abr

import (
	"errors"
	"testing"
	"time"

	"hls-abr/internal/fuzzy"
)

// fixedFactor answers every inference with the same factor.
type fixedFactor struct {
	factor float64
	inputs []string
	seen   []map[string]float64
}

func (f *fixedFactor) Inputs() []string { return f.inputs }

func (f *fixedFactor) Infer(in map[string]float64) (fuzzy.Inference, error) {
	f.seen = append(f.seen, in)
	return fuzzy.Inference{Output: f.factor}, nil
}

func levelEngine(factor float64) *fixedFactor {
	return &fixedFactor{factor: factor, inputs: []string{InputBufferLevel, InputBufferLevelDelta}}
}

func newTestController(t *testing.T, cfg Config, engine Inferer, obs Observer) *Controller {
	t.Helper()
	c, err := NewController(cfg, engine, obs)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := c.OnManifest([]float64{100, 250, 500, 1000, 2000}); err != nil {
		t.Fatalf("OnManifest: %v", err)
	}
	return c
}

// warmUp runs one cold-start cycle that measures rate bits/s.
func warmUp(t *testing.T, c *Controller, tel Telemetry, rate int64) {
	t.Helper()
	rep, err := c.OnSegmentRequest(t0, tel)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if rep.Index != 0 {
		t.Fatalf("cold start picked %d, want 0", rep.Index)
	}
	s, err := c.OnSegmentResponse(t0.Add(time.Second), rate)
	if err != nil {
		t.Fatalf("first response: %v", err)
	}
	if s.Rate != float64(rate) {
		t.Fatalf("sample rate = %g, want %d", s.Rate, rate)
	}
}

func TestController_steady_factor_picks_rank_of_smoothed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DangerThreshold = 5

	var decisions []Decision
	c := newTestController(t, cfg, levelEngine(1.0), func(d Decision) { decisions = append(decisions, d) })

	tel := &Playback{}
	tel.AddBufferLevel(10)
	warmUp(t, c, tel, 1000)
	tel.AddBufferLevel(10)

	rep, err := c.OnSegmentRequest(t0.Add(2*time.Second), tel)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Index != 3 || rep.Bitrate != 1000 {
		t.Errorf("selected %+v, want index 3 (1000)", rep)
	}

	if len(decisions) != 2 {
		t.Fatalf("observer saw %d decisions, want 2", len(decisions))
	}
	if !decisions[0].ColdStart {
		t.Error("first decision should be a cold start")
	}
	d := decisions[1]
	if d.ColdStart || d.Factor != 1.0 || d.SmoothedThroughput != 1000 || d.Desired != 1000 {
		t.Errorf("unexpected decision %+v", d)
	}
	if !d.Switched() || d.Previous.Index != 0 {
		t.Errorf("expected switch from 0, got %+v", d)
	}
	if d.Inputs[InputBufferLevel] != 10 || d.Inputs[InputBufferLevelDelta] != 0 {
		t.Errorf("inputs = %v", d.Inputs)
	}
	if _, ok := d.Inputs[InputRate]; ok {
		t.Error("rate supplied to an engine that does not read it")
	}
}

func TestController_upgrade_held_in_danger(t *testing.T) {
	cfg := DefaultConfig() // danger 15
	var last Decision
	c := newTestController(t, cfg, levelEngine(1.0), func(d Decision) { last = d })

	tel := &Playback{}
	tel.AddBufferLevel(10)
	warmUp(t, c, tel, 1000)
	tel.AddBufferLevel(10)

	rep, err := c.OnSegmentRequest(t0.Add(2*time.Second), tel)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Index != 0 {
		t.Errorf("selected %d, want 0 (held)", rep.Index)
	}
	if last.Hold != HoldUpgradeDanger || last.Candidate.Index != 3 {
		t.Errorf("decision = %+v, want upgrade hold with candidate 3", last)
	}
}

func TestController_cold_start(t *testing.T) {
	t.Run("nil_telemetry", func(t *testing.T) {
		eng := levelEngine(2)
		c := newTestController(t, DefaultConfig(), eng, nil)
		warmUp(t, c, nil, 1000)
		rep, err := c.OnSegmentRequest(t0.Add(2*time.Second), nil)
		if err != nil || rep.Index != 0 {
			t.Errorf("got %+v, %v; want index 0", rep, err)
		}
		if len(eng.seen) != 0 {
			t.Error("engine consulted during cold start")
		}
	})

	t.Run("one_buffer_sample", func(t *testing.T) {
		eng := levelEngine(2)
		c := newTestController(t, DefaultConfig(), eng, nil)
		tel := &Playback{}
		tel.AddBufferLevel(40)
		warmUp(t, c, tel, 1000)
		rep, _ := c.OnSegmentRequest(t0.Add(2*time.Second), tel)
		if rep.Index != 0 || len(eng.seen) != 0 {
			t.Errorf("expected cold start, got %+v", rep)
		}
	})

	t.Run("no_throughput", func(t *testing.T) {
		eng := levelEngine(2)
		c := newTestController(t, DefaultConfig(), eng, nil)
		tel := &Playback{}
		tel.AddBufferLevel(40)
		tel.AddBufferLevel(41)
		rep, _ := c.OnSegmentRequest(t0, tel)
		if rep.Index != 0 || len(eng.seen) != 0 {
			t.Errorf("expected cold start, got %+v", rep)
		}
	})

	t.Run("zero_elapsed_response_records_nothing", func(t *testing.T) {
		c := newTestController(t, DefaultConfig(), levelEngine(2), nil)
		if _, err := c.OnSegmentRequest(t0, nil); err != nil {
			t.Fatal(err)
		}
		s, err := c.OnSegmentResponse(t0, 5000)
		if err != nil {
			t.Fatal(err)
		}
		if s.Rate != 0 || c.Throughput().Len() != 0 {
			t.Errorf("expected no sample, got %+v", s)
		}
		if c.State() != StateReady {
			t.Errorf("state = %s, want ready", c.State())
		}
	})
}

func TestController_protocol(t *testing.T) {
	t.Run("request_before_manifest", func(t *testing.T) {
		c, err := NewController(DefaultConfig(), levelEngine(1), nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.OnSegmentRequest(t0, nil); !errors.Is(err, ErrNoManifest) {
			t.Errorf("expected ErrNoManifest, got %v", err)
		}
		if c.State() != StateAwaitingManifest {
			t.Errorf("state = %s, want awaiting_manifest", c.State())
		}
		if _, ok := c.Current(); ok {
			t.Error("Current() should be unset before the manifest")
		}
	})

	t.Run("response_without_request_fails_session", func(t *testing.T) {
		c := newTestController(t, DefaultConfig(), levelEngine(1), nil)
		if _, err := c.OnSegmentResponse(t0, 100); !errors.Is(err, ErrProtocol) {
			t.Fatalf("expected ErrProtocol, got %v", err)
		}
		if c.State() != StateFailed {
			t.Fatalf("state = %s, want failed", c.State())
		}
		if _, err := c.OnSegmentRequest(t0, nil); !errors.Is(err, ErrProtocol) {
			t.Errorf("failed session accepted a request: %v", err)
		}
		if err := c.OnManifest([]float64{1}); !errors.Is(err, ErrProtocol) {
			t.Errorf("failed session accepted a manifest: %v", err)
		}
	})

	t.Run("second_request_while_pending", func(t *testing.T) {
		c := newTestController(t, DefaultConfig(), levelEngine(1), nil)
		if _, err := c.OnSegmentRequest(t0, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := c.OnSegmentRequest(t0, nil); !errors.Is(err, ErrProtocol) {
			t.Errorf("expected ErrProtocol, got %v", err)
		}
		if !errors.Is(c.Err(), ErrProtocol) {
			t.Errorf("Err() = %v", c.Err())
		}
	})

	t.Run("second_manifest", func(t *testing.T) {
		c := newTestController(t, DefaultConfig(), levelEngine(1), nil)
		if err := c.OnManifest([]float64{1, 2}); !errors.Is(err, ErrProtocol) {
			t.Errorf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("bad_manifest_keeps_waiting", func(t *testing.T) {
		c, _ := NewController(DefaultConfig(), levelEngine(1), nil)
		if err := c.OnManifest(nil); !errors.Is(err, ErrEmptyLadder) {
			t.Errorf("expected ErrEmptyLadder, got %v", err)
		}
		if c.State() != StateAwaitingManifest {
			t.Errorf("state = %s", c.State())
		}
	})

	t.Run("negative_bits", func(t *testing.T) {
		c := newTestController(t, DefaultConfig(), levelEngine(1), nil)
		c.OnSegmentRequest(t0, nil)
		if _, err := c.OnSegmentResponse(t0.Add(time.Second), -1); err == nil {
			t.Error("expected error for negative size")
		}
		if c.State() != StateAwaitingResponse {
			t.Errorf("state = %s, want awaiting_response", c.State())
		}
	})
}

func TestNewController_rejects_unknown_input(t *testing.T) {
	eng := &fixedFactor{factor: 1, inputs: []string{"latency"}}
	if _, err := NewController(DefaultConfig(), eng, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewController(DefaultConfig(), nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil engine, got %v", err)
	}
}

func TestController_rate_input(t *testing.T) {
	eng := &fixedFactor{factor: 1, inputs: []string{InputBufferLevel, InputRate}}
	c := newTestController(t, DefaultConfig(), eng, nil)
	tel := &Playback{}
	tel.AddBufferLevel(20)
	warmUp(t, c, tel, 400)
	tel.AddBufferLevel(21)

	if _, err := c.OnSegmentRequest(t0.Add(2*time.Second), tel); err != nil {
		t.Fatal(err)
	}
	if len(eng.seen) != 1 {
		t.Fatalf("engine called %d times", len(eng.seen))
	}
	if got := eng.seen[0][InputRate]; got != 4 {
		t.Errorf("rate = %g, want 400/100 = 4", got)
	}
}

func TestController_buffering_time_metric(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferMetric = MetricTime
	eng := &fixedFactor{factor: 1, inputs: []string{InputBufferingTime, InputBufferingTimeDelta}}
	var last Decision
	c := newTestController(t, cfg, eng, func(d Decision) { last = d })

	tel := &Playback{}
	tel.AddBufferingTime(30)
	warmUp(t, c, tel, 2000)
	tel.AddBufferingTime(36)

	rep, err := c.OnSegmentRequest(t0.Add(2*time.Second), tel)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Index != 4 {
		t.Errorf("selected %d, want 4", rep.Index)
	}
	if last.Inputs[InputBufferingTimeDelta] != 6 {
		t.Errorf("inputs = %v", last.Inputs)
	}
}

func TestController_with_preset_engine(t *testing.T) {
	cfg := DefaultConfig()
	engine, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	c, err := NewController(cfg, engine, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.OnManifest([]float64{100e3, 500e3, 1e6, 2e6, 4e6}); err != nil {
		t.Fatal(err)
	}

	tel := &Playback{}
	tel.AddBufferLevel(38)
	if _, err := c.OnSegmentRequest(t0, tel); err != nil {
		t.Fatal(err)
	}
	if _, err := c.OnSegmentResponse(t0.Add(time.Second), 3e6); err != nil {
		t.Fatal(err)
	}
	tel.AddBufferLevel(39)

	rep, err := c.OnSegmentRequest(t0.Add(2*time.Second), tel)
	if err != nil {
		t.Fatal(err)
	}
	// A growing, safe buffer on a fast link must push the factor above 1.
	if rep.Index < 3 {
		t.Errorf("selected %d, want an upgrade to at least 3", rep.Index)
	}
}
