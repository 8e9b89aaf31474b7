package abr

// Telemetry is the playback state the controller reads on each request.
// Series are append-only; only their last two entries are used.
type Telemetry interface {
	BufferLevels() []float64
	BufferingTimes() []float64
	Pauses() int
}

// BufferMetric selects which buffer series drives hysteresis and cold start.
// The empty metric follows the rule base.
type BufferMetric string

const (
	MetricLevel BufferMetric = "level"
	MetricTime  BufferMetric = "time"
)

// lastTwo returns the newest and previous values of a series.
func lastTwo(series []float64) (now, prev float64, ok bool) {
	if len(series) < 2 {
		return 0, 0, false
	}
	return series[len(series)-1], series[len(series)-2], true
}

// Playback is an in-memory Telemetry fed by the host player.
type Playback struct {
	levels []float64
	times  []float64
	pauses int
}

// AddBufferLevel appends a buffer occupancy sample.
func (p *Playback) AddBufferLevel(v float64) { p.levels = append(p.levels, v) }

// AddBufferingTime appends a buffering-time sample.
func (p *Playback) AddBufferingTime(v float64) { p.times = append(p.times, v) }

// AddPause counts one playback stall.
func (p *Playback) AddPause() { p.pauses++ }

func (p *Playback) BufferLevels() []float64   { return p.levels }
func (p *Playback) BufferingTimes() []float64 { return p.times }
func (p *Playback) Pauses() int               { return p.pauses }
