package abr

import (
	"fmt"
	"math"
	"strings"

	"hls-abr/internal/fuzzy"
)

// Engine input names the controller knows how to supply.
const (
	InputBufferLevel        = "buffer_level"
	InputBufferLevelDelta   = "buffer_level_delta"
	InputBufferingTime      = "buffering_time"
	InputBufferingTimeDelta = "buffering_time_delta"
	// InputRate is the last measured throughput over the current bitrate.
	InputRate = "rate"

	OutputFactor = "factor"
)

// Preset rule bases.
const (
	// PresetBufferTime reads buffering time and its change (9 rules).
	PresetBufferTime = "buffer-time"
	// PresetBufferLevel reads buffer level, its change and the rate (27 rules).
	PresetBufferLevel = "buffer-level"
	// PresetCombined reads buffer level, buffering time, its change and the
	// rate (81 rules).
	PresetCombined = "combined"
)

// Presets lists the preset names.
var Presets = []string{PresetBufferTime, PresetBufferLevel, PresetCombined}

func isPreset(name string) bool {
	for _, p := range Presets {
		if p == name {
			return true
		}
	}
	return false
}

var inf = math.Inf(1)

func trap(name string, a, b, c, d float64) fuzzy.TermSpec {
	return fuzzy.TermSpec{Name: name, Shape: "trapezoid", Points: []float64{a, b, c, d}}
}

func tri(name string, a, b, c float64) fuzzy.TermSpec {
	return fuzzy.TermSpec{Name: name, Shape: "triangle", Points: []float64{a, b, c}}
}

// factorVariable is the adjustment factor: reduce, small reduce, no change,
// small increase, increase.
func factorVariable() fuzzy.VariableSpec {
	return fuzzy.VariableSpec{
		Name: OutputFactor, Min: 0, Max: 2.5, Step: 0.01,
		Terms: []fuzzy.TermSpec{
			trap("R", 0, 0, 0.25, 0.5),
			tri("SR", 0.25, 0.5, 1),
			tri("NC", 0.5, 1, 1.5),
			tri("SI", 1, 1.5, 2),
			trap("I", 1.5, 2, inf, inf),
		},
	}
}

func bufferingTimeVariable(target float64) fuzzy.VariableSpec {
	return fuzzy.VariableSpec{
		Name: InputBufferingTime, Min: 0, Max: 5 * target, Step: 0.01,
		Terms: []fuzzy.TermSpec{
			trap("S", 0, 0, 2*target/3, target),
			tri("C", 2*target/3, target, 4*target),
			trap("L", target, 4*target, inf, inf),
		},
	}
}

func bufferingTimeDeltaVariable(target float64) fuzzy.VariableSpec {
	return fuzzy.VariableSpec{
		Name: InputBufferingTimeDelta, Min: -target, Max: 5 * target, Step: 0.01,
		Terms: []fuzzy.TermSpec{
			trap("F", -target, -target, -2*target/3, 0),
			tri("S", -2*target/3, 0, 4*target),
			trap("R", 0, 4*target, inf, inf),
		},
	}
}

func bufferLevelVariable(danger, maxBuf float64) fuzzy.VariableSpec {
	return fuzzy.VariableSpec{
		Name: InputBufferLevel, Min: 0, Max: maxBuf, Step: 0.1,
		Terms: []fuzzy.TermSpec{
			trap("D", 0, 0, danger, maxBuf/2),
			tri("L", danger, maxBuf/2, 3*maxBuf/4),
			trap("S", maxBuf/2, 3*maxBuf/4, inf, inf),
		},
	}
}

func bufferLevelDeltaVariable() fuzzy.VariableSpec {
	return fuzzy.VariableSpec{
		Name: InputBufferLevelDelta, Min: -3, Max: 3, Step: 0.1,
		Terms: []fuzzy.TermSpec{
			trap("F", -3, -3, -2, 0),
			tri("S", -2, 0, 2),
			trap("R", 0, 2, inf, inf),
		},
	}
}

func rateVariable() fuzzy.VariableSpec {
	return fuzzy.VariableSpec{
		Name: InputRate, Min: 0, Max: 2.5, Step: 0.1,
		Terms: []fuzzy.TermSpec{
			trap("L", 0, 0, 0.8, 1.2),
			tri("S", 0.8, 1.2, 2),
			trap("H", 1.2, 2, inf, inf),
		},
	}
}

// expand turns "prefix... : out out out ..." lines into table rows. The
// outputs enumerate the cartesian product of the trailing columns' terms in
// order.
func expand(lines []string, tail ...[]string) [][]string {
	var rows [][]string
	for _, line := range lines {
		head, outs, _ := strings.Cut(line, ":")
		prefix := strings.Fields(head)
		cells := strings.Fields(outs)
		combos := [][]string{nil}
		for _, terms := range tail {
			var next [][]string
			for _, c := range combos {
				for _, t := range terms {
					next = append(next, append(append([]string(nil), c...), t))
				}
			}
			combos = next
		}
		for i, combo := range combos {
			row := append(append(append([]string(nil), prefix...), combo...), cells[i])
			rows = append(rows, row)
		}
	}
	return rows
}

var (
	deltaTerms = []string{"F", "S", "R"}
	rateTerms  = []string{"L", "S", "H"}
)

// Rows are grouped by the leading columns; outputs run over delta F,S,R and,
// within each, rate L,S,H.
var bufferLevelRows = []string{
	"D : R R R   R SR SR  R SR SR",
	"L : SR NC NC  NC NC NC  NC NC SI",
	"S : SI SI I  SI SI I  SI I I",
}

var combinedRows = []string{
	"D S : R R R  R R R  R R R",
	"D C : R R R  R R SR  R SR SR",
	"D L : R R R  R R SR  R SR SR",
	"L S : R R R  R R SR  R SR SR",
	"L C : R R R  R SR SR  R SR SR",
	"L L : R R SR  SR SR NC  SR NC NC",
	"S S : SR SR SR  SR NC NC  NC SI SI",
	"S C : SR SR NC  SR NC NC  NC SI I",
	"S L : NC NC SI  SI SI SI  SI I I",
}

var bufferTimeRows = []string{
	"S : R SR NC",
	"C : SR NC SI",
	"L : NC SI I",
}

// PresetSpec instantiates a preset rule base with the thresholds in cfg.
func PresetSpec(name string, cfg Config) (fuzzy.Spec, error) {
	spec := fuzzy.Spec{Resolution: cfg.Resolution, Output: factorVariable()}
	switch name {
	case PresetBufferTime:
		spec.Inputs = []fuzzy.VariableSpec{
			bufferingTimeVariable(cfg.TargetBufferTime),
			bufferingTimeDeltaVariable(cfg.TargetBufferTime),
		}
		spec.Rules = fuzzy.RuleTable{
			Columns: []string{InputBufferingTime, InputBufferingTimeDelta},
			Rows:    expand(bufferTimeRows, deltaTerms),
		}
	case PresetBufferLevel:
		spec.Inputs = []fuzzy.VariableSpec{
			bufferLevelVariable(cfg.DangerThreshold, cfg.MaxBuffer),
			bufferLevelDeltaVariable(),
			rateVariable(),
		}
		spec.Rules = fuzzy.RuleTable{
			Columns: []string{InputBufferLevel, InputBufferLevelDelta, InputRate},
			Rows:    expand(bufferLevelRows, deltaTerms, rateTerms),
		}
	case PresetCombined:
		spec.Inputs = []fuzzy.VariableSpec{
			bufferLevelVariable(cfg.DangerThreshold, cfg.MaxBuffer),
			bufferingTimeVariable(cfg.TargetBufferTime),
			bufferingTimeDeltaVariable(cfg.TargetBufferTime),
			rateVariable(),
		}
		spec.Rules = fuzzy.RuleTable{
			Columns: []string{InputBufferLevel, InputBufferingTime, InputBufferingTimeDelta, InputRate},
			Rows:    expand(combinedRows, deltaTerms, rateTerms),
		}
	default:
		return fuzzy.Spec{}, fmt.Errorf("%w: unknown rule base %q", ErrInvalidConfig, name)
	}
	return spec, nil
}
