package fuzzy

import (
	"fmt"
	"math"
)

// Role tells whether a variable is read from inputs or produced by inference.
type Role int

const (
	Antecedent Role = iota
	Consequent
)

func (r Role) String() string {
	if r == Consequent {
		return "consequent"
	}
	return "antecedent"
}

// Term is one named fuzzy category of a variable.
type Term struct {
	Name string
	MF   MembershipFunction
}

// Variable is a linguistic variable: a named universe [Min, Max] partitioned
// into overlapping terms.
type Variable struct {
	Name  string
	Min   float64
	Max   float64
	Role  Role
	Terms []Term

	// Step is the universe granularity. The engine samples the output
	// universe at this step when no explicit resolution is configured.
	Step float64

	index map[string]int
}

// NewVariable builds and validates a variable. Term names must be unique.
func NewVariable(name string, lo, hi float64, role Role, terms ...Term) (*Variable, error) {
	v := &Variable{Name: name, Min: lo, Max: hi, Role: role, Terms: append([]Term(nil), terms...)}
	if err := v.init(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Variable) init() error {
	if v.Name == "" {
		return fmt.Errorf("variable name is empty")
	}
	if math.IsNaN(v.Min) || math.IsNaN(v.Max) || math.IsInf(v.Min, 0) || math.IsInf(v.Max, 0) {
		return fmt.Errorf("variable %q: universe bounds must be finite", v.Name)
	}
	if v.Min >= v.Max {
		return fmt.Errorf("variable %q: universe min %g must be below max %g", v.Name, v.Min, v.Max)
	}
	if math.IsNaN(v.Step) || v.Step < 0 {
		return fmt.Errorf("variable %q: invalid step %g", v.Name, v.Step)
	}
	if len(v.Terms) == 0 {
		return fmt.Errorf("variable %q has no terms", v.Name)
	}
	v.index = make(map[string]int, len(v.Terms))
	for i, t := range v.Terms {
		if t.Name == "" {
			return fmt.Errorf("variable %q: term %d has no name", v.Name, i)
		}
		if _, dup := v.index[t.Name]; dup {
			return fmt.Errorf("variable %q: duplicate term %q", v.Name, t.Name)
		}
		if err := t.MF.Validate(); err != nil {
			return fmt.Errorf("variable %q term %q: %w", v.Name, t.Name, err)
		}
		v.index[t.Name] = i
	}
	return nil
}

// TermIndex returns the position of the named term.
func (v *Variable) TermIndex(name string) (int, bool) {
	i, ok := v.index[name]
	return i, ok
}

// Clamp limits x to the variable's universe. +Inf and -Inf clamp to the bounds.
func (v *Variable) Clamp(x float64) float64 {
	if x < v.Min {
		return v.Min
	}
	if x > v.Max {
		return v.Max
	}
	return x
}

// Fuzzify clamps x to the universe and returns the degree of every term.
// NaN belongs to no term.
func (v *Variable) Fuzzify(x float64) map[string]float64 {
	if math.IsNaN(x) {
		out := make(map[string]float64, len(v.Terms))
		for _, t := range v.Terms {
			out[t.Name] = 0
		}
		return out
	}
	degrees := v.degrees(x, make([]float64, len(v.Terms)))
	out := make(map[string]float64, len(v.Terms))
	for i, t := range v.Terms {
		out[t.Name] = degrees[i]
	}
	return out
}

// degrees writes term degrees into dst in term order.
func (v *Variable) degrees(x float64, dst []float64) []float64 {
	x = v.Clamp(x)
	for i, t := range v.Terms {
		dst[i] = t.MF.Evaluate(x)
	}
	return dst
}

// Midpoint is the centre of the universe.
func (v *Variable) Midpoint() float64 {
	return (v.Min + v.Max) / 2
}
