// Package fuzzy implements a small Mamdani inference engine: trapezoid and
// triangle membership functions, AND=min rules, max aggregation and centroid
// defuzzification over a discretised output universe.
package fuzzy

import (
	"errors"
	"fmt"
	"math"
)

// DefaultSamples is the number of output sample points used when neither the
// engine options nor the output variable declare a step.
const DefaultSamples = 1000

// MaxSamples bounds the output discretisation.
const MaxSamples = 1_000_000

var (
	// ErrConfig is returned when a rule base references undeclared variables
	// or terms, or is otherwise malformed.
	ErrConfig = errors.New("fuzzy: invalid rule base")

	// ErrMissingInput is returned by Evaluate when a declared input is absent.
	ErrMissingInput = errors.New("fuzzy: missing input")

	// ErrInvalidInput is returned by Evaluate for NaN inputs.
	ErrInvalidInput = errors.New("fuzzy: invalid input")
)

// Options tunes an Engine.
type Options struct {
	// Resolution is the output discretisation step. Zero falls back to the
	// output variable's Step, then to DefaultSamples points.
	Resolution float64
}

// Engine evaluates a fixed rule base. It is immutable after NewEngine and may
// be shared between goroutines.
type Engine struct {
	inputs   []*Variable
	inputIdx map[string]int
	output   *Variable
	rules    []compiledRule

	xs      []float64
	outMemb [][]float64 // outMemb[term][i] = degree of xs[i] in term
}

// Inference is the full trace of one evaluation.
type Inference struct {
	Output float64
	// Fallback is true when no rule fired and Output is the universe midpoint.
	Fallback  bool
	Degrees   map[string]map[string]float64
	Strengths []float64
	Aggregate map[string]float64
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// NewEngine validates the rule base against the declared variables and
// precomputes the output universe.
func NewEngine(inputs []*Variable, output *Variable, rules []Rule, opts Options) (*Engine, error) {
	if len(inputs) == 0 {
		return nil, configErr("no input variables")
	}
	if output == nil {
		return nil, configErr("no output variable")
	}
	if output.index == nil {
		if err := output.init(); err != nil {
			return nil, configErr("%v", err)
		}
	}
	if output.Role != Consequent {
		return nil, configErr("output variable %q is not a consequent", output.Name)
	}
	if len(rules) == 0 {
		return nil, configErr("no rules")
	}

	e := &Engine{
		inputs:   inputs,
		inputIdx: make(map[string]int, len(inputs)),
		output:   output,
	}
	for i, v := range inputs {
		if v == nil {
			return nil, configErr("input %d is nil", i)
		}
		if v.index == nil {
			if err := v.init(); err != nil {
				return nil, configErr("%v", err)
			}
		}
		if v.Role != Antecedent {
			return nil, configErr("input variable %q is not an antecedent", v.Name)
		}
		if _, dup := e.inputIdx[v.Name]; dup || v.Name == output.Name {
			return nil, configErr("duplicate variable %q", v.Name)
		}
		e.inputIdx[v.Name] = i
	}

	e.rules = make([]compiledRule, 0, len(rules))
	for n, r := range rules {
		cr, err := e.compile(r)
		if err != nil {
			return nil, configErr("rule %d (%s): %v", n+1, r, err)
		}
		e.rules = append(e.rules, cr)
	}

	step := opts.Resolution
	if step <= 0 {
		step = output.Step
	}
	if step <= 0 {
		step = (output.Max - output.Min) / DefaultSamples
	}
	if math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, configErr("invalid resolution %g", step)
	}
	if (output.Max-output.Min)/step > MaxSamples {
		return nil, configErr("resolution %g gives more than %d output samples", step, MaxSamples)
	}
	e.discretize(step)
	return e, nil
}

func (e *Engine) compile(r Rule) (compiledRule, error) {
	if len(r.When) == 0 {
		return compiledRule{}, fmt.Errorf("no antecedents")
	}
	w := r.Weight
	if w == 0 {
		w = 1
	}
	if math.IsNaN(w) || w < 0 || w > 1 {
		return compiledRule{}, fmt.Errorf("weight %g outside [0,1]", r.Weight)
	}
	cr := compiledRule{when: make([]ref, 0, len(r.When)), weight: w}
	for _, c := range r.When {
		vi, ok := e.inputIdx[c.Variable]
		if !ok {
			return compiledRule{}, fmt.Errorf("undeclared input variable %q", c.Variable)
		}
		ti, ok := e.inputs[vi].TermIndex(c.Term)
		if !ok {
			return compiledRule{}, fmt.Errorf("variable %q has no term %q", c.Variable, c.Term)
		}
		cr.when = append(cr.when, ref{variable: vi, term: ti})
	}
	if r.Then.Variable != e.output.Name {
		return compiledRule{}, fmt.Errorf("consequent %q is not the output variable %q", r.Then.Variable, e.output.Name)
	}
	ti, ok := e.output.TermIndex(r.Then.Term)
	if !ok {
		return compiledRule{}, fmt.Errorf("output %q has no term %q", e.output.Name, r.Then.Term)
	}
	cr.then = ti
	return cr, nil
}

func (e *Engine) discretize(step float64) {
	lo, hi := e.output.Min, e.output.Max
	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	e.xs = make([]float64, n)
	for i := range e.xs {
		e.xs[i] = lo + float64(i)*step
	}
	e.outMemb = make([][]float64, len(e.output.Terms))
	for t, term := range e.output.Terms {
		col := make([]float64, n)
		for i, x := range e.xs {
			col[i] = term.MF.Evaluate(x)
		}
		e.outMemb[t] = col
	}
}

// Inputs returns the declared input variable names in declaration order.
func (e *Engine) Inputs() []string {
	names := make([]string, len(e.inputs))
	for i, v := range e.inputs {
		names[i] = v.Name
	}
	return names
}

// Output returns the consequent variable.
func (e *Engine) Output() *Variable { return e.output }

// Rules returns the number of compiled rules.
func (e *Engine) Rules() int { return len(e.rules) }

// Evaluate runs one inference and returns the crisp output.
func (e *Engine) Evaluate(inputs map[string]float64) (float64, error) {
	degrees, err := e.fuzzify(inputs)
	if err != nil {
		return 0, err
	}
	out, _ := e.defuzzify(e.aggregate(degrees, nil))
	return out, nil
}

// Infer runs one inference and returns the intermediate results as well.
func (e *Engine) Infer(inputs map[string]float64) (Inference, error) {
	degrees, err := e.fuzzify(inputs)
	if err != nil {
		return Inference{}, err
	}
	strengths := make([]float64, len(e.rules))
	agg := e.aggregate(degrees, strengths)
	out, fallback := e.defuzzify(agg)

	inf := Inference{
		Output:    out,
		Fallback:  fallback,
		Degrees:   make(map[string]map[string]float64, len(e.inputs)),
		Strengths: strengths,
		Aggregate: make(map[string]float64, len(agg)),
	}
	for i, v := range e.inputs {
		m := make(map[string]float64, len(v.Terms))
		for t, term := range v.Terms {
			m[term.Name] = degrees[i][t]
		}
		inf.Degrees[v.Name] = m
	}
	for t, term := range e.output.Terms {
		inf.Aggregate[term.Name] = agg[t]
	}
	return inf, nil
}

func (e *Engine) fuzzify(inputs map[string]float64) ([][]float64, error) {
	degrees := make([][]float64, len(e.inputs))
	for i, v := range e.inputs {
		x, ok := inputs[v.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingInput, v.Name)
		}
		if math.IsNaN(x) {
			return nil, fmt.Errorf("%w: %q is NaN", ErrInvalidInput, v.Name)
		}
		degrees[i] = v.degrees(x, make([]float64, len(v.Terms)))
	}
	return degrees, nil
}

// aggregate fires every rule (min over antecedents, scaled by weight) and
// takes the max per consequent term. strengths, when non-nil, receives the
// firing strength of each rule.
func (e *Engine) aggregate(degrees [][]float64, strengths []float64) []float64 {
	agg := make([]float64, len(e.output.Terms))
	for n, r := range e.rules {
		s := 1.0
		for _, a := range r.when {
			s = math.Min(s, degrees[a.variable][a.term])
		}
		s *= r.weight
		if strengths != nil {
			strengths[n] = s
		}
		if s > agg[r.then] {
			agg[r.then] = s
		}
	}
	return agg
}

// defuzzify clips each output term at its aggregate strength, combines them
// with max and returns the centroid. With zero mass it returns the midpoint.
func (e *Engine) defuzzify(agg []float64) (float64, bool) {
	var num, mass float64
	for i, x := range e.xs {
		mu := 0.0
		for t, col := range e.outMemb {
			if agg[t] == 0 {
				continue
			}
			mu = math.Max(mu, math.Min(col[i], agg[t]))
		}
		num += x * mu
		mass += mu
	}
	if !(mass > 0) {
		return e.output.Midpoint(), true
	}
	return num / mass, false
}
