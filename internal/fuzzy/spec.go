package fuzzy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Spec is the declarative form of a rule base. It can be built in code or
// loaded from YAML or TOML:
//
//	resolution: 0.01
//	inputs:
//	  - name: rate
//	    min: 0
//	    max: 2.5
//	    terms:
//	      - {name: L, shape: trapezoid, points: [0, 0, 0.8, 1.2]}
//	      - {name: H, shape: trapezoid, points: [1.2, 2, .inf, .inf]}
//	output:
//	  name: factor
//	  ...
//	rules:
//	  columns: [rate]
//	  rows:
//	    - [L, R]
//	    - [H, I, "0.5"]
//
// Each row lists one term per column followed by the consequent term and an
// optional weight.
type Spec struct {
	Resolution float64        `yaml:"resolution,omitempty" toml:"resolution,omitempty"`
	Inputs     []VariableSpec `yaml:"inputs" toml:"inputs"`
	Output     VariableSpec   `yaml:"output" toml:"output"`
	Rules      RuleTable      `yaml:"rules" toml:"rules"`
}

// VariableSpec declares one linguistic variable.
type VariableSpec struct {
	Name  string     `yaml:"name" toml:"name"`
	Min   float64    `yaml:"min" toml:"min"`
	Max   float64    `yaml:"max" toml:"max"`
	Step  float64    `yaml:"step,omitempty" toml:"step,omitempty"`
	Terms []TermSpec `yaml:"terms" toml:"terms"`
}

// TermSpec declares one term and its membership function.
type TermSpec struct {
	Name   string    `yaml:"name" toml:"name"`
	Shape  string    `yaml:"shape" toml:"shape"`
	Points []float64 `yaml:"points" toml:"points"`
}

// RuleTable is a rule base in tabular form.
type RuleTable struct {
	Columns []string   `yaml:"columns" toml:"columns"`
	Rows    [][]string `yaml:"rows" toml:"rows"`
}

// Row appends a table row and returns the table for chaining.
func (t *RuleTable) Row(cells ...string) *RuleTable {
	t.Rows = append(t.Rows, cells)
	return t
}

func (vs VariableSpec) build(role Role) (*Variable, error) {
	terms := make([]Term, 0, len(vs.Terms))
	for _, ts := range vs.Terms {
		shape, err := ParseShape(ts.Shape)
		if err != nil {
			return nil, fmt.Errorf("variable %q term %q: %w", vs.Name, ts.Name, err)
		}
		terms = append(terms, Term{Name: ts.Name, MF: MembershipFunction{Shape: shape, Points: ts.Points}})
	}
	v := &Variable{Name: vs.Name, Min: vs.Min, Max: vs.Max, Step: vs.Step, Role: role, Terms: terms}
	if err := v.init(); err != nil {
		return nil, err
	}
	return v, nil
}

// RuleList expands the table into rules against the given output variable.
func (t RuleTable) RuleList(output string) ([]Rule, error) {
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("rule table has no columns")
	}
	rules := make([]Rule, 0, len(t.Rows))
	for n, row := range t.Rows {
		if len(row) != len(t.Columns)+1 && len(row) != len(t.Columns)+2 {
			return nil, fmt.Errorf("row %d: want %d or %d cells, got %d", n+1, len(t.Columns)+1, len(t.Columns)+2, len(row))
		}
		r := Rule{When: make([]Clause, len(t.Columns)), Weight: 1}
		for i, col := range t.Columns {
			r.When[i] = Clause{Variable: col, Term: strings.TrimSpace(row[i])}
		}
		r.Then = Clause{Variable: output, Term: strings.TrimSpace(row[len(t.Columns)])}
		if len(row) == len(t.Columns)+2 {
			w, err := strconv.ParseFloat(strings.TrimSpace(row[len(row)-1]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: weight: %w", n+1, err)
			}
			// A written weight is taken literally.
			if !(w > 0 && w <= 1) {
				return nil, fmt.Errorf("row %d: weight %g outside (0,1]", n+1, w)
			}
			r.Weight = w
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Build validates the spec and returns a ready engine.
func (s Spec) Build() (*Engine, error) {
	inputs := make([]*Variable, 0, len(s.Inputs))
	for _, vs := range s.Inputs {
		v, err := vs.build(Antecedent)
		if err != nil {
			return nil, configErr("%v", err)
		}
		inputs = append(inputs, v)
	}
	output, err := s.Output.build(Consequent)
	if err != nil {
		return nil, configErr("%v", err)
	}
	rules, err := s.Rules.RuleList(output.Name)
	if err != nil {
		return nil, configErr("%v", err)
	}
	return NewEngine(inputs, output, rules, Options{Resolution: s.Resolution})
}

// ParseYAML decodes a YAML rule base. Unknown fields are rejected.
func ParseYAML(data []byte) (Spec, error) {
	var s Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Spec{}, fmt.Errorf("%w: yaml: %v", ErrConfig, err)
	}
	return s, nil
}

// ParseTOML decodes a TOML rule base. Unknown fields are rejected.
func ParseTOML(data []byte) (Spec, error) {
	var s Spec
	err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&s)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: toml: %v", ErrConfig, err)
	}
	return s, nil
}

// LoadFile reads a rule base, choosing the decoder by file extension
// (.toml, otherwise YAML).
func LoadFile(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(raw)
	}
	return ParseYAML(raw)
}

// YAML renders the spec, e.g. to export a preset for retuning.
func (s Spec) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
