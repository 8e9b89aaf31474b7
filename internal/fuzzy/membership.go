package fuzzy

import (
	"fmt"
	"math"
	"strings"
)

// Shape is the geometry of a membership function.
type Shape int

const (
	Trapezoid Shape = iota
	Triangle
)

func (s Shape) String() string {
	switch s {
	case Trapezoid:
		return "trapezoid"
	case Triangle:
		return "triangle"
	default:
		return "unknown"
	}
}

// ParseShape accepts "trapezoid"/"trap" and "triangle"/"tri".
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trapezoid", "trap", "trapmf":
		return Trapezoid, nil
	case "triangle", "tri", "trimf":
		return Triangle, nil
	default:
		return 0, fmt.Errorf("unknown membership shape %q", s)
	}
}

// MembershipFunction maps a crisp value to a degree of membership in [0,1].
// Points holds a,b,c,d for a trapezoid and a,b,c for a triangle.
// A leading -Inf or trailing +Inf breakpoint turns that side into a shoulder
// that stays at 1.
type MembershipFunction struct {
	Shape  Shape
	Points []float64
}

// Trap returns a trapezoid membership function.
func Trap(a, b, c, d float64) MembershipFunction {
	return MembershipFunction{Shape: Trapezoid, Points: []float64{a, b, c, d}}
}

// Tri returns a triangle membership function.
func Tri(a, b, c float64) MembershipFunction {
	return MembershipFunction{Shape: Triangle, Points: []float64{a, b, c}}
}

// Validate reports whether the breakpoints are well formed.
func (m MembershipFunction) Validate() error {
	want := 4
	if m.Shape == Triangle {
		want = 3
	} else if m.Shape != Trapezoid {
		return fmt.Errorf("unknown shape %d", m.Shape)
	}
	if len(m.Points) != want {
		return fmt.Errorf("%s needs %d breakpoints, got %d", m.Shape, want, len(m.Points))
	}
	finite := 0
	for i, p := range m.Points {
		if math.IsNaN(p) {
			return fmt.Errorf("breakpoint %d is NaN", i)
		}
		if i > 0 && p < m.Points[i-1] {
			return fmt.Errorf("breakpoints must be non-decreasing: %v", m.Points)
		}
		if !math.IsInf(p, 0) {
			finite++
		}
	}
	if finite == 0 {
		return fmt.Errorf("breakpoints need at least one finite value: %v", m.Points)
	}
	return nil
}

// corners returns the breakpoints as a trapezoid; a triangle has b == c.
func (m MembershipFunction) corners() (a, b, c, d float64) {
	if m.Shape == Triangle {
		return m.Points[0], m.Points[1], m.Points[1], m.Points[2]
	}
	return m.Points[0], m.Points[1], m.Points[2], m.Points[3]
}

// Evaluate returns the degree of membership of x.
func (m MembershipFunction) Evaluate(x float64) float64 {
	a, b, c, d := m.corners()
	switch {
	case x >= b && x <= c:
		return 1
	case x < b:
		if math.IsInf(a, -1) {
			return 1
		}
		if x <= a {
			return 0
		}
		return (x - a) / (b - a)
	default:
		if math.IsInf(d, 1) {
			return 1
		}
		if x >= d {
			return 0
		}
		return (d - x) / (d - c)
	}
}

func (m MembershipFunction) String() string {
	return fmt.Sprintf("%s%v", m.Shape, m.Points)
}
