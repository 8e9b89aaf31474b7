package fuzzy

import (
	"math"
	"testing"
)

func TestVariable_Fuzzify_clamps_to_universe(t *testing.T) {
	v, err := NewVariable("buffer", 0, 10, Antecedent,
		Term{Name: "low", MF: Trap(0, 0, 2, 5)},
		Term{Name: "high", MF: Tri(5, 10, 15)},
	)
	if err != nil {
		t.Fatal(err)
	}

	got := v.Fuzzify(-50)
	if got["low"] != 1 || got["high"] != 0 {
		t.Errorf("Fuzzify(-50) = %v, want low=1 high=0", got)
	}

	got = v.Fuzzify(math.Inf(1))
	if got["high"] != 1 || got["low"] != 0 {
		t.Errorf("Fuzzify(+Inf) = %v, want high=1 low=0", got)
	}

	got = v.Fuzzify(7.5)
	if len(got) != 2 {
		t.Fatalf("expected a degree for every term, got %v", got)
	}
	if math.Abs(got["high"]-0.5) > 1e-12 {
		t.Errorf("Fuzzify(7.5)[high] = %g, want 0.5", got["high"])
	}
}

func TestVariable_Fuzzify_NaN(t *testing.T) {
	v, err := NewVariable("buffer", 0, 10, Antecedent,
		Term{Name: "low", MF: Trap(0, 0, 2, 5)},
		Term{Name: "high", MF: Tri(5, 10, 15)},
	)
	if err != nil {
		t.Fatal(err)
	}
	got := v.Fuzzify(math.NaN())
	if len(got) != 2 || got["low"] != 0 || got["high"] != 0 {
		t.Errorf("Fuzzify(NaN) = %v, want every term at 0", got)
	}
}

func TestNewVariable_errors(t *testing.T) {
	tri := Term{Name: "a", MF: Tri(0, 1, 2)}

	if _, err := NewVariable("", 0, 1, Antecedent, tri); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := NewVariable("v", 1, 1, Antecedent, tri); err == nil {
		t.Error("expected error for empty universe")
	}
	if _, err := NewVariable("v", 0, math.Inf(1), Antecedent, tri); err == nil {
		t.Error("expected error for infinite universe")
	}
	if _, err := NewVariable("v", 0, 1, Antecedent); err == nil {
		t.Error("expected error for no terms")
	}
	if _, err := NewVariable("v", 0, 1, Antecedent, tri, tri); err == nil {
		t.Error("expected error for duplicate term")
	}
	if _, err := NewVariable("v", 0, 1, Antecedent, Term{Name: "b", MF: Tri(2, 1, 0)}); err == nil {
		t.Error("expected error for decreasing breakpoints")
	}
}

func TestVariable_TermIndex(t *testing.T) {
	v, err := NewVariable("rate", 0, 2.5, Antecedent,
		Term{Name: "L", MF: Trap(0, 0, 0.8, 1.2)},
		Term{Name: "S", MF: Tri(0.8, 1.2, 2)},
	)
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := v.TermIndex("S"); !ok || i != 1 {
		t.Errorf("TermIndex(S) = %d, %v", i, ok)
	}
	if _, ok := v.TermIndex("H"); ok {
		t.Error("TermIndex(H) should not exist")
	}
	if v.Midpoint() != 1.25 {
		t.Errorf("Midpoint() = %g", v.Midpoint())
	}
}
