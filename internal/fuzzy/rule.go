package fuzzy

import (
	"fmt"
	"strings"
)

// Clause names one term of one variable: "Variable is Term".
type Clause struct {
	Variable string
	Term     string
}

func (c Clause) String() string {
	return c.Variable + " is " + c.Term
}

// Rule is a conjunction of antecedent clauses implying one consequent clause.
// A zero Weight is read as 1.
type Rule struct {
	When   []Clause
	Then   Clause
	Weight float64
}

// If starts a rule from alternating variable/term names:
//
//	fuzzy.If("buffer_level", "D", "rate", "L").Then("factor", "R")
func If(pairs ...string) RuleBuilder {
	if len(pairs)%2 != 0 {
		panic("fuzzy.If: odd number of arguments")
	}
	when := make([]Clause, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		when = append(when, Clause{Variable: pairs[i], Term: pairs[i+1]})
	}
	return RuleBuilder{when: when}
}

// RuleBuilder holds the antecedents of a rule under construction.
type RuleBuilder struct {
	when []Clause
}

// Then completes the rule with weight 1.
func (b RuleBuilder) Then(variable, term string) Rule {
	return Rule{When: b.when, Then: Clause{Variable: variable, Term: term}, Weight: 1}
}

func (r Rule) String() string {
	parts := make([]string, len(r.When))
	for i, c := range r.When {
		parts[i] = c.String()
	}
	s := "if " + strings.Join(parts, " and ") + " then " + r.Then.String()
	if r.Weight != 0 && r.Weight != 1 {
		s += fmt.Sprintf(" (%g)", r.Weight)
	}
	return s
}

// ref is a resolved (variable, term) pair in the engine registry.
type ref struct {
	variable int
	term     int
}

// compiledRule stores registry indices instead of variable references.
type compiledRule struct {
	when   []ref
	then   int
	weight float64
}
