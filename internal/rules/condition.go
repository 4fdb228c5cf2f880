// Package rules implements the Rules Engine Adapter: a salience-ordered
// forward-chaining engine over the Fact/FactMap model, with rule
// conditions represented as an algebraic tree rather than opaque closures
// (spec §4.5). This is deliberately hand-rolled rather than built on an
// external rule-engine library: the condition language needed here is a
// small, fixed algebra (fact presence plus attribute predicates composed
// with and/or/not), and the iteration cap and provenance-merging behavior
// are engine-specific enough that no general-purpose rule-engine
// dependency in the surrounding ecosystem would fit without being bent out
// of shape.
package rules

import "github.com/machellerogden/thinksuit/internal/fact"

// Condition is a node in the algebraic condition tree a Rule tests against
// the working FactMap before firing.
type Condition interface {
	Eval(m fact.Map) bool
}

// HasFact matches when at least one fact of Tag satisfies Predicate (or
// any fact of Tag, when Predicate is nil).
type HasFact struct {
	Tag       fact.Tag
	Predicate func(fact.Fact) bool
}

func (c HasFact) Eval(m fact.Map) bool {
	for _, f := range m[c.Tag] {
		if c.Predicate == nil || c.Predicate(f) {
			return true
		}
	}
	return false
}

// And matches when every child matches.
type And []Condition

func (c And) Eval(m fact.Map) bool {
	for _, child := range c {
		if !child.Eval(m) {
			return false
		}
	}
	return true
}

// Or matches when any child matches.
type Or []Condition

func (c Or) Eval(m fact.Map) bool {
	for _, child := range c {
		if child.Eval(m) {
			return true
		}
	}
	return false
}

// Not inverts its child.
type Not struct{ Child Condition }

func (c Not) Eval(m fact.Map) bool { return !c.Child.Eval(m) }

// Always matches unconditionally, for rules that fire once regardless of
// input facts (e.g. an unconditional Config-derived default).
type Always struct{}

func (Always) Eval(fact.Map) bool { return true }

// AttrEquals builds a predicate matching facts whose Attrs[key] equals
// value, for use as a HasFact.Predicate.
func AttrEquals(key string, value any) func(fact.Fact) bool {
	return func(f fact.Fact) bool {
		v, ok := f.Attrs[key]
		return ok && v == value
	}
}

// AttrAtLeast builds a predicate matching facts whose numeric Attrs[key]
// is >= threshold (e.g. confidence gates).
func AttrAtLeast(key string, threshold float64) func(fact.Fact) bool {
	return func(f fact.Fact) bool {
		v, ok := f.Attrs[key]
		if !ok {
			return false
		}
		n, ok := v.(float64)
		return ok && n >= threshold
	}
}
