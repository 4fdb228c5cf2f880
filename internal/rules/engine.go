package rules

import (
	"time"

	"github.com/machellerogden/thinksuit/internal/fact"
)

// MaxIterations is the hard cap on forward-chaining iterations (spec §4.5
// "Hard cap: ≤ 32 iterations").
const MaxIterations = 32

// Action produces zero or more new facts given the current working
// FactMap. Actions are pure with respect to the map they're handed: the
// engine merges returned facts back in, applying provenance.
type Action func(m fact.Map) []fact.Fact

// Rule is one entry of a rule set: a name, a salience used to order
// evaluation (highest first), a Condition gating whether it fires, and an
// Action producing facts when it does (spec §4.5).
type Rule struct {
	Name      string
	Salience  int
	When      Condition
	Then      Action
}

// Stats summarizes one Run invocation (spec §4.5 "Returns ... plus
// {iterations, duration, loopDetected, error?}").
type Stats struct {
	Iterations   int
	Duration     time.Duration
	LoopDetected bool
	Error        error
}

// Run drives salience-ordered forward chaining over input: in each
// iteration, rules are evaluated highest-salience first; a rule whose
// condition matches the current working map fires, and any facts its
// action returns are merged back in (re-entering matching on the next
// iteration). Chaining continues until an iteration adds no new facts or
// MaxIterations is reached, at which point LoopDetected is set and
// whatever has accumulated so far is returned.
//
// A rule execution error is caught per rule: the engine preserves
// existing facts, records the error in Stats, and continues with the
// remaining rules rather than failing the whole turn (spec §4.5).
func Run(input fact.Map, rs []Rule) (fact.Map, Stats) {
	start := time.Now()
	working := cloneMap(input)
	ordered := sortBySalience(rs)

	stats := Stats{}
	for iter := 1; iter <= MaxIterations; iter++ {
		stats.Iterations = iter
		addedAny := false

		for _, r := range ordered {
			added, err := fireRule(working, r)
			if err != nil {
				stats.Error = err
				continue
			}
			if len(added) > 0 {
				addedAny = true
				for _, f := range added {
					working.Add(f)
				}
			}
		}

		if !addedAny {
			stats.Duration = time.Since(start)
			return working, stats
		}
	}

	stats.LoopDetected = true
	stats.Duration = time.Since(start)
	return working, stats
}

// fireRule evaluates r's condition and, if it matches, runs its action,
// recovering from a panicking action so one misbehaving rule cannot abort
// the whole evaluation pass.
func fireRule(working fact.Map, r Rule) (added []fact.Fact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &RuleError{RuleName: r.Name, Cause: panicToError(rec)}
		}
	}()

	if r.When == nil || !r.When.Eval(working) {
		return nil, nil
	}
	if r.Then == nil {
		return nil, nil
	}
	facts := r.Then(working)
	for i, f := range facts {
		facts[i] = f.WithProvenance(fact.Provenance{Source: "rule", Producer: r.Name})
	}
	return facts, nil
}

func sortBySalience(rs []Rule) []Rule {
	ordered := make([]Rule, len(rs))
	copy(ordered, rs)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].Salience < ordered[j].Salience; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	return ordered
}

func cloneMap(m fact.Map) fact.Map {
	out := fact.New()
	for tag, facts := range m {
		cp := make([]fact.Fact, len(facts))
		copy(cp, facts)
		out[tag] = cp
	}
	return out
}
