// Package plan implements the Plan data model: the discriminated
// execution strategy selected by the decision pipeline and handed to the
// execution plane (spec §3 Plan).
package plan

import "github.com/machellerogden/thinksuit/internal/fact"

// Strategy discriminates a Plan's execution path.
type Strategy string

const (
	StrategyDirect     Strategy = "direct"
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyTask       Strategy = "task"
	StrategyFallback   Strategy = "fallback"
)

// ResultStrategy controls how execSequential/execParallel combine step or
// branch outputs into a single response (spec §3 Plan.resultStrategy).
type ResultStrategy string

const (
	ResultLast      ResultStrategy = "last"
	ResultConcat    ResultStrategy = "concat"
	ResultLabel     ResultStrategy = "label"
	ResultFormatted ResultStrategy = "formatted"
)

// Resolution bounds a plan's resource budget (spec §3 Plan.resolution).
type Resolution struct {
	MaxCycles    int
	MaxTokens    int
	MaxToolCalls int
	TimeoutMs    int
}

// Step is one entry of a sequential plan's Sequence (spec §4.7
// execSequential: "each step a nested cycle with strategy: task by
// default unless the step object overrides strategy").
type Step struct {
	Role     string
	Strategy Strategy
	Tools    []string
}

// Role is one entry of a parallel plan's Roles (spec §4.7 execParallel).
type Role struct {
	Name  string
	Tools []string
}

// Plan is discriminated by Strategy and carries the fields relevant to
// that strategy; fields irrelevant to a given Strategy are left zero
// (spec §3 Plan).
type Plan struct {
	Strategy Strategy
	Role     string
	Tools    []string

	Resolution *Resolution

	Sequence           []Step
	ThreadAccumulation bool
	BuildThread        bool

	Roles []Role

	ResultStrategy ResultStrategy

	// HasTools mirrors the presence of a non-empty Tools/Sequence-tools
	// set, cached here so selectPlan's preference ordering (spec §4.6
	// selectPlan) does not need to re-derive it from a SelectedPlan fact's
	// opaque attrs.
	HasTools bool

	// PolicyBlocked/PolicyAdjusted/Confidence mirror the attributes the
	// System Enforcement rules set on their shadow ExecutionPlan fact (spec
	// §4.12): a blocked plan always carries Confidence == 0. selectPlan
	// does not consult these fields.
	PolicyBlocked  bool
	PolicyAdjusted bool
	Confidence     float64
}

// DefaultResultStrategy returns the resultStrategy to use for strategy
// when the plan did not specify one explicitly (spec §4.7): sequential
// defaults to "last"; parallel defaults to "formatted" when a
// response-formatter is available, else "label".
func DefaultResultStrategy(strategy Strategy, hasFormatter bool) ResultStrategy {
	switch strategy {
	case StrategySequential:
		return ResultLast
	case StrategyParallel:
		if hasFormatter {
			return ResultFormatted
		}
		return ResultLabel
	default:
		return ResultLast
	}
}

// EffectiveStepStrategy returns the strategy a sequential step runs
// under: the step's own override if set, otherwise task (spec §4.7
// execSequential).
func EffectiveStepStrategy(step Step) Strategy {
	if step.Strategy != "" {
		return step.Strategy
	}
	return StrategyTask
}

// ToFact wraps p as a SelectedPlan fact: the Plan itself travels opaque
// under "plan", with "hasTools" and "confidence" mirrored at the top
// level so selectPlan's preference ordering (spec §4.6) and a rule's own
// Condition predicates can pattern-match on them without unwrapping p.
func (p Plan) ToFact(prov fact.Provenance) fact.Fact {
	return fact.Fact{
		Tag: fact.TagSelectedPlan,
		Attrs: map[string]any{
			"plan":       p,
			"hasTools":   p.HasTools,
			"confidence": p.Confidence,
		},
		Provenance: prov,
	}
}

// FromFact unwraps a SelectedPlan fact built by ToFact. ok is false when
// f does not carry a Plan under "plan" (e.g. a malformed fact from a
// misbehaving rule).
func FromFact(f fact.Fact) (Plan, bool) {
	p, ok := f.Attrs["plan"].(Plan)
	return p, ok
}
