package policy

import (
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/rules"
)

// EnforcementRules returns the System Enforcement rule set (spec §4.12):
// rules, all at EnforcementSalience, that react to PolicyConstraint facts
// by comparing the constraint's limit against the matching Derived fact
// for that turn and, on violation, emitting a shadow ExecutionPlan fact.
// Depth/fanout/sequential-step violations are hard blocks
// (confidence=0, policyBlocked=true); task-cycle violations are capped
// rather than blocked (policyAdjusted=true, limit substituted for the
// offending parameter) per spec §4.12's explicit carve-out for task
// cycles. The shadow plan is an ExecutionPlan fact; selectPlan reads only
// SelectedPlan facts, so it never chooses a shadow plan and applies no
// blocked-plan check of its own.
func EnforcementRules() []rules.Rule {
	return []rules.Rule{
		enforceBlock("enforce.maxDepth", DerivedDepth),
		enforceBlock("enforce.maxFanout", DerivedFanout),
		enforceBlock("enforce.maxSequentialSteps", DerivedSequentialSteps),
		enforceTaskCycleCap(),
		ConsecutiveFailureEnforcement(),
	}
}

// enforceBlock builds a hard-block enforcement rule for a single
// constraint kind: any Derived fact of that kind whose value exceeds the
// configured limit produces a blocked shadow ExecutionPlan.
func enforceBlock(name, kind string) rules.Rule {
	return rules.Rule{
		Name:     name,
		Salience: EnforcementSalience,
		When: rules.And{
			rules.HasFact{Tag: fact.TagPolicyConstraint, Predicate: rules.AttrEquals("kind", kind)},
			rules.HasFact{Tag: fact.TagDerived, Predicate: rules.AttrEquals("kind", kind)},
			rules.Not{Child: rules.HasFact{Tag: fact.TagExecutionPlan, Predicate: rules.AttrEquals("kind", kind)}},
		},
		Then: func(m fact.Map) []fact.Fact {
			limit, ok := constraintLimit(m, kind)
			if !ok {
				return nil
			}
			value, ok := derivedValue(m, kind)
			if !ok || value <= limit {
				return nil
			}
			return []fact.Fact{{
				Tag: fact.TagExecutionPlan,
				Attrs: map[string]any{
					"confidence":    0.0,
					"policyBlocked": true,
					"reason":        kind + " exceeds policy limit",
					"kind":          kind,
					"limit":         limit,
					"value":         value,
				},
			}}
		},
	}
}

// enforceTaskCycleCap is the task-cycle carve-out: instead of blocking
// outright, it emits an adjusted shadow plan capping maxTaskCycles at the
// configured limit (spec §4.12 "policyAdjusted=true with capped
// parameters for task cycles").
func enforceTaskCycleCap() rules.Rule {
	return rules.Rule{
		Name:     "enforce.maxTaskCycles",
		Salience: EnforcementSalience,
		When: rules.And{
			rules.HasFact{Tag: fact.TagPolicyConstraint, Predicate: rules.AttrEquals("kind", DerivedTaskCycles)},
			rules.HasFact{Tag: fact.TagDerived, Predicate: rules.AttrEquals("kind", DerivedTaskCycles)},
			rules.Not{Child: rules.HasFact{Tag: fact.TagExecutionPlan, Predicate: rules.AttrEquals("kind", DerivedTaskCycles)}},
		},
		Then: func(m fact.Map) []fact.Fact {
			limit, ok := constraintLimit(m, DerivedTaskCycles)
			if !ok {
				return nil
			}
			value, ok := derivedValue(m, DerivedTaskCycles)
			if !ok || value <= limit {
				return nil
			}
			return []fact.Fact{{
				Tag: fact.TagExecutionPlan,
				Attrs: map[string]any{
					"confidence":     0.0,
					"policyAdjusted": true,
					"reason":         "maxTaskCycles capped by policy",
					"kind":           DerivedTaskCycles,
					"maxCycles":      limit,
				},
			}}
		},
	}
}

func constraintLimit(m fact.Map, kind string) (int, bool) {
	for _, f := range m[fact.TagPolicyConstraint] {
		if k, _ := f.Attrs["kind"].(string); k != kind {
			continue
		}
		if v, ok := f.Attrs["limit"].(int); ok {
			return v, true
		}
		if v, ok := f.Attrs["limit"].(float64); ok {
			return int(v), true
		}
	}
	return 0, false
}

func derivedValue(m fact.Map, kind string) (int, bool) {
	for _, f := range m[fact.TagDerived] {
		if k, _ := f.Attrs["kind"].(string); k != kind {
			continue
		}
		if v, ok := f.Attrs["value"].(int); ok {
			return v, true
		}
		if v, ok := f.Attrs["value"].(float64); ok {
			return int(v), true
		}
	}
	return 0, false
}
