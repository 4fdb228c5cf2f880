package policy

import (
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/rules"
)

// RetryHintReason names why a retry hint was issued, mirrored from the
// teacher's policy.RetryReason enum.
type RetryHintReason string

const (
	RetryReasonToolUnavailable RetryHintReason = "tool_unavailable"
	RetryReasonToolFailed      RetryHintReason = "tool_failed"
)

// RetryHint narrows or disables a tool for subsequent cycles of the same
// task, grounded on the teacher's policy.RetryHint concept. It travels as
// the "retryHint" attribute of the ToolPolicyStatement fact that
// ToolFailureStatement builds.
type RetryHint struct {
	Tool           string
	Reason         RetryHintReason
	RestrictToTool bool
}

// ToolFailureStatement builds a ToolPolicyStatement fact for a failed tool
// call: it blocks the failing tool and carries the RetryHint so an
// evaluateRules pass that receives the fact can see why. execTask does not
// call it; its consecutive-failure breaker is tracked locally in the task
// loop.
func ToolFailureStatement(tool string, reason RetryHintReason) fact.Fact {
	return fact.Fact{
		Tag: fact.TagToolPolicyStatement,
		Attrs: map[string]any{
			"tool":    tool,
			"allowed": false,
			"retryHint": RetryHint{
				Tool:   tool,
				Reason: reason,
			},
		},
	}
}

// ConsecutiveFailureEnforcement is the System Enforcement rule for the
// maxConsecutiveToolFailures knob (supplemented feature: "Consecutive-
// failure circuit breaking"). It reacts to a Derived fact recording the
// current consecutive-failure count for a specific tool and, once it
// reaches the configured limit, emits both a blocking ToolPolicyStatement
// for that tool and a policyAdjusted shadow ExecutionPlan explaining why.
func ConsecutiveFailureEnforcement() rules.Rule {
	kind := DerivedConsecutiveToolFailures
	return rules.Rule{
		Name:     "enforce.maxConsecutiveToolFailures",
		Salience: EnforcementSalience,
		When: rules.And{
			rules.HasFact{Tag: fact.TagPolicyConstraint, Predicate: rules.AttrEquals("kind", kind)},
			rules.HasFact{Tag: fact.TagDerived, Predicate: rules.AttrEquals("kind", kind)},
		},
		Then: func(m fact.Map) []fact.Fact {
			limit, ok := constraintLimit(m, kind)
			if !ok {
				return nil
			}
			var out []fact.Fact
			for _, f := range m[fact.TagDerived] {
				if k, _ := f.Attrs["kind"].(string); k != kind {
					continue
				}
				tool, _ := f.Attrs["tool"].(string)
				if tool == "" {
					continue
				}
				value, ok := intAttr(f.Attrs, "value")
				if !ok || value < limit {
					continue
				}
				if alreadyDisabled(m, tool) {
					continue
				}
				out = append(out,
					fact.Fact{
						Tag: fact.TagToolPolicyStatement,
						Attrs: map[string]any{
							"tool":    tool,
							"allowed": false,
						},
					},
					fact.Fact{
						Tag: fact.TagExecutionPlan,
						Attrs: map[string]any{
							"confidence":     0.0,
							"policyAdjusted": true,
							"reason":         "tool disabled after repeated consecutive failures",
							"kind":           kind,
							"disabledTool":   tool,
						},
					},
				)
			}
			return out
		},
	}
}

func alreadyDisabled(m fact.Map, tool string) bool {
	for _, f := range m[fact.TagToolPolicyStatement] {
		t, _ := f.Attrs["tool"].(string)
		allowed, _ := f.Attrs["allowed"].(bool)
		if t == tool && !allowed {
			return true
		}
	}
	return false
}

func intAttr(attrs map[string]any, key string) (int, bool) {
	if v, ok := attrs[key].(int); ok {
		return v, true
	}
	if v, ok := attrs[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}
