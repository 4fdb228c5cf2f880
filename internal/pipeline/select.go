package pipeline

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/plan"
)

// DefaultPlan is the synthesized fallback plan selectPlan returns when no
// usable SelectedPlan fact exists at all (spec §4.6 "selectPlan ... else
// synthesize {strategy: direct, role: assistant}").
var DefaultPlan = plan.Plan{
	Strategy: plan.StrategyDirect,
	Role:     "assistant",
}

// SelectPlanInput is selectPlan's typed input.
type SelectPlanInput struct {
	Facts fact.Map
}

// SelectPlan applies the preference ordering of spec §4.6 "selectPlan":
// the last SelectedPlan fact whose hasTools attribute is truthy; failing
// that, the last SelectedPlan fact overall; failing that, a synthesized
// direct/assistant plan. Only SelectedPlan facts are read, so the shadow
// ExecutionPlan facts System Enforcement emits (spec §4.12) never reach
// this choice. Confidence and PolicyBlocked on a decoded plan are not
// consulted: a SelectedPlan fact carrying PolicyBlocked is ranked by the
// same hasTools-then-position ordering as any other.
func SelectPlan(ctx context.Context, pc Context, in SelectPlanInput) (plan.Plan, error) {
	var selected plan.Plan
	err := run(ctx, pc, stagePlanSelection, "pipeline.plan_selection.duration", func(ctx context.Context, boundaryID event.ID) error {
		candidates := decodePlans(in.Facts[fact.TagSelectedPlan])
		selected = pickPlan(candidates)
		return nil
	})
	return selected, err
}

func decodePlans(facts []fact.Fact) []plan.Plan {
	out := make([]plan.Plan, 0, len(facts))
	for _, f := range facts {
		if p, ok := plan.FromFact(f); ok {
			out = append(out, p)
		}
	}
	return out
}

func pickPlan(plans []plan.Plan) plan.Plan {
	for i := len(plans) - 1; i >= 0; i-- {
		if plans[i].HasTools {
			return plans[i]
		}
	}
	if len(plans) > 0 {
		return plans[len(plans)-1]
	}
	return DefaultPlan
}
