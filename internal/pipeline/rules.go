package pipeline

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/policy"
	"github.com/machellerogden/thinksuit/internal/rules"
)

// EvaluateRulesInput is evaluateRules' typed input.
type EvaluateRulesInput struct {
	Facts       fact.Map
	ModuleRules []rules.Rule
	Policy      policy.Config
}

// EvaluateRulesOutput carries the engine's working map alongside its run
// statistics, so callers (and the Cycle Runner's logging) can surface
// loop detection and per-pass duration (spec §4.5 "Returns ... plus
// {iterations, duration, loopDetected, error?}").
type EvaluateRulesOutput struct {
	Facts fact.Map
	Stats rules.Stats
}

// EvaluateRules drives the Rules Engine Adapter over the module's own
// rules plus the Policy Rule set and System Enforcement rules derived
// from the turn's policy config (spec §4.6 "evaluateRules": module rules
// + Policy Rule set + System Enforcement rules via the Rules Engine
// Adapter). Budget 100 ms.
func EvaluateRules(ctx context.Context, pc Context, in EvaluateRulesInput) (EvaluateRulesOutput, error) {
	var out EvaluateRulesOutput
	err := run(ctx, pc, stageRuleEvaluation, "pipeline.rule_evaluation.duration", func(ctx context.Context, boundaryID event.ID) error {
		rs := make([]rules.Rule, 0, len(in.ModuleRules))
		rs = append(rs, in.ModuleRules...)
		rs = append(rs, policy.ConstraintRules(in.Policy)...)
		rs = append(rs, policy.ToolPolicyRules(in.Policy)...)
		rs = append(rs, policy.EnforcementRules()...)

		working, stats := rules.Run(in.Facts, rs)
		out = EvaluateRulesOutput{Facts: working, Stats: stats}

		if stats.LoopDetected && pc.Log != nil {
			pc.Log.Warn(ctx, "evaluateRules: loop detected", "iterations", stats.Iterations)
		}
		if stats.Error != nil {
			return stats.Error
		}
		return nil
	})
	return out, err
}
