package pipeline

import (
	"context"
	"testing"

	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/stretchr/testify/require"
)

func TestSelectPlanPrefersLastPlanWithTools(t *testing.T) {
	facts := fact.New()
	facts.Add(plan.Plan{Strategy: plan.StrategyTask, Role: "researcher", HasTools: true}.ToFact(fact.Provenance{}))
	facts.Add(plan.Plan{Strategy: plan.StrategyDirect, Role: "assistant"}.ToFact(fact.Provenance{}))
	facts.Add(plan.Plan{Strategy: plan.StrategySequential, Role: "editor"}.ToFact(fact.Provenance{}))

	selected, err := SelectPlan(context.Background(), newTestContext(&recordingEmitter{}), SelectPlanInput{Facts: facts})
	require.NoError(t, err)
	require.Equal(t, plan.StrategyTask, selected.Strategy)
	require.Equal(t, "researcher", selected.Role)
}

func TestSelectPlanFallsBackToLastPlanOverall(t *testing.T) {
	facts := fact.New()
	facts.Add(plan.Plan{Strategy: plan.StrategyDirect, Role: "assistant"}.ToFact(fact.Provenance{}))
	facts.Add(plan.Plan{Strategy: plan.StrategySequential, Role: "editor"}.ToFact(fact.Provenance{}))

	selected, err := SelectPlan(context.Background(), newTestContext(&recordingEmitter{}), SelectPlanInput{Facts: facts})
	require.NoError(t, err)
	require.Equal(t, plan.StrategySequential, selected.Strategy)
}

func TestSelectPlanSynthesizesDefaultWhenNoPlans(t *testing.T) {
	selected, err := SelectPlan(context.Background(), newTestContext(&recordingEmitter{}), SelectPlanInput{Facts: fact.New()})
	require.NoError(t, err)
	require.Equal(t, DefaultPlan, selected)
}

func TestSelectPlanIgnoresPolicyBlockedPlanWhenAlternativeExists(t *testing.T) {
	facts := fact.New()
	facts.Add(plan.Plan{Strategy: plan.StrategyTask, Role: "researcher", HasTools: true}.ToFact(fact.Provenance{}))
	facts.Add(plan.Plan{Strategy: plan.StrategyTask, PolicyBlocked: true, Confidence: 0}.ToFact(fact.Provenance{}))

	selected, err := SelectPlan(context.Background(), newTestContext(&recordingEmitter{}), SelectPlanInput{Facts: facts})
	require.NoError(t, err)
	require.Equal(t, "researcher", selected.Role)
}
