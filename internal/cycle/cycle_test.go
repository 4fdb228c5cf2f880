package cycle

import (
	"context"
	"testing"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/exec"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/rules"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	resp llm.Response
	err  error
}

func (f *fakeProvider) Call(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f.resp, f.err
}

func validComposer(ins module.Instructions) module.Composer {
	return func(in module.ComposeInput, m *module.Module) module.Instructions { return ins }
}

func TestRunDrivesPipelineAndDispatchesDirect(t *testing.T) {
	ins := module.Instructions{
		System: "sys", Primary: "primary", MaxTokens: 200,
		Metadata: module.InstructionMetadata{Role: "assistant", BaseTokens: 200, TokenMultiplier: 1, LengthLevel: "default"},
	}
	m := &module.Module{Compose: validComposer(ins)}
	provider := &fakeProvider{resp: llm.Response{Text: "hello", FinishReason: llm.FinishComplete}}

	result, err := Run(context.Background(), Machine{Module: m, Provider: provider}, Input{
		Thread: event.Thread{{Role: event.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.False(t, result.Interrupted)
	require.Equal(t, "hello", result.Response.Output)
	require.Equal(t, plan.StrategyDirect, result.Plan.Strategy)
}

func TestRunSetsResponseFramingFromComposedInstructions(t *testing.T) {
	ins := module.Instructions{
		System: "sys", Adaptations: "adapt", MaxTokens: 100,
		Metadata: module.InstructionMetadata{Role: "assistant", BaseTokens: 100, TokenMultiplier: 1, LengthLevel: "default"},
	}
	m := &module.Module{Compose: validComposer(ins)}
	provider := &fakeProvider{resp: llm.Response{Text: "hello", FinishReason: llm.FinishComplete}}

	result, err := Run(context.Background(), Machine{Module: m, Provider: provider}, Input{
		Thread: event.Thread{{Role: event.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "sys\n\nadapt", result.Response.Framing)
}

func TestRunUsesForcedPlanStrategy(t *testing.T) {
	ins := module.Instructions{
		MaxTokens: 100,
		Metadata:  module.InstructionMetadata{Role: "assistant", BaseTokens: 100, TokenMultiplier: 1, LengthLevel: "default"},
	}
	m := &module.Module{Compose: validComposer(ins)}
	provider := &fakeProvider{resp: llm.Response{Text: "seq-output", FinishReason: llm.FinishComplete}}

	forced := plan.Plan{Strategy: plan.StrategySequential, Sequence: []plan.Step{{Role: "assistant"}}}
	result, err := Run(context.Background(), Machine{Module: m, Provider: provider}, Input{
		Thread:     event.Thread{{Role: event.RoleUser, Content: "hi"}},
		ForcedPlan: &forced,
	})
	require.NoError(t, err)
	require.Equal(t, plan.StrategySequential, result.Plan.Strategy)
	require.Equal(t, "seq-output", result.Response.Output)
}

func TestRunRejectsDepthBeyondLimit(t *testing.T) {
	_, err := Run(context.Background(), Machine{}, Input{Depth: DefaultMaxDepth + 1})
	require.Error(t, err)
	require.Equal(t, thinkerr.EDepth, thinkerr.KindOf(err))
}

func TestRunRoutesPipelineFailureThroughFallback(t *testing.T) {
	m := &module.Module{Rules: []rules.Rule{
		{Name: "boom", Salience: 10, When: rules.Always{}, Then: func(fact.Map) []fact.Fact { panic("boom") }},
	}}

	result, err := Run(context.Background(), Machine{Module: m}, Input{
		Thread: event.Thread{{Role: event.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Response.Output)
}

func TestRunMapsInterruptToInterruptedResult(t *testing.T) {
	abort := make(chan struct{})
	close(abort)
	ins := module.Instructions{
		MaxTokens: 100,
		Metadata:  module.InstructionMetadata{Role: "assistant", BaseTokens: 100, TokenMultiplier: 1, LengthLevel: "default"},
	}
	m := &module.Module{Compose: validComposer(ins)}

	result, err := Run(context.Background(), Machine{Module: m, AbortSignal: abort}, Input{
		Thread: event.Thread{{Role: event.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.True(t, result.Interrupted)
	require.NotNil(t, result.Interrupt)
}

func TestNestedRunCycleRecursesWithIncrementedDepth(t *testing.T) {
	ins := module.Instructions{
		MaxTokens: 100,
		Metadata:  module.InstructionMetadata{Role: "assistant", BaseTokens: 100, TokenMultiplier: 1, LengthLevel: "default"},
	}
	m := Machine{Module: &module.Module{Compose: validComposer(ins)}, Provider: &fakeProvider{resp: llm.Response{Text: "nested", FinishReason: llm.FinishComplete}}}
	runCycle := nestedRunCycle(m, event.ID(""), 3)

	resp, err := runCycle(context.Background(), exec.CycleInput{
		Plan:   plan.Plan{Strategy: plan.StrategyDirect, Role: "assistant"},
		Thread: event.Thread{{Role: event.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "nested", resp.Output)
}

func TestNestedRunCycleCarriesComposedFramingBackToResponse(t *testing.T) {
	ins := module.Instructions{
		System: "nested-sys", MaxTokens: 100,
		Metadata: module.InstructionMetadata{Role: "assistant", BaseTokens: 100, TokenMultiplier: 1, LengthLevel: "default"},
	}
	m := Machine{Module: &module.Module{Compose: validComposer(ins)}, Provider: &fakeProvider{resp: llm.Response{Text: "nested", FinishReason: llm.FinishComplete}}}
	runCycle := nestedRunCycle(m, event.ID(""), 3)

	resp, err := runCycle(context.Background(), exec.CycleInput{
		Plan:   plan.Plan{Strategy: plan.StrategyDirect, Role: "assistant"},
		Thread: event.Thread{{Role: event.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "nested-sys", resp.Framing)
}

func TestNestedRunCycleSurfacesDepthLimitAsError(t *testing.T) {
	m := Machine{}
	runCycle := nestedRunCycle(m, event.ID(""), DefaultMaxDepth)

	_, err := runCycle(context.Background(), exec.CycleInput{
		Plan:   plan.Plan{Strategy: plan.StrategyDirect},
		Thread: event.Thread{{Role: event.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
}
