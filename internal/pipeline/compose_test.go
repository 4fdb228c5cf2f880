package pipeline

import (
	"context"
	"testing"

	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/stretchr/testify/require"
)

func validComposer(ins module.Instructions) module.Composer {
	return func(in module.ComposeInput, m *module.Module) module.Instructions {
		return ins
	}
}

func TestComposeInstructionsUsesModuleOutputWhenValid(t *testing.T) {
	m := &module.Module{
		Compose: validComposer(module.Instructions{
			System:    "sys",
			Primary:   "primary",
			MaxTokens: 500,
			Metadata: module.InstructionMetadata{
				Role:            "assistant",
				BaseTokens:      500,
				TokenMultiplier: 1.0,
				LengthLevel:     "default",
			},
		}),
	}

	ins, err := ComposeInstructions(context.Background(), newTestContext(&recordingEmitter{}), ComposeInstructionsInput{
		Plan:      plan.Plan{Strategy: plan.StrategyDirect, Role: "assistant"},
		Facts:     fact.New(),
		Module:    m,
		ToolNames: []string{"search"},
	})
	require.NoError(t, err)
	require.Equal(t, "sys", ins.System)
	require.Equal(t, plan.StrategyDirect, ins.Metadata.Strategy)
	require.Equal(t, []string{"search"}, ins.Metadata.ToolsAvailable)
}

func TestComposeInstructionsSubstitutesDefaultsOnInvalidOutput(t *testing.T) {
	m := &module.Module{
		Compose: validComposer(module.Instructions{
			System:    "sys",
			MaxTokens: 0, // invalid: not positive
		}),
	}

	ins, err := ComposeInstructions(context.Background(), newTestContext(&recordingEmitter{}), ComposeInstructionsInput{
		Plan:   plan.Plan{Strategy: plan.StrategyDirect},
		Facts:  fact.New(),
		Module: m,
	})
	require.NoError(t, err)
	require.Equal(t, defaultInstructions.System, ins.System)
	require.Equal(t, defaultInstructions.Primary, ins.Primary)
}

func TestComposeInstructionsSubstitutesDefaultsWhenComposerPanics(t *testing.T) {
	m := &module.Module{
		Compose: func(in module.ComposeInput, mod *module.Module) module.Instructions {
			panic("composer exploded")
		},
	}

	ins, err := ComposeInstructions(context.Background(), newTestContext(&recordingEmitter{}), ComposeInstructionsInput{
		Plan:   plan.Plan{Strategy: plan.StrategyDirect},
		Facts:  fact.New(),
		Module: m,
	})
	require.NoError(t, err)
	require.Equal(t, defaultInstructions.System, ins.System)
}

func TestComposeInstructionsHandlesNilModule(t *testing.T) {
	ins, err := ComposeInstructions(context.Background(), newTestContext(&recordingEmitter{}), ComposeInstructionsInput{
		Plan:  plan.Plan{Strategy: plan.StrategyDirect},
		Facts: fact.New(),
	})
	require.NoError(t, err)
	require.Equal(t, defaultInstructions.System, ins.System)
}
