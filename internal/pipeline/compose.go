package pipeline

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/plan"
)

// defaultInstructions is the substitute set composeInstructions falls
// back to when a module's Composer produces something that fails
// validation (spec §4.6 "composeInstructions ... on invalid, substitute
// a default instruction set"). The substitution is whole-set, not a
// per-field patch: a module that returns a malformed Instructions value
// cannot be trusted to have gotten any of its other fields right either.
var defaultInstructions = module.Instructions{
	System:  "You are a helpful assistant.",
	Primary: "Respond to the user's message directly and concisely.",
	MaxTokens: 1024,
	Metadata: module.InstructionMetadata{
		Role:            "assistant",
		BaseTokens:      1024,
		TokenMultiplier: 1.0,
		LengthLevel:     "default",
	},
}

// ComposeInstructionsInput is composeInstructions' typed input.
type ComposeInstructionsInput struct {
	Plan      plan.Plan
	Facts     fact.Map
	Module    *module.Module
	ToolNames []string
}

// ComposeInstructions delegates to the module's Composer, validates the
// result strictly, substitutes defaultInstructions on failure, and
// enriches metadata.strategy/metadata.toolsAvailable from the selected
// plan and discovered tools (spec §4.6 "composeInstructions").
func ComposeInstructions(ctx context.Context, pc Context, in ComposeInstructionsInput) (module.Instructions, error) {
	var ins module.Instructions
	err := run(ctx, pc, stageInstructionComposition, "pipeline.instruction_composition.duration", func(ctx context.Context, boundaryID event.ID) error {
		candidate := invokeComposer(in.Module, in.Plan, in.Facts)
		if !validInstructions(candidate) {
			if pc.Log != nil {
				pc.Log.Warn(ctx, "composeInstructions: module output invalid, substituting defaults", "role", in.Plan.Role)
			}
			candidate = defaultInstructions
		}
		candidate.Metadata.Strategy = in.Plan.Strategy
		candidate.Metadata.ToolsAvailable = append([]string(nil), in.ToolNames...)
		ins = candidate
		return nil
	})
	return ins, err
}

func invokeComposer(m *module.Module, p plan.Plan, facts fact.Map) (out module.Instructions) {
	if m == nil || m.Compose == nil {
		return module.Instructions{}
	}
	defer func() {
		if recover() != nil {
			out = module.Instructions{}
		}
	}()
	return m.Compose(module.ComposeInput{Plan: p, Facts: facts}, m)
}

// validInstructions applies the strict shape check spec §4.6 calls for:
// all string fields present (the zero value already satisfies that in
// Go), maxTokens numeric and positive, and metadata.{role, baseTokens,
// tokenMultiplier, lengthLevel} typed and non-zero where a zero value
// would be meaningless (an empty role or a zero token multiplier is not a
// value a well-formed module would ever produce).
func validInstructions(ins module.Instructions) bool {
	if !ins.Valid() {
		return false
	}
	if ins.Metadata.Role == "" {
		return false
	}
	if ins.Metadata.BaseTokens <= 0 {
		return false
	}
	if ins.Metadata.TokenMultiplier <= 0 {
		return false
	}
	if ins.Metadata.LengthLevel == "" {
		return false
	}
	return true
}
