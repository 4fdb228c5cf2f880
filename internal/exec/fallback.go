package exec

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
)

// fallbackExplanations is the human-readable explanation keyed by error
// code (spec §4.7 execFallback "produce a human-readable error-kind
// explanation keyed by error code").
var fallbackExplanations = map[thinkerr.Kind]string{
	thinkerr.EDepth:      "This request required more nested steps than the configured depth limit allows.",
	thinkerr.EFanout:     "This request required more parallel branches than the configured fan-out limit allows.",
	thinkerr.EChildren:   "This request spawned more child executions than the configured limit allows.",
	thinkerr.EProvider:   "The language-model provider could not complete this request.",
	thinkerr.ETimeout:    "This request took longer than the configured timeout allows.",
	thinkerr.EUnknown:    "An unexpected error occurred while processing this request.",
}

const fallbackMaxTokens = 200
const fallbackTemperature = 0.2

// FallbackInput carries the error Fallback explains, in addition to the
// standard execution handler Input shape.
type FallbackInput struct {
	Input
	Err error
}

// Fallback produces a static, error-kind-keyed explanation and optionally
// attempts one bounded recovery call for non-provider error classes
// (spec §4.7 execFallback). Recovery failure silently degrades to the
// static response: a fallback handler that itself fails would leave the
// turn with no response at all, which is strictly worse than the static
// explanation it already has in hand.
func Fallback(ctx context.Context, in FallbackInput) (Response, error) {
	kind := thinkerr.KindOf(in.Err)
	explanation, ok := fallbackExplanations[kind]
	if !ok {
		explanation = fallbackExplanations[thinkerr.EUnknown]
	}

	if kind == thinkerr.EProvider || in.Machine.Provider == nil {
		return Response{Output: explanation}, nil
	}

	req := llm.Request{
		System:      BuildSystemPrompt(in.Instructions),
		Thread:      withPrimaryPrompt(in.Thread, in.Instructions.Primary),
		MaxTokens:   fallbackMaxTokens,
		Temperature: fallbackTemperature,
	}
	resp, err := in.Machine.Provider.Call(ctx, req)
	if err != nil || resp.Error != "" || resp.Text == "" {
		return Response{Output: explanation}, nil
	}
	return Response{Output: resp.Text, Usage: resp.Usage}, nil
}
