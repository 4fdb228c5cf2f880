package exec

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/tools"
)

// Direct runs one language-model call: instructions as system prompt plus
// an adaptations suffix, and the primary prompt prepended to the final
// user message (spec §4.7 execDirect). Temperature is selected per-role
// from the module, falling back to 0.7. The provider's reply is returned
// verbatim; a provider error produces a Response with Error set rather
// than a Go error, matching "errors from the provider produce a response
// with error set rather than throwing."
func Direct(ctx context.Context, in Input) (Response, error) {
	if in.Machine.aborted() {
		return Response{}, newInterrupt("execDirect", in.Thread, llm.Usage{}, 0)
	}

	thread := withPrimaryPrompt(in.Thread, in.Instructions.Primary)
	framing := BuildSystemPrompt(in.Instructions)
	req := llm.Request{
		System:      framing,
		Thread:      thread,
		MaxTokens:   in.Instructions.MaxTokens,
		Temperature: temperatureForRole(in.Machine.Module, in.Plan.Role),
		Tools:       resolveToolSpecs(in.Plan.Tools, in.Machine.DiscoveredTools),
	}

	if in.Machine.Provider == nil {
		return Response{Error: "no language-model provider configured"}, nil
	}

	resp, err := in.Machine.Provider.Call(ctx, req)
	if err != nil {
		return Response{Error: err.Error(), Thread: thread}, nil
	}
	if resp.Error != "" {
		return Response{Error: resp.Error, Usage: resp.Usage, Thread: thread}, nil
	}

	outThread := thread
	if resp.Text != "" {
		outThread = appendAssistantOutput(thread, resp)
	}

	return Response{
		Output:       resp.Text,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
		Thread:       outThread,
		ToolCalls:    resp.ToolCalls,
		Framing:      framing,
	}, nil
}

// resolveToolSpecs resolves the plan's allowed tool names against what
// Tool Discovery actually found, in allowed order, dropping any name that
// was not discovered. Without this the provider is never told which
// tools exist and so can never request one (spec §4.7 execTask step 4).
func resolveToolSpecs(allowed []string, discovered tools.Discovered) []tools.Spec {
	if len(allowed) == 0 || len(discovered) == 0 {
		return nil
	}
	specs := make([]tools.Spec, 0, len(allowed))
	for _, name := range allowed {
		if spec, ok := discovered[tools.Ident(name)]; ok {
			specs = append(specs, spec)
		}
	}
	return specs
}
