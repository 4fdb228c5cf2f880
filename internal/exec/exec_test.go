package exec

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/module"
)

type fakeProvider struct {
	responses []llm.Response
	errs      []error
	calls     []llm.Request
}

func (f *fakeProvider) Call(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls = append(f.calls, req)
	i := len(f.calls) - 1
	var resp llm.Response
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	} else if len(f.responses) > 0 {
		resp = f.responses[len(f.responses)-1]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

// directCycleFunc is a test RunCycle stub that drives a fresh Direct call
// for every nested cycle invocation, mirroring the shape the real Cycle
// Runner will present without depending on internal/cycle.
func directCycleFunc(m Machine) CycleFunc {
	return func(ctx context.Context, in CycleInput) (Response, error) {
		return Direct(ctx, Input{
			Plan:         in.Plan,
			Instructions: fixedInstructions,
			Thread:       in.Thread,
			Machine:      m,
		})
	}
}

var fixedInstructions = module.Instructions{System: "system prompt", Primary: "primary prompt", MaxTokens: 500}
