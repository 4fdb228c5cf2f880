package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
)

// Parallel runs every entry in plan.Roles concurrently, each a nested
// cycle, and aggregates usage across branches (spec §4.7 execParallel).
// If the abort signal fires while branches are outstanding, every
// outstanding branch is cancelled via a derived context and an interrupt
// is raised (spec §4.7 "all outstanding branches are cancelled and an
// interrupt is thrown").
func Parallel(ctx context.Context, in Input) (Response, error) {
	if len(in.Plan.Roles) == 0 {
		return Response{}, nil
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		role string
		resp Response
		err  error
	}
	results := make([]outcome, len(in.Plan.Roles))

	var wg sync.WaitGroup
	for i, role := range in.Plan.Roles {
		i, role := i, role
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := plan.Plan{Strategy: plan.StrategyTask, Role: role.Name, Tools: role.Tools}
			resp, err := in.Machine.RunCycle(branchCtx, CycleInput{Plan: sub, Thread: in.Thread})
			results[i] = outcome{role: role.Name, resp: resp, err: err}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	interrupted := false
	if abortCh := in.Machine.AbortSignal; abortCh != nil {
		select {
		case <-done:
		case <-abortCh:
			cancel()
			<-done
			interrupted = true
		}
	} else {
		<-done
	}

	if interrupted {
		return Response{}, newInterrupt("execParallel", in.Thread, llm.Usage{}, 0)
	}

	var totalUsage llm.Usage
	branchResults := make([]module.StepResult, len(results))
	for i, r := range results {
		if r.err != nil {
			if _, isInterrupt := r.err.(*thinkerr.Interrupt); isInterrupt {
				return Response{}, r.err
			}
			branchResults[i] = module.StepResult{Role: r.role, Output: fmt.Sprintf("[Error in %s branch]", r.role)}
			continue
		}
		if r.resp.Error != "" {
			branchResults[i] = module.StepResult{Role: r.role, Output: fmt.Sprintf("[Error in %s branch]", r.role), Error: r.resp.Error}
			continue
		}
		totalUsage = totalUsage.Add(r.resp.Usage)
		branchResults[i] = module.StepResult{Role: r.role, Output: r.resp.Output}
	}

	output := combineBranchOutputs(in, branchResults)
	return Response{Output: output, Usage: totalUsage, FinishReason: llm.FinishComplete}, nil
}

// combineBranchOutputs applies resultStrategy: formatted when the module
// supplies a response-formatter, else label (spec §4.7 execParallel
// "resultStrategy default: formatted when the module provides a
// response-formatter, else label"). Every other case (last, concat, label,
// or formatted without a formatter) produces the labeled
// "[<role>]: <output>" form.
func combineBranchOutputs(in Input, results []module.StepResult) string {
	hasFormatter := in.Machine.Module != nil && in.Machine.Module.FormatResponse != nil
	strategy := in.Plan.ResultStrategy
	if strategy == "" {
		strategy = plan.DefaultResultStrategy(plan.StrategyParallel, hasFormatter)
	}

	if strategy == plan.ResultFormatted && hasFormatter {
		return in.Machine.Module.FormatResponse(results)
	}

	out := ""
	for i, r := range results {
		if i > 0 {
			out += "\n\n"
		}
		out += fmt.Sprintf("[%s]: %s", r.Role, r.Output)
	}
	return out
}
