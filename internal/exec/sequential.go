package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
)

// Sequential runs plan.Sequence in order, each step a nested cycle with
// strategy "task" by default unless the step overrides it (spec §4.7
// execSequential). A step's tools are honored only when its effective
// strategy is task. A step failure is recorded as a placeholder and
// execution continues with the remaining steps.
func Sequential(ctx context.Context, in Input) (Response, error) {
	var (
		totalUsage   llm.Usage
		stepOutputs  []string
		runningThread event.Thread
		lastResponse string
		labeledTurns []string
	)

	buildThread := in.Plan.ThreadAccumulation
	if buildThread {
		runningThread = in.Thread.Append(event.Message{
			Role:    event.RoleSystemFraming,
			Content: fmt.Sprintf("Plan overview: %d step(s)", len(in.Plan.Sequence)),
		})
	}

	for i, step := range in.Plan.Sequence {
		if in.Machine.aborted() {
			return Response{}, newInterrupt("execSequential", in.Thread, totalUsage, 0)
		}

		strategy := plan.EffectiveStepStrategy(step)
		var tools []string
		if strategy == plan.StrategyTask {
			tools = step.Tools
		}

		stepThread, previousOutput := sequentialStepThread(in, runningThread, lastResponse, labeledTurns, buildThread)

		sub := plan.Plan{Strategy: strategy, Role: step.Role, Tools: tools}
		cycleCtx := map[string]any{"previousOutput": previousOutput}

		resp, err := in.Machine.RunCycle(ctx, CycleInput{Plan: sub, Thread: stepThread, TaskContext: cycleCtx})
		if err != nil {
			if _, isInterrupt := err.(*thinkerr.Interrupt); isInterrupt {
				return Response{}, err
			}
			stepOutputs = append(stepOutputs, fmt.Sprintf("[Error in %s step]", step.Role))
			continue
		}

		if resp.Error != "" {
			stepOutputs = append(stepOutputs, fmt.Sprintf("[Error in %s step]", step.Role))
			continue
		}

		totalUsage = totalUsage.Add(resp.Usage)
		lastResponse = resp.Output
		stepOutputs = append(stepOutputs, resp.Output)
		labeledTurns = append(labeledTurns, fmt.Sprintf("[%s]: %s", step.Role, resp.Output))

		if buildThread {
			runningThread = runningThread.Append(event.Message{
				Role:    event.RoleSystemFraming,
				Content: fmt.Sprintf("[step %d: %s start]", i, step.Role),
			})
			if resp.Framing != "" {
				runningThread = runningThread.Append(event.Message{
					Role:    event.RoleSystemFraming,
					Content: resp.Framing,
				})
			}
			runningThread = runningThread.Append(event.Message{
				Role:    event.RoleAssistant,
				Content: resp.Output,
			}).Append(event.Message{
				Role:    event.RoleSystemFraming,
				Content: fmt.Sprintf("[step %d: %s end]", i, step.Role),
			})
		}
	}

	output := combineStepOutputs(in.Plan, stepOutputs)
	return Response{Output: output, Usage: totalUsage, FinishReason: llm.FinishComplete, Thread: runningThread}, nil
}

// sequentialStepThread builds the thread a single step's nested cycle
// sees, per the two thread modes spec §4.7 execSequential describes.
// threadAccumulation takes precedence: when it is set, BuildThread is not
// consulted.
func sequentialStepThread(in Input, running event.Thread, lastOutput string, turns []string, accumulation bool) (event.Thread, string) {
	if accumulation {
		return running, lastOutput
	}
	if in.Plan.BuildThread && len(turns) > 0 {
		return labeledThread(turns), lastOutput
	}
	return in.Thread, lastOutput
}

// labeledThread replaces the step thread with a single user message
// containing labeled turns "[<role>]: <output>", one per earlier
// successful step, separated by blank lines (spec §4.7 execSequential
// "buildThread ... replace the step thread with a single user message
// containing labeled turns").
func labeledThread(turns []string) event.Thread {
	return event.Thread{{Role: event.RoleUser, Content: strings.Join(turns, "\n\n")}}
}

// combineStepOutputs applies resultStrategy (default "last") to the
// ordered list of step outputs (spec §4.7 execSequential "resultStrategy
// default last").
func combineStepOutputs(p plan.Plan, outputs []string) string {
	strategy := p.ResultStrategy
	if strategy == "" {
		strategy = plan.DefaultResultStrategy(plan.StrategySequential, false)
	}
	if len(outputs) == 0 {
		return ""
	}
	switch strategy {
	case plan.ResultConcat:
		out := ""
		for i, o := range outputs {
			if i > 0 {
				out += "\n\n"
			}
			out += o
		}
		return out
	case plan.ResultLabel:
		out := ""
		for i, o := range outputs {
			if i > 0 {
				out += "\n\n"
			}
			out += fmt.Sprintf("[step %d]: %s", i, o)
		}
		return out
	default: // ResultLast
		return outputs[len(outputs)-1]
	}
}
