package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/tools"
)

// taskState is the bounded multi-cycle loop's working state (spec §4.7
// execTask "state {cycleCount, totalTokens, totalToolCalls, startTime,
// currentThread, lastResponse, continueTask, stoppedForSynthesis}").
// consecutiveFailures/disabledTools implement the supplemented
// consecutive-failure circuit breaker (grounded on the teacher's
// policy.CapsState.RemainingConsecutiveFailedToolCalls): a tool that
// fails maxConsecutiveToolFailures times in a row within one task is
// disabled for the remainder of the task, independent of any rule pass.
type taskState struct {
	cycleCount          int
	totalTokens         int
	totalToolCalls      int
	startTime           time.Time
	currentThread       event.Thread
	lastResponse        llm.Response
	continueTask        bool
	stoppedForSynthesis bool

	consecutiveFailures map[tools.Ident]int
	disabledTools       map[tools.Ident]struct{}
}

const taskTokenReserve = 500
const taskLowResourceTokens = 800
const taskLowResourceFraction = 0.2

// Task runs the bounded multi-cycle loop of spec §4.7 execTask. On each
// cycle it runs a nested direct-strategy sub-cycle, appends the
// provider's output to the running thread, executes any requested tool
// calls, and appends a Task Progress Report before deciding whether to
// continue. A forced synthesis cycle follows the loop when warranted, and
// the final finish reason is chosen by the first matching rule in spec
// §4.7's closing paragraph.
func Task(ctx context.Context, in Input) (Response, error) {
	resolution := in.Plan.Resolution
	maxCycles, maxTokens, maxToolCalls, timeout := taskBudget(resolution)

	st := &taskState{
		startTime:           time.Now(),
		currentThread:       in.Thread,
		continueTask:        true,
		consecutiveFailures: make(map[tools.Ident]int),
		disabledTools:       make(map[tools.Ident]struct{}),
	}

	for st.continueTask {
		if in.Machine.aborted() {
			return Response{}, newInterrupt("execTask", st.currentThread, taskUsage(st), st.totalToolCalls)
		}
		if elapsed := time.Since(st.startTime); elapsed >= timeout {
			st.lastResponse.FinishReason = llm.FinishTimeout
			break
		}
		if st.totalToolCalls >= maxToolCalls {
			st.lastResponse.FinishReason = llm.FinishMaxToolCalls
			break
		}
		if st.cycleCount >= maxCycles {
			break
		}

		if err := runTaskCycle(ctx, in, st, maxCycles, maxTokens); err != nil {
			return Response{}, err
		}

		st.cycleCount++
		appendProgressReport(st, maxTokens)

		if !st.lastResponse.FinishReason.Continues() {
			st.continueTask = false
			break
		}
		if st.totalTokens >= maxTokens-taskTokenReserve {
			st.stoppedForSynthesis = true
			st.continueTask = false
		}
	}

	if needsSynthesis(st) {
		runSynthesisCycle(ctx, in, st, maxTokens)
	}

	finishReason := finalFinishReason(st, maxCycles, maxTokens, maxToolCalls, timeout)
	return Response{
		Output:       st.lastResponse.Text,
		Usage:        taskUsage(st),
		FinishReason: finishReason,
		Thread:       st.currentThread,
	}, nil
}

func taskBudget(r *plan.Resolution) (maxCycles, maxTokens, maxToolCalls int, timeout time.Duration) {
	maxCycles, maxTokens, maxToolCalls = 10, 4000, 20
	timeout = 60 * time.Second
	if r == nil {
		return
	}
	if r.MaxCycles > 0 {
		maxCycles = r.MaxCycles
	}
	if r.MaxTokens > 0 {
		maxTokens = r.MaxTokens
	}
	if r.MaxToolCalls > 0 {
		maxToolCalls = r.MaxToolCalls
	}
	if r.TimeoutMs > 0 {
		timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	return
}

func taskUsage(st *taskState) llm.Usage {
	return llm.Usage{Prompt: 0, Completion: st.totalTokens}
}

// runTaskCycle is one iteration of the loop: a nested direct sub-cycle,
// appending its output to the thread, and executing any tool calls it
// requested (spec §4.7 execTask steps 2-4).
func runTaskCycle(ctx context.Context, in Input, st *taskState, maxCycles, maxTokens int) error {
	subMaxTokens := maxTokens - st.totalTokens
	if in.Plan.Resolution != nil && in.Plan.Resolution.MaxTokens > 0 && in.Plan.Resolution.MaxTokens < subMaxTokens {
		subMaxTokens = in.Plan.Resolution.MaxTokens
	}
	if subMaxTokens > 2000 {
		subMaxTokens = 2000
	}

	sub := plan.Plan{
		Strategy:   plan.StrategyDirect,
		Role:       in.Plan.Role,
		Tools:      in.Plan.Tools,
		Resolution: &plan.Resolution{MaxTokens: subMaxTokens},
	}
	taskCtx := map[string]any{"cycle": st.cycleCount, "maxCycles": maxCycles, "isTask": true}

	resp, err := in.Machine.RunCycle(ctx, CycleInput{Plan: sub, Thread: st.currentThread, TaskContext: taskCtx})
	if err != nil {
		return err
	}

	st.totalTokens += resp.Usage.Total()
	st.lastResponse = llm.Response{Text: resp.Output, FinishReason: resp.FinishReason, ToolCalls: resp.ToolCalls}
	st.currentThread = resp.Thread

	executeRequestedToolCalls(ctx, in, st, resp.ToolCalls)
	return nil
}

// executeRequestedToolCalls executes any tool calls the provider
// requested, when the plan's tools allow them, requesting approval first
// unless autoApproveTools is set (spec §4.7 execTask step 4). Results are
// appended as function_call_output messages paired by call_id.
func executeRequestedToolCalls(ctx context.Context, in Input, st *taskState, calls []llm.ToolCall) {
	if len(in.Plan.Tools) == 0 {
		return
	}
	for _, call := range calls {
		if !toolAllowed(in.Plan.Tools, call.Tool) {
			continue
		}
		if _, disabled := st.disabledTools[call.Tool]; disabled {
			continue
		}
		if !approveCall(ctx, in, call) {
			continue
		}

		spec, ok := in.Machine.DiscoveredTools[call.Tool]
		result := tools.CallResult{Success: false, Error: "tool not discovered"}
		if ok {
			client := in.Machine.ToolClients[spec.Server]
			clients := map[tools.ServerID]tools.Client{}
			if client != nil {
				clients[spec.Server] = client
			}
			if r, err := tools.CallTool(ctx, tools.CallRequest{Tool: call.Tool, Args: call.Args}, in.Machine.DiscoveredTools, clients); err == nil {
				result = r
			}
		}
		recordToolOutcome(in, st, call.Tool, result.Success)

		st.totalToolCalls++
		st.currentThread = st.currentThread.Append(event.Message{
			Role:    event.RoleFunctionCallOutput,
			Content: toolResultContent(result),
			CallID:  call.CallID,
		})
	}
}

// recordToolOutcome updates the consecutive-failure circuit breaker: a
// success resets the streak; a failure increments it and, once it
// reaches in.Policy.MaxConsecutiveToolFailures, disables the tool for
// the rest of this task (0 disables the breaker entirely).
func recordToolOutcome(in Input, st *taskState, tool tools.Ident, success bool) {
	if success {
		delete(st.consecutiveFailures, tool)
		return
	}
	limit := in.Policy.MaxConsecutiveToolFailures
	if limit <= 0 {
		return
	}
	st.consecutiveFailures[tool]++
	if st.consecutiveFailures[tool] >= limit {
		st.disabledTools[tool] = struct{}{}
	}
}

func toolAllowed(allowed []string, name tools.Ident) bool {
	for _, a := range allowed {
		if a == string(name) {
			return true
		}
	}
	return false
}

func approveCall(ctx context.Context, in Input, call llm.ToolCall) bool {
	if in.Machine.AutoApproveTools || in.Machine.Approve == nil {
		return true
	}
	ok, err := in.Machine.Approve(ctx, call)
	return err == nil && ok
}

// toolResultContent projects a CallResult into the value attached to a
// function_call_output message. When the result implements
// tools.BoundedResult (the supplemented bounded-result-metadata feature,
// grounded on the teacher's agent.Bounds contract), its truncation
// metadata rides alongside the result rather than being silently
// dropped.
func toolResultContent(r tools.CallResult) any {
	if !r.Success {
		return map[string]any{"error": r.Error}
	}
	if br, ok := r.Result.(tools.BoundedResult); ok {
		b := br.Bounds()
		return map[string]any{
			"result": r.Result,
			"bounds": map[string]any{
				"returned":       b.Returned,
				"total":          b.Total,
				"truncated":      b.Truncated,
				"refinementHint": b.RefinementHint,
			},
		}
	}
	return r.Result
}

// appendProgressReport appends a "Task Progress Report" user message with
// a budget status string (spec §4.7 execTask step 5).
func appendProgressReport(st *taskState, maxTokens int) {
	remaining := maxTokens - st.totalTokens
	limited := remaining < taskLowResourceTokens || float64(remaining) < float64(maxTokens)*taskLowResourceFraction
	state := "available"
	guidance := "Continue working; budget remains comfortable."
	if limited {
		state = "limited"
		guidance = "Budget is running low; wrap up and produce a final answer soon."
	}
	report := fmt.Sprintf(
		"Task Progress Report: remaining=%d used=%d resourceState=%s. %s",
		remaining, st.totalTokens, state, guidance,
	)
	st.currentThread = st.currentThread.Append(event.Message{Role: event.RoleUser, Content: report})
}

// needsSynthesis reports whether the forced synthesis cycle runs (spec
// §4.7 "after the loop, perform a forced synthesis cycle if (a) last
// finishReason was tool_use with no text output, or (b)
// stoppedForSynthesis").
func needsSynthesis(st *taskState) bool {
	if st.stoppedForSynthesis {
		return true
	}
	return st.lastResponse.FinishReason == llm.FinishToolUse && st.lastResponse.Text == ""
}

func runSynthesisCycle(ctx context.Context, in Input, st *taskState, maxTokens int) {
	budget := maxTokens - st.totalTokens
	if budget <= 0 {
		budget = 2000
	}
	if budget > 2000 {
		budget = 2000
	}
	if budget < 1000 {
		budget = 1000
	}

	thread := st.currentThread.Append(event.Message{
		Role:    event.RoleUser,
		Content: "Provide your final answer now, without using any tools.",
	})
	sub := plan.Plan{Strategy: plan.StrategyDirect, Role: in.Plan.Role, Resolution: &plan.Resolution{MaxTokens: budget}}
	resp, err := in.Machine.RunCycle(ctx, CycleInput{Plan: sub, Thread: thread, TaskContext: map[string]any{"isTask": true, "synthesis": true}})
	if err != nil {
		return
	}
	st.totalTokens += resp.Usage.Total()
	st.lastResponse = llm.Response{Text: resp.Output, FinishReason: resp.FinishReason}
	st.currentThread = resp.Thread
}

func finalFinishReason(st *taskState, maxCycles, maxTokens, maxToolCalls int, timeout time.Duration) llm.FinishReason {
	switch {
	case st.cycleCount >= maxCycles:
		return llm.FinishMaxCycles
	case st.totalTokens >= maxTokens:
		return llm.FinishMaxTokens
	case time.Since(st.startTime) >= timeout:
		return llm.FinishTimeout
	case st.totalToolCalls >= maxToolCalls:
		return llm.FinishMaxToolCalls
	case !st.lastResponse.FinishReason.Continues() && st.lastResponse.FinishReason != "":
		return st.lastResponse.FinishReason
	default:
		return llm.FinishComplete
	}
}
