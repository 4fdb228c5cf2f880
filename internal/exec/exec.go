// Package exec implements the Execution Handlers of the execution plane
// (spec §4.7): execDirect, execSequential, execParallel, execTask,
// execFallback. All five share the {plan, instructions, thread, context,
// policy} input shape plus a machine context of collaborators, and return
// a single Response.
package exec

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/policy"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
	"github.com/machellerogden/thinksuit/internal/tools"
)

// CycleFunc invokes the Cycle Runner for a nested execution (spec §4.8
// "all recursive handler invocations reuse the same runCycle"). It is
// supplied by internal/cycle at wiring time rather than imported
// directly, since the Cycle Runner itself dispatches to these handlers by
// strategy: a direct import in either direction would cycle.
type CycleFunc func(ctx context.Context, in CycleInput) (Response, error)

// CycleInput is what a nested cycle invocation needs: the sub-plan to
// run, the thread it sees, and any task-loop-specific context (spec §4.7
// execTask step 2 "taskContext={cycle, maxCycles, isTask:true}").
type CycleInput struct {
	Plan        plan.Plan
	Thread      event.Thread
	TaskContext map[string]any
}

// ApprovalFunc requests human approval for a tool call (spec §4.7
// execTask step 4 "request approval (bypassed when autoApproveTools=true)").
type ApprovalFunc func(ctx context.Context, call llm.ToolCall) (bool, error)

// Machine bundles the machine-level collaborators spec §4.7 calls
// "machine context {handlers, module, config, abortSignal,
// discoveredTools, machineDefinition}". Handlers/machineDefinition
// collapse to RunCycle here: this core's single entry point for
// execution is the Cycle Runner, not a per-strategy handler table.
type Machine struct {
	Module          *module.Module
	Config          map[string]any
	AbortSignal     <-chan struct{}
	DiscoveredTools tools.Discovered
	ToolClients     map[tools.ServerID]tools.Client
	Provider        llm.Provider
	RunCycle        CycleFunc
	Approve         ApprovalFunc
	AutoApproveTools bool
}

// aborted reports whether m's abort signal has fired.
func (m Machine) aborted() bool {
	if m.AbortSignal == nil {
		return false
	}
	select {
	case <-m.AbortSignal:
		return true
	default:
		return false
	}
}

// Input is the common {plan, instructions, thread, context, policy}
// shape every execution handler accepts (spec §4.7).
type Input struct {
	Plan         plan.Plan
	Instructions module.Instructions
	Thread       event.Thread
	Context      map[string]any
	Policy       policy.Config
	Machine      Machine
}

// Response is what an execution handler returns (spec §4.7 "{response}").
type Response struct {
	Output       string
	Error        string
	Usage        llm.Usage
	FinishReason llm.FinishReason
	Thread       event.Thread
	ToolCalls    []llm.ToolCall

	// Framing is the composed system prompt the cycle that produced this
	// Response ran with. A nested cycle carries it back through
	// CycleFunc's return so Sequential's threadAccumulation mode can
	// append "the composed framing from the cycle" (spec §4.7
	// execSequential) without recomputing it.
	Framing string
}

// BuildSystemPrompt composes the system prompt execDirect and nested
// direct cycles send: instructions as system prompt plus an adaptations
// suffix (spec §4.7 execDirect). It is also what a cycle's composed
// framing is, for callers (the Cycle Runner, on behalf of
// threadAccumulation) that need to surface it outside this package.
func BuildSystemPrompt(ins module.Instructions) string {
	if ins.Adaptations == "" {
		return ins.System
	}
	if ins.System == "" {
		return ins.Adaptations
	}
	return ins.System + "\n\n" + ins.Adaptations
}

// withPrimaryPrompt prepends the primary prompt to the thread's final
// user message, leaving thread untouched if it has none or the primary
// prompt is empty (spec §4.7 execDirect "primary prompt prepended to the
// final user message").
func withPrimaryPrompt(thread event.Thread, primary string) event.Thread {
	if primary == "" || len(thread) == 0 {
		return thread
	}
	out := thread.Clone()
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == event.RoleUser {
			if text, ok := out[i].Content.(string); ok {
				out[i].Content = primary + "\n\n" + text
			}
			break
		}
	}
	return out
}

// temperatureForRole resolves the per-role temperature with the module's
// fallback of 0.7 (spec §4.7 execDirect "Temperature is selected per-role
// from the module; fallback 0.7").
func temperatureForRole(m *module.Module, roleName string) float64 {
	if m == nil {
		return 0.7
	}
	if r, ok := m.RoleByName(roleName); ok {
		return r.TemperatureOrDefault()
	}
	return 0.7
}

// appendAssistantOutput adds the provider's raw output items to thread,
// or falls back to a plain assistant message when there are none (spec
// §4.7 execTask step 3 "Add the provider's raw outputItems ... to the
// running thread, or fall back to a plain assistant message").
// OutputItems travel as opaque any, matching llm.Response's shape for a
// provider whose wire format is out of scope (spec §1).
func appendAssistantOutput(thread event.Thread, resp llm.Response) event.Thread {
	if len(resp.OutputItems) == 0 {
		return thread.Append(event.Message{Role: event.RoleAssistant, Content: resp.Text})
	}
	out := thread
	for _, item := range resp.OutputItems {
		out = out.Append(event.Message{Role: event.RoleAssistant, Content: item})
	}
	return out
}

// newInterrupt builds the Interrupt sentinel a handler returns on
// cancellation (spec §4.8 "maps any interrupt to status=interrupted
// carrying partialData").
func newInterrupt(stage string, thread event.Thread, usage llm.Usage, toolCalls int) *thinkerr.Interrupt {
	anyThread := make([]any, len(thread))
	for i, msg := range thread {
		anyThread[i] = msg
	}
	return &thinkerr.Interrupt{
		Stage:             stage,
		TokensUsed:        usage.Total(),
		ToolCallsExecuted: toolCalls,
		Thread:            anyThread,
	}
}
