// Package llm sketches the language-model provider call contract the
// execution handlers depend on (spec §4.7, §6). Per spec §1 "concrete LLM
// provider adapters and their API wire formats" are explicitly out of
// scope — only the call contract is specified here, as a Provider
// interface a concrete embedding application implements against whatever
// vendor SDK it chooses.
package llm

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/tools"
)

// FinishReason is the provider's stop-reason taxonomy (spec §4.7
// execTask step 6: "continue on {tool_use, tool_calls, max_tokens}; stop
// otherwise", plus the final-reason rules in step 7's synthesis
// paragraph).
type FinishReason string

const (
	FinishToolUse      FinishReason = "tool_use"
	FinishToolCalls    FinishReason = "tool_calls"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishComplete     FinishReason = "complete"
	FinishMaxCycles    FinishReason = "max_cycles"
	FinishTimeout      FinishReason = "timeout"
	FinishMaxToolCalls FinishReason = "max_tool_calls"
)

// Continues reports whether r is one of the continuation signals execTask
// loops on (spec §4.7 execTask step 6).
func (r FinishReason) Continues() bool {
	switch r {
	case FinishToolUse, FinishToolCalls, FinishMaxTokens:
		return true
	default:
		return false
	}
}

// ToolCall is one function/tool invocation the provider requested.
type ToolCall struct {
	CallID string
	Tool   tools.Ident
	Args   map[string]any
}

// Usage is the token accounting a call reports (spec §4.7 execParallel
// "Aggregate usage across branches").
type Usage struct {
	Prompt     int
	Completion int
}

// Total returns Prompt + Completion.
func (u Usage) Total() int { return u.Prompt + u.Completion }

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{Prompt: u.Prompt + other.Prompt, Completion: u.Completion + other.Completion}
}

// Request is one language-model call (spec §4.7 execDirect "instructions
// as system prompt plus an adaptations suffix, and primary prompt
// prepended to the final user message").
type Request struct {
	System      string
	Thread      event.Thread
	MaxTokens   int
	Temperature float64
	Tools       []tools.Spec
}

// Response is what a Provider call returns. Text is the provider's reply
// verbatim (spec §4.7 execDirect "Returns the provider's reply verbatim").
// OutputItems carries the provider's raw output items (including any
// function_call items) for execTask to append to the running thread
// as-is (spec §4.7 execTask step 3); Error is set instead of Text on
// provider failure, per execDirect's "Errors from the provider produce a
// response with error set rather than throwing".
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
	OutputItems  []any
	Error        string
}

// Provider is the call contract an execution handler invokes against. A
// concrete embedding application supplies an implementation backed by
// whatever vendor SDK it chooses (spec §1, §6).
type Provider interface {
	Call(ctx context.Context, req Request) (Response, error)
}
