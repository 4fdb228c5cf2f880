// Package thinksuit re-exports the handful of types an embedding
// application wires together to run a turn: the Scheduler, its Config and
// Result, the Module contract, and the policy knobs. Everything else
// (the decision pipeline, the execution plane, the Cycle Runner) is an
// internal collaborator the Scheduler composes on the embedder's behalf.
package thinksuit

import (
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/policy"
	"github.com/machellerogden/thinksuit/internal/scheduler"
	"github.com/machellerogden/thinksuit/internal/session"
)

type (
	// Scheduler orchestrates a single turn (spec §4.9): acquire the
	// session, discover and validate tools, run the Cycle Runner, and
	// journal the turn-boundary events.
	Scheduler = scheduler.Scheduler

	// Config is one turn's input to Scheduler.RunTurn.
	Config = scheduler.Config

	// Result is what Scheduler.RunTurn returns.
	Result = scheduler.Result

	// ModuleResolver looks up a behavioral Module by name.
	ModuleResolver = scheduler.ModuleResolver

	// Module is the behavioral contract a ModuleResolver supplies:
	// roles, prompts, classifiers, rules, and the composeInstructions/
	// formatResponse hooks.
	Module = module.Module

	// PolicyConfig carries the user-facing policy knobs (maxDepth,
	// maxFanout, maxSequentialSteps, maxTaskCycles, allowedTools).
	PolicyConfig = policy.Config

	// Sessions is the durable Session Registry a Scheduler acquires
	// sessions from.
	Sessions = session.Registry
)

// NewSessions constructs a Session Registry rooted at baseDir, the
// YYYY/MM/DD/HH hour-directory tree described in spec §6.
func NewSessions(baseDir string) *Sessions {
	return session.New(baseDir, nil, nil)
}
