// Package scheduler implements the Scheduler (spec §4.9): the single
// entry point that orchestrates one turn end to end — acquire the
// session, discover and validate tools, run the Cycle Runner under the
// logging/budget middleware, and journal the turn-boundary events.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/machellerogden/thinksuit/internal/cycle"
	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/exec"
	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/middleware"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/pipeline"
	"github.com/machellerogden/thinksuit/internal/policy"
	"github.com/machellerogden/thinksuit/internal/session"
	"github.com/machellerogden/thinksuit/internal/telemetry"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
	"github.com/machellerogden/thinksuit/internal/tools"
)

// ModuleResolver looks up a behavioral module by name (spec §4.9 step 4
// "Resolve the behavioral module"). The core never constructs a module
// itself (internal/module's own doc comment) — a concrete embedding
// application supplies the lookup, typically backed by a static registry
// or a plugin loader.
type ModuleResolver func(name string) (*module.Module, error)

// Config is one turn's input (spec §4.9 step 1 "Normalize and validate
// config; input non-empty; ... sessionId required internally"). SessionID
// empty means "start a new session" (spec §4.2 acquire).
type Config struct {
	SessionID        string
	Input            string
	Module           string
	EngineConfig     map[string]any
	Policy           policy.Config
	AutoApproveTools bool
}

// Result is the Scheduler's per-turn outcome (spec §4.9 step 7 "{sessionId,
// scheduled, isNew, isForked, execution, interrupt, reason?}"). IsForked
// is always false here — forking a session is a distinct Session Registry
// operation (ForkSession) a caller performs before starting a turn, not
// something RunTurn itself decides.
type Result struct {
	SessionID string
	Scheduled bool
	IsNew     bool
	IsForked  bool
	Execution *cycle.Result
	Interrupt *thinkerr.Interrupt
	Reason    string
}

// Scheduler wires the Session Registry, Tool Discovery, and Cycle Runner
// together into RunTurn (spec §4.9).
type Scheduler struct {
	Sessions     *session.Registry
	Resolve      ModuleResolver
	ToolClients  []tools.Client
	Provider     llm.Provider
	Capabilities pipeline.CapabilityProvider
	Approve      exec.ApprovalFunc

	Log     telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	// TurnBudget is the wall-clock budget the Budget middleware observes
	// around the whole Cycle Runner invocation (spec §4.10). Zero
	// disables the check; exceeding it never fails the turn, only warns.
	TurnBudget time.Duration

	// ClassifierLimiter, when set, caps how many of the module's
	// classifiers detectSignals may run concurrently per unit time. Nil
	// means unlimited.
	ClassifierLimiter *rate.Limiter
}

// RunTurn drives one turn through every step of spec §4.9. abort is the
// scheduler-owned cancellation channel threaded through to the Cycle
// Runner and every handler beneath it (spec §5 "a single scheduler-owned
// cancellation token").
func (s *Scheduler) RunTurn(ctx context.Context, cfg Config, abort <-chan struct{}) (Result, error) {
	if strings.TrimSpace(cfg.Input) == "" {
		return Result{}, thinkerr.New(thinkerr.EValidation, "scheduler: input must not be empty")
	}
	if s.Resolve == nil {
		return Result{}, thinkerr.New(thinkerr.EValidation, "scheduler: no module resolver configured")
	}

	acq, err := s.Sessions.Acquire(ctx, cfg.SessionID, time.Now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: acquire session: %w", err)
	}
	if !acq.Acquired {
		return Result{SessionID: acq.SessionID, Scheduled: false, Reason: acq.Reason}, nil
	}
	sessionID := acq.SessionID

	mod, err := s.Resolve(cfg.Module)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: resolve module %q: %w", cfg.Module, err)
	}

	discovered, err := tools.DiscoverTools(ctx, s.ToolClients)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: discover tools: %w", err)
	}
	discovered = filterAllowed(discovered, cfg.Policy.AllowedTools)
	if missing := missingDependencies(mod, discovered); len(missing) > 0 {
		return Result{}, thinkerr.New(thinkerr.EValidation,
			"scheduler: module %q requires tools not discovered: %s", mod.Name, strings.Join(missing, ", "))
	}
	toolClients := make(map[tools.ServerID]tools.Client, len(s.ToolClients))
	for _, c := range s.ToolClients {
		toolClients[c.ID()] = c
	}

	thread, err := s.Sessions.LoadThread(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: load thread: %w", err)
	}

	turnBoundary := event.NewBoundaryID(event.BoundaryTurn, sessionID)
	traceID := event.NewEventID()

	if err := s.appendTurnEvent(ctx, sessionID, event.SessionTurnStart, turnBoundary, nil); err != nil {
		return Result{}, fmt.Errorf("scheduler: emit session.turn.start: %w", err)
	}
	if err := s.appendTurnEvent(ctx, sessionID, event.SessionInput, turnBoundary, map[string]any{"input": cfg.Input}); err != nil {
		return Result{}, fmt.Errorf("scheduler: emit session.input: %w", err)
	}
	thread = thread.Append(event.Message{Role: event.RoleUser, Content: cfg.Input})

	machine := cycle.Machine{
		Module:            mod,
		Config:            cfg.EngineConfig,
		Policy:            cfg.Policy,
		Provider:          s.Provider,
		DiscoveredTools:   discovered,
		ToolClients:       toolClients,
		Capabilities:      s.Capabilities,
		AbortSignal:       abort,
		Approve:           s.Approve,
		AutoApproveTools:  cfg.AutoApproveTools,
		ClassifierLimiter: s.ClassifierLimiter,
		SessionID:         sessionID,
		TraceID:           traceID,
		Log:               s.Log,
		Metrics:           s.Metrics,
		Tracer:            s.Tracer,
		Emit: func(ctx context.Context, e *event.Event) error {
			return s.Sessions.Append(ctx, sessionID, e)
		},
	}

	var execResult cycle.Result
	handler := func(ctx context.Context) error {
		r, err := cycle.Run(ctx, machine, cycle.Input{Thread: thread, ParentBoundaryID: turnBoundary})
		execResult = r
		return err
	}
	if err := middleware.Apply(ctx, handler,
		middleware.Budget(s.TurnBudget, "cycle", middleware.LogWarn(s.Log)),
		middleware.Logging(s.Log, "cycle"),
	); err != nil {
		return Result{SessionID: sessionID, Scheduled: true, IsNew: acq.IsNew}, err
	}

	result := Result{SessionID: sessionID, Scheduled: true, IsNew: acq.IsNew, Execution: &execResult}
	if execResult.Interrupted {
		result.Interrupt = execResult.Interrupt
		if err := s.appendTurnEvent(ctx, sessionID, event.SessionInterrupted, turnBoundary, map[string]any{"stage": execResult.Interrupt.Stage}); err != nil {
			return result, fmt.Errorf("scheduler: emit session.interrupted: %w", err)
		}
		if err := s.appendTurnEvent(ctx, sessionID, event.SessionTurnComplete, turnBoundary, map[string]any{"status": "interrupted"}); err != nil {
			return result, fmt.Errorf("scheduler: emit session.turn.complete: %w", err)
		}
		return result, nil
	}

	if err := s.appendTurnEvent(ctx, sessionID, event.SessionResponse, turnBoundary, map[string]any{"output": execResult.Response.Output}); err != nil {
		return result, fmt.Errorf("scheduler: emit session.response: %w", err)
	}
	if err := s.appendTurnEvent(ctx, sessionID, event.SessionTurnComplete, turnBoundary, map[string]any{"status": "complete"}); err != nil {
		return result, fmt.Errorf("scheduler: emit session.turn.complete: %w", err)
	}
	return result, nil
}

func (s *Scheduler) appendTurnEvent(ctx context.Context, sessionID string, t event.Type, boundaryID event.ID, data map[string]any) error {
	return s.Sessions.Append(ctx, sessionID, &event.Event{
		Time:         time.Now().UTC(),
		Event:        t,
		SessionID:    sessionID,
		EventID:      event.NewEventID(),
		BoundaryID:   boundaryID,
		BoundaryType: event.BoundaryTurn,
		Data:         data,
	})
}

// filterAllowed restricts discovered to names present in allowed (spec
// §4.9 step 5 "filter by allow-list"). An empty allow-list means
// unrestricted, matching internal/policy.ToolPolicyRules' convention.
func filterAllowed(discovered tools.Discovered, allowed []string) tools.Discovered {
	if len(allowed) == 0 {
		return discovered
	}
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	out := make(tools.Discovered, len(discovered))
	for name, spec := range discovered {
		if _, ok := set[string(name)]; ok {
			out[name] = spec
		}
	}
	return out
}

// missingDependencies reports which of mod's declared ToolDependencies
// are absent from discovered (spec §4.9 step 5 "validate the module's
// tool dependencies; on validation failure, abort the turn with a fatal
// error").
func missingDependencies(mod *module.Module, discovered tools.Discovered) []string {
	if mod == nil {
		return nil
	}
	var missing []string
	for _, dep := range mod.ToolDependencies {
		if _, ok := discovered[tools.Ident(dep)]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing
}
