// Package cycle implements the Cycle Runner (spec §4.8): the single entry
// point for both the Scheduler and nested execution. Run drives one
// decision→execution pass — detectSignals, aggregateFacts, evaluateRules,
// selectPlan (skipped when a strategy is forced, e.g. by a nested
// sequential step), composeInstructions, then dispatch to the matching
// Execution Handler — and maps the outcome back to the caller: an
// Interrupt becomes a partial result rather than an error, any other
// handler failure is routed through execFallback rather than aborting the
// turn, and every recursive invocation reuses Run itself, making depth a
// natural recursion bound (spec §4.8 "making depth a natural bound").
package cycle

import (
	"context"
	"errors"

	"time"

	"golang.org/x/time/rate"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/exec"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/pipeline"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/policy"
	"github.com/machellerogden/thinksuit/internal/rules"
	"github.com/machellerogden/thinksuit/internal/telemetry"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
	"github.com/machellerogden/thinksuit/internal/tools"
)

// DefaultMaxDepth bounds cycle recursion when the turn's policy does not
// configure maxDepth explicitly. Nested cycles (sequential steps,
// parallel branches, task sub-cycles) all recurse through Run, so an
// unconfigured turn still needs a hard ceiling to guarantee termination.
const DefaultMaxDepth = 25

// Machine bundles everything one turn's cycles share: the behavioral
// module, policy, provider, and tool collaborators an Execution Handler
// needs, plus the telemetry/event-emission context a cycle's boundary
// and the pipeline's own stage events are recorded through.
type Machine struct {
	Module          *module.Module
	Config          map[string]any
	Policy          policy.Config
	Provider        llm.Provider
	DiscoveredTools tools.Discovered
	ToolClients     map[tools.ServerID]tools.Client
	Capabilities    pipeline.CapabilityProvider

	AbortSignal      <-chan struct{}
	Approve          exec.ApprovalFunc
	AutoApproveTools bool

	Gates map[string]pipeline.DimensionGate

	// ClassifierLimiter, when set, bounds how many of the module's
	// classifiers detectSignals may run concurrently per unit time (spec
	// §4.6). Nil means unlimited.
	ClassifierLimiter *rate.Limiter

	SessionID string
	TraceID   string
	Log       telemetry.Logger
	Metrics   telemetry.Metrics
	Tracer    telemetry.Tracer
	Emit      pipeline.Emitter
}

// Input is Run's typed input for one cycle pass (spec §4.8; §4.7 execTask
// step 2's "taskContext" is this TaskContext field, threaded through
// unchanged).
type Input struct {
	Thread event.Thread

	// ForcedPlan, when non-nil, bypasses selectPlan: the Cycle Runner
	// still runs detectSignals/aggregateFacts/evaluateRules/
	// composeInstructions so the nested cycle gets facts and instructions
	// composed for its own role, but dispatches on ForcedPlan's strategy
	// rather than whatever selectPlan would have chosen (spec §4.7
	// execSequential "each step a nested cycle with strategy: task by
	// default unless the step object overrides strategy").
	ForcedPlan *plan.Plan

	TaskContext      map[string]any
	ParentBoundaryID event.ID
	Depth            int
}

// Result is what Run returns: the execution handler's Response alongside
// the plan and facts the pass settled on, or — when the pass was
// cancelled — the Interrupt it was cancelled with (spec §4.8 "maps any
// interrupt to status=interrupted carrying partialData").
type Result struct {
	Response    exec.Response
	Plan        plan.Plan
	Facts       fact.Map
	Interrupted bool
	Interrupt   *thinkerr.Interrupt
}

// Run drives one decision→execution pass and returns its outcome. A
// non-interrupt failure at any pipeline stage or from the dispatched
// Execution Handler is routed through execFallback rather than returned
// as a Go error (spec §7 "wrapped in execFallback when the state machine
// routes them there") — the one exception is a depth-limit breach, which
// aborts before any pipeline work begins since there is no useful partial
// state yet to explain.
func Run(ctx context.Context, m Machine, in Input) (Result, error) {
	maxDepth := m.Policy.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if in.Depth > maxDepth {
		return Result{}, thinkerr.New(thinkerr.EDepth, "cycle depth %d exceeds limit %d", in.Depth, maxDepth)
	}

	boundaryID := event.NewBoundaryID(event.BoundaryCycle, m.SessionID)
	emitOrchestration(ctx, m, event.OrchestrationStart, boundaryID, in.ParentBoundaryID, nil)

	pc := pipeline.Context{
		SessionID:        m.SessionID,
		TraceID:          m.TraceID,
		ParentBoundaryID: boundaryID,
		Log:              m.Log,
		Metrics:          m.Metrics,
		Tracer:           m.Tracer,
		Emit:             m.Emit,
	}

	selectedPlan, instructions, facts, err := runPipeline(ctx, m, pc, in)
	if err != nil {
		return fallbackResult(ctx, m, boundaryID, in, selectedPlan, instructions, facts, err)
	}

	machine := exec.Machine{
		Module:           m.Module,
		Config:           m.Config,
		AbortSignal:      m.AbortSignal,
		DiscoveredTools:  m.DiscoveredTools,
		ToolClients:      m.ToolClients,
		Provider:         m.Provider,
		Approve:          m.Approve,
		AutoApproveTools: m.AutoApproveTools,
	}
	machine.RunCycle = nestedRunCycle(m, boundaryID, in.Depth)

	execIn := exec.Input{
		Plan:         selectedPlan,
		Instructions: instructions,
		Thread:       in.Thread,
		Context:      in.TaskContext,
		Policy:       m.Policy,
		Machine:      machine,
	}

	resp, err := dispatch(ctx, selectedPlan.Strategy, execIn)
	if err != nil {
		var interrupt *thinkerr.Interrupt
		if errors.As(err, &interrupt) {
			emitOrchestration(ctx, m, event.OrchestrationComplete, boundaryID, in.ParentBoundaryID, map[string]any{"status": "interrupted"})
			return Result{Plan: selectedPlan, Facts: facts, Interrupted: true, Interrupt: interrupt}, nil
		}
		return fallbackResult(ctx, m, boundaryID, in, selectedPlan, instructions, facts, err)
	}

	// The composed framing belongs to this cycle's own pipeline pass, not
	// whatever a nested sub-cycle inside the dispatched handler recomposed
	// for itself, so it is set here rather than left to each handler (spec
	// §4.7 execSequential "the composed framing from the cycle").
	resp.Framing = exec.BuildSystemPrompt(instructions)

	emitOrchestration(ctx, m, event.OrchestrationComplete, boundaryID, in.ParentBoundaryID, map[string]any{"status": "complete"})
	return Result{Response: resp, Plan: selectedPlan, Facts: facts}, nil
}

// runPipeline chains the four always-run Pipeline Handlers (spec §4.6),
// substituting ForcedPlan for selectPlan's own choice when set.
func runPipeline(ctx context.Context, m Machine, pc pipeline.Context, in Input) (plan.Plan, module.Instructions, fact.Map, error) {
	signals, err := pipeline.DetectSignals(ctx, pc, pipeline.DetectSignalsInput{
		Thread:      in.Thread,
		Classifiers: classifiersFor(m.Module),
		Gates:       m.Gates,
		Limiter:     m.ClassifierLimiter,
	})
	if err != nil {
		return plan.Plan{}, module.Instructions{}, nil, err
	}

	facts, err := pipeline.AggregateFacts(ctx, pc, pipeline.AggregateFactsInput{
		Signals:      signals,
		Config:       m.Config,
		ToolNames:    m.DiscoveredTools.Names(),
		Capabilities: m.Capabilities,
	})
	if err != nil {
		return plan.Plan{}, module.Instructions{}, nil, err
	}

	evalOut, err := pipeline.EvaluateRules(ctx, pc, pipeline.EvaluateRulesInput{
		Facts:       facts,
		ModuleRules: moduleRules(m.Module),
		Policy:      m.Policy,
	})
	if err != nil {
		return plan.Plan{}, module.Instructions{}, facts, err
	}
	facts = evalOut.Facts

	selectedPlan := plan.Plan{}
	if in.ForcedPlan != nil {
		selectedPlan = *in.ForcedPlan
	} else {
		selectedPlan, err = pipeline.SelectPlan(ctx, pc, pipeline.SelectPlanInput{Facts: facts})
		if err != nil {
			return plan.Plan{}, module.Instructions{}, facts, err
		}
	}

	instructions, err := pipeline.ComposeInstructions(ctx, pc, pipeline.ComposeInstructionsInput{
		Plan:      selectedPlan,
		Facts:     facts,
		Module:    m.Module,
		ToolNames: m.DiscoveredTools.Names(),
	})
	if err != nil {
		return selectedPlan, module.Instructions{}, facts, err
	}

	return selectedPlan, instructions, facts, nil
}

// dispatch routes to the Execution Handler matching strategy (spec §4.7).
// An unrecognized or zero-value strategy defaults to direct, matching
// selectPlan's own synthesized fallback plan.
func dispatch(ctx context.Context, strategy plan.Strategy, in exec.Input) (exec.Response, error) {
	switch strategy {
	case plan.StrategySequential:
		return exec.Sequential(ctx, in)
	case plan.StrategyParallel:
		return exec.Parallel(ctx, in)
	case plan.StrategyTask:
		return exec.Task(ctx, in)
	default:
		return exec.Direct(ctx, in)
	}
}

// fallbackResult routes a non-interrupt pipeline or dispatch failure
// through execFallback (spec §7) and reports it as a successful Result:
// the turn produced a human-readable explanation rather than aborting.
func fallbackResult(ctx context.Context, m Machine, boundaryID event.ID, in Input, selectedPlan plan.Plan, instructions module.Instructions, facts fact.Map, failure error) (Result, error) {
	if m.Log != nil {
		m.Log.Warn(ctx, "cycle: routing to execFallback", "stage_error", failure.Error())
	}

	fallbackMachine := exec.Machine{
		Module:   m.Module,
		Config:   m.Config,
		Provider: m.Provider,
	}
	resp, err := exec.Fallback(ctx, exec.FallbackInput{
		Input: exec.Input{
			Plan:         selectedPlan,
			Instructions: instructions,
			Thread:       in.Thread,
			Policy:       m.Policy,
			Machine:      fallbackMachine,
		},
		Err: failure,
	})
	if err != nil {
		emitOrchestration(ctx, m, event.OrchestrationError, boundaryID, in.ParentBoundaryID, map[string]any{"error": err.Error()})
		return Result{}, err
	}

	emitOrchestration(ctx, m, event.OrchestrationComplete, boundaryID, in.ParentBoundaryID, map[string]any{"status": "fallback"})
	return Result{Response: resp, Plan: selectedPlan, Facts: facts}, nil
}

// nestedRunCycle builds the exec.CycleFunc closure exec.Machine.RunCycle
// invokes for a nested cycle (spec §4.8 "all recursive handler
// invocations reuse the same runCycle"): it calls back into Run with the
// nested plan forced and depth incremented, translating cycle.Result back
// into the exec.Response/error shape exec's handlers expect.
func nestedRunCycle(m Machine, parentBoundaryID event.ID, depth int) exec.CycleFunc {
	return func(ctx context.Context, in exec.CycleInput) (exec.Response, error) {
		forced := in.Plan
		result, err := Run(ctx, m, Input{
			Thread:           in.Thread,
			ForcedPlan:       &forced,
			TaskContext:      in.TaskContext,
			ParentBoundaryID: parentBoundaryID,
			Depth:            depth + 1,
		})
		if err != nil {
			return exec.Response{}, err
		}
		if result.Interrupted {
			return exec.Response{}, result.Interrupt
		}
		return result.Response, nil
	}
}

func classifiersFor(m *module.Module) map[string]pipeline.Classifier {
	if m == nil {
		return nil
	}
	out := make(map[string]pipeline.Classifier, len(m.Classifiers))
	for k, c := range m.Classifiers {
		out[k] = pipeline.Classifier(c)
	}
	return out
}

func moduleRules(m *module.Module) []rules.Rule {
	if m == nil {
		return nil
	}
	return m.Rules
}

func emitOrchestration(ctx context.Context, m Machine, t event.Type, boundaryID, parentBoundaryID event.ID, data map[string]any) {
	if m.Emit == nil {
		return
	}
	e := &event.Event{
		Time:             time.Now().UTC(),
		Event:            t,
		SessionID:        m.SessionID,
		EventID:          event.NewEventID(),
		TraceID:          m.TraceID,
		BoundaryID:       boundaryID,
		ParentBoundaryID: parentBoundaryID,
		BoundaryType:     event.BoundaryOrchestration,
		Data:             data,
	}
	if err := m.Emit(ctx, e); err != nil && m.Log != nil {
		m.Log.Warn(ctx, "cycle: emit failed", "event", string(t), "error", err.Error())
	}
}
