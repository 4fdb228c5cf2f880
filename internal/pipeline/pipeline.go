// Package pipeline implements the five Pipeline Handlers of the decision
// pipeline (spec §4.6): detectSignals, aggregateFacts, evaluateRules,
// selectPlan, composeInstructions. Each handler emits a
// pipeline.<stage>.{start,complete,failed} boundary pair and returns
// incrementally-built pipeline state; the Cycle Runner (internal/cycle)
// chains them for one decision pass.
package pipeline

import (
	"context"
	"time"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/telemetry"
)

// Emitter appends one boundary event. The Cycle Runner supplies an
// implementation backed by the session's Journal; tests supply a
// recording stub.
type Emitter func(ctx context.Context, e *event.Event) error

// Context carries everything a pipeline handler needs beyond its own
// typed input: identity for event emission and the telemetry
// collaborators every handler logs/traces through (spec §4.6 "each
// handler ... emits boundary-start/end events").
type Context struct {
	SessionID        string
	TraceID          string
	ParentBoundaryID event.ID

	Log     telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	Emit Emitter
}

// stage bundles the three event types one pipeline stage emits.
type stage struct {
	boundary event.BoundaryKind
	start    event.Type
	complete event.Type
	failed   event.Type
}

var (
	stageSignalDetection = stage{event.BoundaryPipeline, event.PipelineSignalDetectionStart, event.PipelineSignalDetectionComplete, event.PipelineSignalDetectionFailed}
	stageFactAggregation = stage{event.BoundaryPipeline, event.PipelineFactAggregationStart, event.PipelineFactAggregationComplete, event.PipelineFactAggregationFailed}
	stageRuleEvaluation  = stage{event.BoundaryPipeline, event.PipelineRuleEvaluationStart, event.PipelineRuleEvaluationComplete, event.PipelineRuleEvaluationFailed}
	stagePlanSelection   = stage{event.BoundaryPipeline, event.PipelinePlanSelectionStart, event.PipelinePlanSelectionComplete, event.PipelinePlanSelectionFailed}
	stageInstructionComposition = stage{event.BoundaryPipeline, event.PipelineInstructionCompositionStart, event.PipelineInstructionCompositionComplete, event.PipelineInstructionCompositionFailed}
)

// run wraps fn with the stage's start/complete/failed boundary pair,
// timing the call and recording it via Metrics regardless of outcome.
func run(ctx context.Context, pc Context, s stage, metricName string, fn func(ctx context.Context, boundaryID event.ID) error) error {
	boundaryID := event.NewBoundaryID(s.boundary, pc.SessionID)
	emit(ctx, pc, s.start, boundaryID, nil)

	start := time.Now()
	err := fn(ctx, boundaryID)
	d := time.Since(start)

	if pc.Metrics != nil {
		pc.Metrics.RecordTimer(metricName, d)
	}
	if err != nil {
		emit(ctx, pc, s.failed, boundaryID, map[string]any{"error": err.Error()})
		return err
	}
	emit(ctx, pc, s.complete, boundaryID, map[string]any{"durationMs": d.Milliseconds()})
	return nil
}

func emit(ctx context.Context, pc Context, t event.Type, boundaryID event.ID, data map[string]any) {
	if pc.Emit == nil {
		return
	}
	e := &event.Event{
		Time:             time.Now().UTC(),
		Event:            t,
		SessionID:        pc.SessionID,
		EventID:          event.NewEventID(),
		TraceID:          pc.TraceID,
		BoundaryID:       boundaryID,
		ParentBoundaryID: pc.ParentBoundaryID,
		BoundaryType:     event.BoundaryPipeline,
		Data:             data,
	}
	if err := pc.Emit(ctx, e); err != nil && pc.Log != nil {
		pc.Log.Warn(ctx, "pipeline: emit failed", "event", string(t), "error", err.Error())
	}
}
