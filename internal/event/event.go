// Package event defines the canonical event taxonomy, boundary IDs, and
// thread/message primitives shared across the Journal, Session Registry,
// Subscriber, and all pipeline/execution handlers (spec §3, §6).
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is a dotted domain.component.action event name (spec §6).
type Type string

// Canonical event types. Names follow the `domain.component.action`
// convention from spec §6.
const (
	SessionPending      Type = "session.pending"
	SessionInput        Type = "session.input"
	SessionResponse     Type = "session.response"
	SessionEnd          Type = "session.end"
	SessionResume       Type = "session.resume"
	SessionForked       Type = "session.forked"
	SessionInterrupted  Type = "session.interrupted"
	SessionTurnStart    Type = "session.turn.start"
	SessionTurnComplete Type = "session.turn.complete"

	OrchestrationStart    Type = "orchestration.start"
	OrchestrationComplete Type = "orchestration.complete"
	OrchestrationError    Type = "orchestration.error"

	PipelineSignalDetectionStart     Type = "pipeline.signal_detection.start"
	PipelineSignalDetectionComplete  Type = "pipeline.signal_detection.complete"
	PipelineSignalDetectionFailed    Type = "pipeline.signal_detection.failed"
	PipelineFactAggregationStart     Type = "pipeline.fact_aggregation.start"
	PipelineFactAggregationComplete  Type = "pipeline.fact_aggregation.complete"
	PipelineFactAggregationFailed    Type = "pipeline.fact_aggregation.failed"
	PipelineRuleEvaluationStart      Type = "pipeline.rule_evaluation.start"
	PipelineRuleEvaluationComplete   Type = "pipeline.rule_evaluation.complete"
	PipelineRuleEvaluationFailed     Type = "pipeline.rule_evaluation.failed"
	PipelinePlanSelectionStart       Type = "pipeline.plan_selection.start"
	PipelinePlanSelectionComplete    Type = "pipeline.plan_selection.complete"
	PipelinePlanSelectionFailed      Type = "pipeline.plan_selection.failed"
	PipelineInstructionCompositionStart    Type = "pipeline.instruction_composition.start"
	PipelineInstructionCompositionComplete Type = "pipeline.instruction_composition.complete"
	PipelineInstructionCompositionFailed   Type = "pipeline.instruction_composition.failed"
	PipelinePolicyCheckStart    Type = "pipeline.policy_check.start"
	PipelinePolicyCheckComplete Type = "pipeline.policy_check.complete"
	PipelinePolicyCheckFailed   Type = "pipeline.policy_check.failed"
	PipelineHandlerStart    Type = "pipeline.handler.start"
	PipelineHandlerComplete Type = "pipeline.handler.complete"
	PipelineHandlerFailed   Type = "pipeline.handler.failed"
	PipelineHandlerTrace    Type = "pipeline.handler.trace"

	ExecutionDirectStart    Type = "execution.direct.start"
	ExecutionDirectComplete Type = "execution.direct.complete"

	ExecutionSequentialStart       Type = "execution.sequential.start"
	ExecutionSequentialComplete    Type = "execution.sequential.complete"
	ExecutionSequentialStepStart   Type = "execution.sequential.step_start"
	ExecutionSequentialStepComplete Type = "execution.sequential.step_complete"
	ExecutionSequentialStepError   Type = "execution.sequential.step_error"

	ExecutionParallelStart         Type = "execution.parallel.start"
	ExecutionParallelComplete      Type = "execution.parallel.complete"
	ExecutionParallelBranchStart   Type = "execution.parallel.branch_start"
	ExecutionParallelBranchComplete Type = "execution.parallel.branch_complete"
	ExecutionParallelBranchError   Type = "execution.parallel.branch_error"
	ExecutionParallelInterrupted   Type = "execution.parallel.interrupted"

	ExecutionTaskStart          Type = "execution.task.start"
	ExecutionTaskComplete       Type = "execution.task.complete"
	ExecutionTaskCycleStart     Type = "execution.task.cycle_start"
	ExecutionTaskCycleComplete  Type = "execution.task.cycle_complete"
	ExecutionTaskBudgetExceeded Type = "execution.task.budget_exceeded"
	ExecutionTaskInterrupted    Type = "execution.task.interrupted"

	ExecutionToolRequested          Type = "execution.tool.requested"
	ExecutionToolApprovalRequested  Type = "execution.tool.approval-requested"
	ExecutionToolApproved           Type = "execution.tool.approved"
	ExecutionToolDenied             Type = "execution.tool.denied"
	ExecutionToolExecuted           Type = "execution.tool.executed"
	ExecutionToolError              Type = "execution.tool.error"

	SystemError              Type = "system.error"
	SystemWarning            Type = "system.warning"
	SystemMetric             Type = "system.metric"
	SystemPerformanceWarning Type = "system.performance.warning"
	SystemBudgetExceeded     Type = "system.budget.exceeded"
	SystemMCPEvent           Type = "system.mcp.event"

	ProcessingClassifierStart    Type = "processing.classifier.start"
	ProcessingClassifierComplete Type = "processing.classifier.complete"
	ProcessingLLMStart           Type = "processing.llm.start"
	ProcessingLLMComplete        Type = "processing.llm.complete"
	ProcessingRulesStart         Type = "processing.rules.start"
	ProcessingRulesComplete      Type = "processing.rules.complete"

	ProviderAPIRawRequest  Type = "provider.api.raw_request"
	ProviderAPIRawResponse Type = "provider.api.raw_response"
)

// BoundaryKind enumerates the nesting levels a boundary may occupy
// (spec §3 Boundary).
type BoundaryKind string

const (
	BoundarySession        BoundaryKind = "session"
	BoundaryTurn           BoundaryKind = "turn"
	BoundaryOrchestration  BoundaryKind = "orchestration"
	BoundaryPipeline       BoundaryKind = "pipeline"
	BoundaryExecution      BoundaryKind = "execution"
	BoundaryCycle          BoundaryKind = "cycle"
	BoundaryStep           BoundaryKind = "step"
	BoundaryBranch         BoundaryKind = "branch"
	BoundaryTool           BoundaryKind = "tool"
	BoundaryLLMExchange    BoundaryKind = "llm_exchange"
)

// ID is a hierarchical boundary identifier of the form
// "<kind>-<sessionId>-<monotonic>-<random>" (spec §9 Design Notes): a
// process-wide counter value followed by the first eight characters of a
// random UUID. IDs are not derived from the parent boundary or the clock,
// and carry no storage lifetime beyond the Journal.
type ID string

// boundaryCounter supplies the monotonic component of generated IDs. A
// process-wide counter is sufficient: IDs are unique within a session's
// Journal, not globally, and sessions are single-writer per spec §5.
var boundaryCounter = newCounter()

// NewBoundaryID generates a new boundary ID for the given session and kind.
// Nesting under a parent boundary is not encoded in the ID; events carry
// it in ParentBoundaryID. The random suffix guards against monotonic-counter
// collisions across process restarts within the same session.
func NewBoundaryID(kind BoundaryKind, sessionID string) ID {
	n := boundaryCounter.next()
	suffix := uuid.New().String()[:8]
	return ID(string(kind) + "-" + sessionID + "-" + itoa(n) + "-" + suffix)
}

// Event is the canonical envelope appended to a session's Journal
// (spec §6 file layout). Every event carries at minimum Time/Event/
// SessionID/EventID; the remaining fields are optional per spec §3.
type Event struct {
	Time             time.Time      `json:"time"`
	Event            Type           `json:"event"`
	SessionID        string         `json:"sessionId"`
	EventID          string         `json:"eventId"`
	TraceID          string         `json:"traceId,omitempty"`
	BoundaryID       ID             `json:"boundaryId,omitempty"`
	ParentBoundaryID ID             `json:"parentBoundaryId,omitempty"`
	EventRole        string         `json:"eventRole,omitempty"`
	BoundaryType     BoundaryKind   `json:"boundaryType,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	Msg              string         `json:"msg,omitempty"`
	PID              int            `json:"pid,omitempty"`
}

// NewEventID generates an opaque, unique event identifier.
func NewEventID() string { return uuid.New().String() }

// NewSessionID generates a session identifier in the time-sortable form
// YYYYMMDDThhmmssSSSZ-<8-char-urlsafe-random> (spec §3, §6). IDs are
// globally sortable by lexicographic comparison because the timestamp
// component is fixed-width and zero-padded.
func NewSessionID(now time.Time) string {
	ts := now.UTC().Format("20060102T150405.000Z")
	ts = ts[:len(ts)-5] + ts[len(ts)-4:] // drop the literal dot from .000
	rnd := uuid.New().String()
	rnd = rnd[:8]
	return ts + "-" + rnd
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
