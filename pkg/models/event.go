package models

// EventType enumerates the event kinds appended to a CR's stream.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline_started"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventPipelineFailed    EventType = "pipeline_failed"
	EventPipelinePaused    EventType = "pipeline_paused"
	EventStageEntered      EventType = "stage_entered"
	EventStageCompleted    EventType = "stage_completed"
	EventAgentStarted      EventType = "agent_started"
	EventAgentCompleted    EventType = "agent_completed"
	EventAgentOutput       EventType = "agent_output"
	EventAgentToolCall     EventType = "agent_tool_call"
	EventAgentNudge        EventType = "agent_nudge"
	EventPhaseStarted      EventType = "phase_started"
	EventPhaseCompleted    EventType = "phase_completed"
	EventTestRun           EventType = "test_run"
	EventReviewFinding     EventType = "review_finding"
	EventInterventionSet   EventType = "intervention_set"
	EventCostUpdate        EventType = "cost_update"
	EventError             EventType = "error"
)

// terminalEvents are the event types that close an SSE stream once observed.
var terminalEvents = map[EventType]bool{
	EventPipelineCompleted: true,
	EventPipelineFailed:    true,
	EventPipelinePaused:    true,
}

// IsTerminal reports whether an event type should cause an SSE client to
// close its stream.
func (t EventType) IsTerminal() bool {
	return terminalEvents[t]
}

// Event is a single entry in a CR's durable, append-only event stream.
// StreamID is assigned by the Event Bus (a KVS-generated, monotonically
// increasing stream id) and is empty until Emit returns.
type Event struct {
	StreamID  string         `json:"stream_id,omitempty"`
	CRID      string         `json:"cr_id"`
	EventType EventType      `json:"event_type"`
	Stage     string         `json:"stage,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp_ms"`
}
