package turn

import (
	"encoding/json"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// Stage is the renderable phase of an in-flight turn.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageAnalyzing     Stage = "analyzing"
	StageAwaitingModel Stage = "awaiting_model"
	StageToolRunning   Stage = "tool_running"
	StageToolDone      Stage = "tool_done"
	StageComposing     Stage = "composing"
	StageStreaming     Stage = "streaming_response"
)

// State is the accumulator one turn's envelope stream reduces into.
// It is a value type: Apply copies it, so snapshots handed to
// subscribers are stable.
type State struct {
	// TurnID keys provisional UI entries so the final result can
	// replace them atomically.
	TurnID string

	Stage Stage

	// Label is the human-readable progress text for the current stage.
	// Empty while streaming: the partial text is the indicator then.
	Label string

	// Most recent tool event, for progress display.
	Tool       string
	ToolArgs   map[string]interface{}
	ToolResult json.RawMessage
	Progress   *protocol.Progress

	// LastCompleted is the name of the last tool that finished, used to
	// derive more specific thinking labels on subsequent model calls.
	LastCompleted string

	// Iteration counts model calls within the turn. Monotonic, labels
	// only, never used for correctness decisions.
	Iteration int

	// Buffer accumulates token fragments. Discarded in favor of the
	// done payload, which is authoritative.
	Buffer string

	// Response is the frozen final text once done was observed, or the
	// buffered fragments if the stream ended without one.
	Response string

	// ToolCalls observed so far; replaced wholesale by the done
	// payload's list when it carries one.
	ToolCalls []protocol.ToolCall

	PlanGoal string

	// Done is set by the done and error envelopes; later envelopes in
	// the same stream carry no further state change.
	Done bool

	// Failed is set by the error envelope. The envelope itself is the
	// failure signal; its message may be empty.
	Failed bool

	// ErrMessage holds the agent-provided message of an error envelope.
	ErrMessage string
}

// NewState returns the idle state a fresh turn starts from.
func NewState(turnID string) State {
	return State{TurnID: turnID, Stage: StageIdle}
}
