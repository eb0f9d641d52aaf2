package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies one envelope variant in the turn stream.
type Kind string

const (
	KindThinking        Kind = "thinking"
	KindToolStart       Kind = "tool_start"
	KindToolEnd         Kind = "tool_end"
	KindTaskCreated     Kind = "task_created"
	KindToken           Kind = "token"
	KindComposing       Kind = "composing"
	KindDone            Kind = "done"
	KindError           Kind = "error"
	KindPlanStarted     Kind = "plan_started"
	KindPlanStepCreated Kind = "plan_step_created"
	KindEndOfStream     Kind = "end_of_stream"
)

// EndOfStreamSentinel is the literal record payload that closes a stream.
// It is mapped to KindEndOfStream rather than decoded as JSON.
const EndOfStreamSentinel = "[DONE]"

// Known reports whether the kind is part of the protocol vocabulary.
// Unknown kinds are dropped by consumers for forward compatibility.
func (k Kind) Known() bool {
	switch k {
	case KindThinking, KindToolStart, KindToolEnd, KindTaskCreated,
		KindToken, KindComposing, KindDone, KindError,
		KindPlanStarted, KindPlanStepCreated, KindEndOfStream:
		return true
	}
	return false
}

// Envelope is one discrete event within a turn's stream. Fields beyond
// Kind are populated per variant; absent fields stay zero.
type Envelope struct {
	Kind Kind `json:"type"`

	// thinking
	Iteration int `json:"iteration,omitempty"`

	// tool_start / tool_end
	Tool      string                 `json:"tool,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    json.RawMessage        `json:"result,omitempty"`

	// task_created / plan_step_created
	Task     *TaskInfo `json:"task,omitempty"`
	Progress *Progress `json:"progress,omitempty"`

	// token
	Text string `json:"text,omitempty"`

	// done / error
	Message   string     `json:"message,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// plan_started / plan_step_created
	PlanGoal   string `json:"plan_goal,omitempty"`
	StepNumber int    `json:"step_number,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`
}

// TaskInfo is the task summary carried by incremental creation events.
type TaskInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Progress reports incremental completion of a bulk operation.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ToolCall is one completed tool invocation as reported by the agent.
type ToolCall struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    json.RawMessage        `json:"result,omitempty"`
}

// ErrUnknownKind marks an envelope whose kind is outside the vocabulary.
var ErrUnknownKind = errors.New("unknown envelope kind")

// Decode parses one record payload into an envelope. The end-of-stream
// sentinel decodes to KindEndOfStream. Malformed payloads and unknown
// kinds return an error so the transport can drop them without
// aborting the turn.
func Decode(payload []byte) (Envelope, error) {
	if string(bytes.TrimSpace(payload)) == EndOfStreamSentinel {
		return Envelope{Kind: KindEndOfStream}, nil
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if !env.Kind.Known() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return env, nil
}
