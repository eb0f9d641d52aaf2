package assistant

import (
	"fmt"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// ErrorKind classifies a turn's terminal failure.
type ErrorKind string

const (
	// ErrPrecondition: no project context was resolvable; the turn
	// never reached the network.
	ErrPrecondition ErrorKind = "precondition"
	// ErrTransport: the turn-initiation request itself failed before
	// any streaming began.
	ErrTransport ErrorKind = "transport"
	// ErrStream: the byte stream ended abnormally mid-turn. Refreshes
	// already triggered remain valid.
	ErrStream ErrorKind = "stream"
	// ErrAgent: the agent reported an explicit error envelope; the
	// stream itself completed normally.
	ErrAgent ErrorKind = "agent"
)

// TurnError is the typed terminal error of a turn. It is always
// returned, never panicked, past the Runner boundary.
type TurnError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// TurnResult is the single terminal outcome of a successful or
// cancelled turn.
type TurnResult struct {
	TurnID string
	Input  string

	// Response is the final text. May be empty when the turn's value
	// was entirely side effects.
	Response string

	// ToolCalls is the completed invocation list, authoritative from
	// the done payload when it carried one.
	ToolCalls []protocol.ToolCall

	// Proposal is set when the turn surfaced candidate mutations
	// awaiting approval. At most one per turn.
	Proposal *PendingProposal

	// IgnoredProposals counts extra proposal-shaped results dropped by
	// the first-proposal-wins policy.
	IgnoredProposals int

	// RefreshTriggers counts how many refresh triggers this turn
	// produced, before coalescing.
	RefreshTriggers int

	// Aborted marks caller-requested cancellation: a distinct terminal
	// outcome, not an error.
	Aborted bool

	// Partial marks a degenerate completion: the stream ended without
	// a done or error envelope, and Response holds whatever fragments
	// had streamed.
	Partial bool
}
