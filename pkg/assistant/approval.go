package assistant

import (
	"context"

	"github.com/taskweave/taskweave/pkg/proposal"
)

// PendingProposal pairs an open proposal with the runner and project it
// came from, so acting on it can submit the follow-up turn directly.
// The decision methods are terminal: each one locks the proposal, and a
// second call returns proposal.ErrClosed without a second turn.
type PendingProposal struct {
	Proposal *proposal.Proposal

	runner    *Runner
	projectID string
}

// ApproveAll approves every proposed item and runs the follow-up turn
// carrying the approval payload.
func (pp *PendingProposal) ApproveAll(ctx context.Context) (TurnResult, error) {
	utterance, err := pp.Proposal.ApproveAll()
	if err != nil {
		return TurnResult{}, err
	}
	return pp.submit(ctx, utterance)
}

// ApproveSelected approves the currently selected items and runs the
// follow-up turn. Returns proposal.ErrNothingSelected when the
// selection is empty; the proposal stays open in that case.
func (pp *PendingProposal) ApproveSelected(ctx context.Context) (TurnResult, error) {
	utterance, err := pp.Proposal.ApproveSelected()
	if err != nil {
		return TurnResult{}, err
	}
	return pp.submit(ctx, utterance)
}

// Reject locks the proposal and informs the agent so the conversation
// does not re-propose the same items unprompted.
func (pp *PendingProposal) Reject(ctx context.Context) (TurnResult, error) {
	utterance, err := pp.Proposal.Reject()
	if err != nil {
		return TurnResult{}, err
	}
	return pp.submit(ctx, utterance)
}

// Dismiss closes the proposal without a follow-up turn. Idempotent.
func (pp *PendingProposal) Dismiss() {
	pp.Proposal.Supersede()
	pp.runner.clearPending(pp)
}

func (pp *PendingProposal) submit(ctx context.Context, utterance string) (TurnResult, error) {
	// The decision already closed the proposal; drop it from the runner
	// before the new turn so supersedePending does not double-close.
	pp.runner.clearPending(pp)
	return pp.runner.RunTurn(ctx, pp.projectID, utterance)
}
