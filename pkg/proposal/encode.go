package proposal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// Approval markers. The agent's prompt keys off these fixed phrases to
// distinguish a full approval from a partial one; the payload that
// follows is replayed verbatim into the commit tool.
const (
	MarkerApproveAll        = "I approve all of the proposed tasks."
	MarkerApproveSubset     = "I approve only the selected subset of the proposed tasks."
	MarkerApprovePlan       = "I approve the proposed plan."
	MarkerApprovePlanSubset = "I approve only the selected steps of the proposed plan."

	// RejectUtterance carries no payload.
	RejectUtterance = "Do not create these. I am rejecting the proposal."
)

// TasksPayload is the exact argument object for confirm_proposed_tasks.
type TasksPayload struct {
	Tasks []Candidate `json:"tasks"`
}

// PlanPayload is the exact argument object for confirm_plan. Step
// order is carried by array position; step numbers are stripped and
// regenerated by the agent.
type PlanPayload struct {
	Goal  string      `json:"goal"`
	Steps []Candidate `json:"steps"`
}

// ErrNothingSelected is returned when an approval would carry zero items.
var ErrNothingSelected = errors.New("no items selected")

// ApproveAll approves every item and returns the follow-up utterance
// to submit as a new turn. Terminal: the proposal locks afterwards.
func (p *Proposal) ApproveAll() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	utterance, err := p.encodeApproval(allSelected(len(p.selected)), true)
	if err != nil {
		return "", err
	}
	if err := p.close(StatusApproved); err != nil {
		return "", err
	}
	return utterance, nil
}

// ApproveSelected approves the currently selected items. When every
// item is still selected this is equivalent to ApproveAll, including
// the marker used.
func (p *Proposal) ApproveSelected() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := true
	any := false
	for _, on := range p.selected {
		if on {
			any = true
		} else {
			all = false
		}
	}
	if !any {
		return "", ErrNothingSelected
	}

	utterance, err := p.encodeApproval(p.selected, all)
	if err != nil {
		return "", err
	}
	if err := p.close(StatusApproved); err != nil {
		return "", err
	}
	return utterance, nil
}

// Reject locks the proposal and returns the fixed rejection utterance.
func (p *Proposal) Reject() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.close(StatusRejected); err != nil {
		return "", err
	}
	return RejectUtterance, nil
}

// encodeApproval builds the marker + payload utterance. Callers hold
// the lock and check openness afterwards via close.
func (p *Proposal) encodeApproval(selected []bool, all bool) (string, error) {
	if p.status != StatusOpen {
		return "", ErrClosed
	}

	switch p.Kind {
	case KindPlan:
		payload := PlanPayload{Goal: p.Goal}
		for i, step := range p.Steps {
			if !selected[i] {
				continue
			}
			payload.Steps = append(payload.Steps, stripped(step.Candidate))
		}
		body, err := marshalValidated(payload, planPayloadSchema)
		if err != nil {
			return "", err
		}
		marker := MarkerApprovePlan
		if !all {
			marker = MarkerApprovePlanSubset
		}
		return fmt.Sprintf("%s Call %s with exactly this payload, unchanged:\n%s",
			marker, protocol.ToolConfirmPlan, body), nil

	default:
		payload := TasksPayload{}
		for i, cand := range p.Candidates {
			if !selected[i] {
				continue
			}
			payload.Tasks = append(payload.Tasks, stripped(cand))
		}
		body, err := marshalValidated(payload, tasksPayloadSchema)
		if err != nil {
			return "", err
		}
		marker := MarkerApproveAll
		if !all {
			marker = MarkerApproveSubset
		}
		return fmt.Sprintf("%s Call %s with exactly this payload, unchanged:\n%s",
			marker, protocol.ToolConfirmProposedTasks, body), nil
	}
}

// stripped drops the temporary client-only identifier before the
// candidate travels back to the agent.
func stripped(c Candidate) Candidate {
	c.TempID = ""
	return c
}

// marshalValidated serializes the payload and checks it against the
// commit tool's schema so a malformed proposal never reaches the agent.
func marshalValidated(payload interface{}, schema string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode approval payload: %w", err)
	}
	if err := validatePayload(body, schema); err != nil {
		return "", err
	}
	return string(body), nil
}
