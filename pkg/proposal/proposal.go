package proposal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// Candidate is one not-yet-committed task suggestion. TempID is a
// client-visible correlation handle only, never a durable identifier.
type Candidate struct {
	TempID      string `json:"temp_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// PlanStep is a candidate with its position in an ordered plan.
type PlanStep struct {
	StepNumber int `json:"step_number,omitempty"`
	Candidate
}

// Kind distinguishes the two proposal shapes.
type Kind string

const (
	KindTasks Kind = "tasks"
	KindPlan  Kind = "plan"
)

// Status is the lifecycle of a proposal instance. All transitions out
// of StatusOpen are terminal and one-way.
type Status string

const (
	StatusOpen       Status = "open"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

// ErrClosed is returned by actions on a proposal that was already
// approved, rejected, or superseded by a newer turn.
var ErrClosed = errors.New("proposal is no longer open")

// Proposal is a client-held, unapproved set of candidate mutations
// awaiting human confirmation. Held by the UI layer only; never
// persisted.
type Proposal struct {
	ID      string
	Kind    Kind
	Message string

	// Goal and Steps are set for plan proposals, Candidates for flat
	// task-list proposals.
	Goal       string
	Steps      []PlanStep
	Candidates []Candidate

	mu       sync.Mutex
	status   Status
	selected []bool
}

// taskProposalResult mirrors the propose_tasks tool result payload.
type taskProposalResult struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Tasks   []Candidate `json:"tasks"`
}

// planProposalResult mirrors the propose_plan tool result payload.
type planProposalResult struct {
	Type    string     `json:"type"`
	Message string     `json:"message"`
	Goal    string     `json:"goal"`
	Steps   []PlanStep `json:"steps"`
}

// Extract scans a turn's completed tool calls for proposal-shaped
// results. Policy: first proposal wins; the count of additional
// proposal results that were ignored is returned for observability.
func Extract(calls []protocol.ToolCall) (*Proposal, int) {
	var found *Proposal
	ignored := 0

	for _, call := range calls {
		if len(call.Result) == 0 {
			continue
		}
		var tag struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(call.Result, &tag); err != nil {
			continue
		}

		switch tag.Type {
		case protocol.ResultTypeProposal:
			if found != nil {
				ignored++
				continue
			}
			var res taskProposalResult
			if err := json.Unmarshal(call.Result, &res); err != nil || len(res.Tasks) == 0 {
				continue
			}
			found = newProposal(KindTasks, res.Message)
			found.Candidates = res.Tasks
			found.selected = allSelected(len(res.Tasks))

		case protocol.ResultTypePlanProposal:
			if found != nil {
				ignored++
				continue
			}
			var res planProposalResult
			if err := json.Unmarshal(call.Result, &res); err != nil || len(res.Steps) == 0 {
				continue
			}
			found = newProposal(KindPlan, res.Message)
			found.Goal = res.Goal
			found.Steps = res.Steps
			found.selected = allSelected(len(res.Steps))
		}
	}

	return found, ignored
}

func newProposal(kind Kind, message string) *Proposal {
	id, _ := gonanoid.New()
	return &Proposal{
		ID:      id,
		Kind:    kind,
		Message: message,
		status:  StatusOpen,
	}
}

func allSelected(n int) []bool {
	sel := make([]bool, n)
	for i := range sel {
		sel[i] = true
	}
	return sel
}

// Status returns the proposal's lifecycle state.
func (p *Proposal) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Open reports whether the proposal can still be acted on.
func (p *Proposal) Open() bool {
	return p.Status() == StatusOpen
}

// Len is the number of displayed items (candidates or steps).
func (p *Proposal) Len() int {
	if p.Kind == KindPlan {
		return len(p.Steps)
	}
	return len(p.Candidates)
}

// Toggle flips the selection of one item. Items start selected.
func (p *Proposal) Toggle(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusOpen {
		return ErrClosed
	}
	if i < 0 || i >= len(p.selected) {
		return fmt.Errorf("item index %d out of range", i)
	}
	p.selected[i] = !p.selected[i]
	return nil
}

// SetAll selects or deselects every item.
func (p *Proposal) SetAll(selected bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusOpen {
		return ErrClosed
	}
	for i := range p.selected {
		p.selected[i] = selected
	}
	return nil
}

// Selected returns the indexes of currently selected items.
func (p *Proposal) Selected() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var idx []int
	for i, on := range p.selected {
		if on {
			idx = append(idx, i)
		}
	}
	return idx
}

// Supersede closes the proposal because a newer turn began before the
// user acted. No-op unless still open.
func (p *Proposal) Supersede() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusOpen {
		p.status = StatusSuperseded
	}
}

// close transitions out of open exactly once while holding the lock.
func (p *Proposal) close(to Status) error {
	if p.status != StatusOpen {
		return ErrClosed
	}
	p.status = to
	return nil
}
