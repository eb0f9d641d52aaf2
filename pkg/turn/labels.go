package turn

import (
	"fmt"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// toolLabels maps tool names to progress text shown while the tool
// runs. Open-ended: unknown tools fall through to a generic label.
var toolLabels = map[string]string{
	protocol.ToolCreateTask:           "creating a task",
	protocol.ToolBulkCreateTasks:      "creating tasks",
	protocol.ToolListTasks:            "looking through the task list",
	protocol.ToolSearchDocuments:      "searching project documents",
	protocol.ToolProposeTasks:         "drafting task suggestions",
	protocol.ToolConfirmProposedTasks: "creating the approved tasks",
	protocol.ToolProposePlan:          "drafting a plan",
	protocol.ToolConfirmPlan:          "setting up the plan",
	protocol.ToolUpdateTask:           "updating a task",
	protocol.ToolDeleteTask:           "deleting a task",
}

// ToolLabel returns the progress label for a running tool.
func ToolLabel(name string) string {
	if label, ok := toolLabels[name]; ok {
		return label
	}
	return "working on it"
}

// thinkingLabel derives the label for a model call from the tool that
// completed just before it. The first call of a turn has no prior tool
// and reads as plain analysis.
func thinkingLabel(lastCompleted string) string {
	switch lastCompleted {
	case "":
		return "analyzing your request"
	case protocol.ToolListTasks:
		return "reviewing the task list"
	case protocol.ToolSearchDocuments:
		return "reading the search results"
	case protocol.ToolProposeTasks, protocol.ToolProposePlan:
		return "preparing the proposal"
	default:
		return "deciding the next step"
	}
}

// progressLabel renders incremental bulk progress, e.g. "creating tasks (3/7)".
func progressLabel(base string, p *protocol.Progress) string {
	if p == nil || p.Total == 0 {
		return base
	}
	return fmt.Sprintf("%s (%d/%d)", base, p.Current, p.Total)
}
