package turn

import "github.com/taskweave/taskweave/pkg/protocol"

// mutatingTools is the fixed set of tool names known to alter durable
// task state. Completion of any of these requires a task-list refresh.
// Search and list tools are deliberately absent.
var mutatingTools = map[string]struct{}{
	protocol.ToolCreateTask:           {},
	protocol.ToolBulkCreateTasks:      {},
	protocol.ToolConfirmProposedTasks: {},
	protocol.ToolConfirmPlan:          {},
	protocol.ToolUpdateTask:           {},
	protocol.ToolDeleteTask:           {},
}

// IsMutating reports whether a tool is known to change durable task state.
func IsMutating(tool string) bool {
	_, ok := mutatingTools[tool]
	return ok
}
