package protocol

// Tool names the assistant is known to invoke. The set mirrors the
// agent's registry; clients only ever read these names off the stream.
const (
	ToolCreateTask            = "create_task"
	ToolBulkCreateTasks       = "bulk_create_tasks"
	ToolListTasks             = "list_tasks"
	ToolSearchDocuments       = "search_documents"
	ToolProposeTasks          = "propose_tasks"
	ToolConfirmProposedTasks  = "confirm_proposed_tasks"
	ToolProposePlan           = "propose_plan"
	ToolConfirmPlan           = "confirm_plan"
	ToolUpdateTask            = "update_task"
	ToolDeleteTask            = "delete_task"
)

// Result type tags distinguishing proposal-shaped tool results.
const (
	ResultTypeProposal     = "proposal"
	ResultTypePlanProposal = "plan_proposal"
)
