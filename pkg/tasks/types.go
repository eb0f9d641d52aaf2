package tasks

import "time"

// Task statuses, matching the backend's enum.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

// Task priorities, matching the backend's enum.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Task is a durable task owned by the backend store. Plan steps are
// tasks linked to a parent via ParentTaskID with an explicit order.
type Task struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	Assignee     string     `json:"assignee,omitempty"`
	DueDate      string     `json:"due_date,omitempty"`
	ParentTaskID string     `json:"parent_task_id,omitempty"`
	Order        int        `json:"order,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// TaskCreate is the payload for creating a task directly (outside the
// agent's proposal flow).
type TaskCreate struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Priority     string `json:"priority,omitempty"`
	Assignee     string `json:"assignee,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
	ParentTaskID string `json:"parent_task_id,omitempty"`
}

// TaskUpdate carries only the fields to change.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// Filter narrows list results.
type Filter struct {
	Status   string
	Priority string
}
