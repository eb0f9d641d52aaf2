package turn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskweave/taskweave/pkg/protocol"
)

func TestApply(t *testing.T) {
	t.Run("first thinking reads as analysis", func(t *testing.T) {
		s, eff := Apply(NewState("t1"), protocol.Envelope{Kind: protocol.KindThinking, Iteration: 1})
		assert.Equal(t, StageAnalyzing, s.Stage)
		assert.Equal(t, "analyzing your request", s.Label)
		assert.Equal(t, 1, s.Iteration)
		assert.False(t, eff.RefreshTasks)
	})

	t.Run("thinking after list_tasks reads as review", func(t *testing.T) {
		s := NewState("t1")
		s.Iteration = 1
		s.LastCompleted = protocol.ToolListTasks
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindThinking, Iteration: 2})
		assert.Equal(t, StageAwaitingModel, s.Stage)
		assert.Equal(t, "reviewing the task list", s.Label)
		assert.Equal(t, 2, s.Iteration)
	})

	t.Run("iteration stays monotonic without the field", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindThinking})
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindThinking})
		assert.Equal(t, 2, s.Iteration)
	})

	t.Run("tool_start records tool and arguments", func(t *testing.T) {
		args := map[string]interface{}{"title": "Ship it"}
		s, eff := Apply(NewState("t1"), protocol.Envelope{
			Kind: protocol.KindToolStart, Tool: protocol.ToolCreateTask, Arguments: args,
		})
		assert.Equal(t, StageToolRunning, s.Stage)
		assert.Equal(t, protocol.ToolCreateTask, s.Tool)
		assert.Equal(t, args, s.ToolArgs)
		assert.Equal(t, "creating a task", s.Label)
		assert.False(t, eff.RefreshTasks)
	})

	t.Run("unknown tool gets the generic label", func(t *testing.T) {
		s, _ := Apply(NewState("t1"), protocol.Envelope{Kind: protocol.KindToolStart, Tool: "summarize_sprint"})
		assert.Equal(t, "working on it", s.Label)
	})

	t.Run("task_created refreshes immediately with progress", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToolStart, Tool: protocol.ToolBulkCreateTasks})
		s, eff := Apply(s, protocol.Envelope{
			Kind:     protocol.KindTaskCreated,
			Task:     &protocol.TaskInfo{ID: "a", Title: "One"},
			Progress: &protocol.Progress{Current: 1, Total: 3},
		})
		assert.True(t, eff.RefreshTasks)
		assert.Equal(t, StageToolRunning, s.Stage)
		assert.Equal(t, "creating tasks (1/3)", s.Label)
	})

	t.Run("tool_end of a mutating tool refreshes", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{
			Kind: protocol.KindToolStart, Tool: protocol.ToolUpdateTask,
			Arguments: map[string]interface{}{"task_id": "a"},
		})
		s, eff := Apply(s, protocol.Envelope{
			Kind: protocol.KindToolEnd, Tool: protocol.ToolUpdateTask, Result: json.RawMessage(`{"ok":true}`),
		})
		assert.True(t, eff.RefreshTasks)
		assert.Equal(t, StageToolDone, s.Stage)
		require.Len(t, s.ToolCalls, 1)
		assert.Equal(t, protocol.ToolUpdateTask, s.ToolCalls[0].ToolName)
		assert.Equal(t, "a", s.ToolCalls[0].Arguments["task_id"])
	})

	t.Run("tool_end of a read-only tool does not refresh", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToolStart, Tool: protocol.ToolListTasks})
		s, eff := Apply(s, protocol.Envelope{Kind: protocol.KindToolEnd, Tool: protocol.ToolListTasks})
		assert.False(t, eff.RefreshTasks)
		assert.Equal(t, protocol.ToolListTasks, s.LastCompleted)
	})

	t.Run("tokens accumulate and clear the label", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindComposing})
		assert.Equal(t, "composing a response", s.Label)
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToken, Text: "Hel"})
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToken, Text: "lo"})
		assert.Equal(t, StageStreaming, s.Stage)
		assert.Equal(t, "Hello", s.Buffer)
		assert.Empty(t, s.Label)
	})

	t.Run("done payload is authoritative over the buffer", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToken, Text: "Creating ta"})
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindDone, Message: "Created 3 tasks."})
		assert.True(t, s.Done)
		assert.Equal(t, "Created 3 tasks.", s.Response)
		assert.Equal(t, StageIdle, s.Stage)
	})

	t.Run("done replaces tool calls when it carries a list", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToolStart, Tool: protocol.ToolListTasks})
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToolEnd, Tool: protocol.ToolListTasks})
		s, _ = Apply(s, protocol.Envelope{
			Kind:    protocol.KindDone,
			Message: "done",
			ToolCalls: []protocol.ToolCall{
				{ToolName: protocol.ToolCreateTask},
				{ToolName: protocol.ToolListTasks},
			},
		})
		require.Len(t, s.ToolCalls, 2)
		assert.Equal(t, protocol.ToolCreateTask, s.ToolCalls[0].ToolName)
	})

	t.Run("error envelope terminates with message", func(t *testing.T) {
		s, eff := Apply(NewState("t1"), protocol.Envelope{Kind: protocol.KindError, Message: "model overloaded"})
		assert.True(t, s.Done)
		assert.True(t, s.Failed)
		assert.Equal(t, "model overloaded", s.ErrMessage)
		assert.False(t, eff.RefreshTasks)
	})

	t.Run("error envelope without a message still fails the turn", func(t *testing.T) {
		s, _ := Apply(NewState("t1"), protocol.Envelope{Kind: protocol.KindError})
		assert.True(t, s.Done)
		assert.True(t, s.Failed)
		assert.Empty(t, s.ErrMessage)
	})

	t.Run("end_of_stream after done changes nothing", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindDone, Message: "final"})
		s, eff := Apply(s, protocol.Envelope{Kind: protocol.KindEndOfStream})
		assert.Equal(t, "final", s.Response)
		assert.False(t, eff.RefreshTasks)
	})

	t.Run("end_of_stream without done keeps the buffer", func(t *testing.T) {
		s := NewState("t1")
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindToken, Text: "partial answ"})
		s, _ = Apply(s, protocol.Envelope{Kind: protocol.KindEndOfStream})
		assert.False(t, s.Done)
		assert.Equal(t, "partial answ", s.Response)
		assert.Equal(t, StageIdle, s.Stage)
	})

	t.Run("plan events refresh per step", func(t *testing.T) {
		s := NewState("t1")
		s, eff := Apply(s, protocol.Envelope{Kind: protocol.KindPlanStarted, PlanGoal: "Launch v2", TotalSteps: 4})
		assert.True(t, eff.RefreshTasks)
		assert.Equal(t, "Launch v2", s.PlanGoal)

		s, eff = Apply(s, protocol.Envelope{Kind: protocol.KindPlanStepCreated, StepNumber: 1, TotalSteps: 4})
		assert.True(t, eff.RefreshTasks)
		assert.Equal(t, "creating plan steps (1/4)", s.Label)
	})
}

// The canonical bulk-creation turn: one bulk tool run creating three
// tasks, then a streamed reply.
func TestApplyBulkCreateScenario(t *testing.T) {
	envelopes := []protocol.Envelope{
		{Kind: protocol.KindThinking, Iteration: 1},
		{Kind: protocol.KindToolStart, Tool: protocol.ToolBulkCreateTasks, Arguments: map[string]interface{}{"count": 3}},
		{Kind: protocol.KindTaskCreated, Task: &protocol.TaskInfo{ID: "a", Title: "One"}, Progress: &protocol.Progress{Current: 1, Total: 3}},
		{Kind: protocol.KindTaskCreated, Task: &protocol.TaskInfo{ID: "b", Title: "Two"}, Progress: &protocol.Progress{Current: 2, Total: 3}},
		{Kind: protocol.KindTaskCreated, Task: &protocol.TaskInfo{ID: "c", Title: "Three"}, Progress: &protocol.Progress{Current: 3, Total: 3}},
		{Kind: protocol.KindToolEnd, Tool: protocol.ToolBulkCreateTasks, Result: json.RawMessage(`{"created":3}`)},
		{Kind: protocol.KindComposing},
		{Kind: protocol.KindToken, Text: "Created "},
		{Kind: protocol.KindToken, Text: "3 tasks."},
		{Kind: protocol.KindDone, Message: "Created 3 tasks."},
	}

	s := NewState("t1")
	c := NewCorrelator()
	for _, env := range envelopes {
		var eff Effect
		s, eff = Apply(s, env)
		c.Note(eff)
	}

	assert.True(t, s.Done)
	assert.Equal(t, "Created 3 tasks.", s.Response)
	require.Len(t, s.ToolCalls, 1)
	assert.Equal(t, protocol.ToolBulkCreateTasks, s.ToolCalls[0].ToolName)
	// 3 task_created + 1 tool_end of a mutating tool.
	assert.Equal(t, 4, c.Triggers())
}
