package turn

import "github.com/taskweave/taskweave/pkg/protocol"

// Effect is the side-effect intent produced alongside a transition.
// The reducer itself never performs the effect.
type Effect struct {
	// RefreshTasks indicates durable task state likely changed and the
	// external task list should be re-fetched.
	RefreshTasks bool
}

// Apply is the state-transition function for one turn: it maps the
// current state and an incoming envelope to the next state plus any
// side-effect intent. Pure; the input state is copied, not mutated.
func Apply(s State, env protocol.Envelope) (State, Effect) {
	var eff Effect

	switch env.Kind {
	case protocol.KindThinking:
		if env.Iteration > s.Iteration {
			s.Iteration = env.Iteration
		} else {
			s.Iteration++
		}
		if s.Iteration <= 1 && s.LastCompleted == "" {
			s.Stage = StageAnalyzing
		} else {
			s.Stage = StageAwaitingModel
		}
		s.Label = thinkingLabel(s.LastCompleted)

	case protocol.KindToolStart:
		s.Stage = StageToolRunning
		s.Tool = env.Tool
		s.ToolArgs = env.Arguments
		s.ToolResult = nil
		s.Progress = nil
		s.Label = ToolLabel(env.Tool)

	case protocol.KindTaskCreated:
		// Stays tool_running; each created item refreshes immediately
		// rather than waiting for tool_end.
		s.Stage = StageToolRunning
		s.Progress = env.Progress
		s.Label = progressLabel(ToolLabel(s.Tool), env.Progress)
		eff.RefreshTasks = true

	case protocol.KindToolEnd:
		s.Stage = StageToolDone
		s.ToolResult = env.Result
		s.LastCompleted = env.Tool
		call := protocol.ToolCall{ToolName: env.Tool, Result: env.Result}
		if env.Tool == s.Tool {
			call.Arguments = s.ToolArgs
		}
		s.ToolCalls = append(s.ToolCalls, call)
		if IsMutating(env.Tool) {
			eff.RefreshTasks = true
		}

	case protocol.KindComposing:
		s.Stage = StageComposing
		s.Label = "composing a response"

	case protocol.KindToken:
		s.Stage = StageStreaming
		s.Buffer += env.Text
		s.Label = ""

	case protocol.KindDone:
		s.Stage = StageIdle
		s.Done = true
		s.Label = ""
		// The done payload is authoritative even when it diverges from
		// the accumulated fragments.
		s.Response = env.Message
		if len(env.ToolCalls) > 0 {
			s.ToolCalls = env.ToolCalls
		}

	case protocol.KindError:
		s.Stage = StageIdle
		s.Done = true
		s.Failed = true
		s.Label = ""
		s.ErrMessage = env.Message

	case protocol.KindEndOfStream:
		if s.Done {
			break
		}
		// Degenerate completion: keep whatever partial state exists.
		s.Stage = StageIdle
		s.Label = ""
		if s.Response == "" {
			s.Response = s.Buffer
		}

	case protocol.KindPlanStarted:
		s.Stage = StageToolRunning
		s.PlanGoal = env.PlanGoal
		s.Progress = &protocol.Progress{Current: 0, Total: env.TotalSteps}
		s.Label = "starting the plan"
		// The parent task for the goal was just created.
		eff.RefreshTasks = true

	case protocol.KindPlanStepCreated:
		s.Stage = StageToolRunning
		s.Progress = &protocol.Progress{Current: env.StepNumber, Total: env.TotalSteps}
		s.Label = progressLabel("creating plan steps", s.Progress)
		eff.RefreshTasks = true
	}

	return s, eff
}
