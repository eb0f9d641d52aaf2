package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/pkg/assistant"
	"github.com/taskweave/taskweave/pkg/proposal"
	"github.com/taskweave/taskweave/pkg/tasks"
	"github.com/taskweave/taskweave/pkg/turn"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with the assistant for a project.
Messages stream live; task mutations made by the assistant refresh the
local task list automatically. Bulk task creation is proposed first and
committed only after your approval.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// chatRenderer turns state snapshots into terminal output. It tracks
// what was already printed so each envelope adds only its delta.
type chatRenderer struct {
	lastLabel string
	printed   int
	streaming bool
	streamed  string
}

func (r *chatRenderer) render(state turn.State) {
	if state.Label != "" && state.Label != r.lastLabel {
		if r.streaming {
			fmt.Println()
			r.streaming = false
		}
		fmt.Printf("  · %s\n", state.Label)
		r.lastLabel = state.Label
	}
	if len(state.Buffer) > r.printed {
		fmt.Print(state.Buffer[r.printed:])
		r.printed = len(state.Buffer)
		r.streamed = state.Buffer
		r.streaming = true
	}
}

func (r *chatRenderer) reset() {
	r.lastLabel = ""
	r.printed = 0
	r.streaming = false
	r.streamed = ""
}

func runChat(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if app.projectID == "" {
		return fmt.Errorf("no project selected: pass --project or set project.id in the config")
	}

	opener, err := app.opener()
	if err != nil {
		return err
	}

	renderer := &chatRenderer{}
	runner, err := assistant.NewRunner(assistant.Config{
		Client:      opener,
		Transcripts: app.transcripts,
		Metrics:     app.metrics,
		Logger:      app.zerolog(),
		OnState:     renderer.render,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.serveMetrics()

	// Keep the task snapshot in step with assistant-side mutations.
	syncer, err := tasks.NewSyncer(app.taskClient, app.projectID, app.cfg.Sync.Schedule, app.zerolog())
	if err != nil {
		return err
	}
	go syncer.Run(ctx, runner.RefreshSignals())

	// Hot-reload the pieces that can change mid-session: log level and
	// the reconcile schedule. Transport settings need a restart.
	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), app.zerolog(), func(cfg *config.Config) {
		if level, perr := zerolog.ParseLevel(cfg.Logging.Level); perr == nil {
			zerolog.SetGlobalLevel(level)
		}
		syncer.Reschedule(ctx, cfg.Sync.Schedule)
	})
	if err != nil {
		zl := app.zerolog()
		zl.Warn().Err(err).Msg("Config reload disabled")
	} else {
		go func() {
			if werr := watcher.Watch(ctx); werr != nil {
				zl := app.zerolog()
				zl.Warn().Err(werr).Msg("Config watcher stopped")
			}
		}()
	}

	fmt.Printf("Connected to project %s. Type a message, /tasks, or /quit.\n", app.projectID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/tasks":
			printTasks(syncer.Snapshot())
			continue
		case line == "/clear":
			if err := app.transcripts.Clear(app.projectID); err != nil {
				fmt.Printf("could not clear transcript: %v\n", err)
			} else {
				fmt.Println("transcript cleared")
			}
			continue
		}

		renderer.reset()
		result, err := runner.RunTurn(ctx, app.projectID, line)
		if renderer.streaming {
			fmt.Println()
		}
		if err != nil {
			printTurnError(err)
			continue
		}
		finishTurn(ctx, renderer, result)
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// finishTurn prints the resolved response and walks any proposal
// through the approval prompt, including follow-up turns.
func finishTurn(ctx context.Context, renderer *chatRenderer, result assistant.TurnResult) {
	for {
		if result.Aborted {
			fmt.Println("(turn aborted)")
			return
		}
		// Streamed fragments may differ from the authoritative final
		// text; print the final form when it adds anything.
		if result.Response != "" && result.Response != renderer.streamed {
			fmt.Println(result.Response)
		}
		if result.Partial {
			fmt.Println("(the assistant stopped early; the reply above may be incomplete)")
		}
		if result.Proposal == nil {
			return
		}

		next, done := promptProposal(ctx, result.Proposal)
		if done {
			return
		}
		renderer.reset()
		result = next
	}
}

// promptProposal renders the proposal and reads a decision. Returns
// the follow-up turn's result, or done=true when no follow-up ran.
func promptProposal(ctx context.Context, pending *assistant.PendingProposal) (assistant.TurnResult, bool) {
	p := pending.Proposal
	printProposal(p)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("approve all [a], select [numbers], reject [r], skip [s]? ")
		if !scanner.Scan() {
			return assistant.TurnResult{}, true
		}
		choice := strings.TrimSpace(strings.ToLower(scanner.Text()))

		var (
			result assistant.TurnResult
			err    error
		)
		switch {
		case choice == "a" || choice == "all":
			result, err = pending.ApproveAll(ctx)
		case choice == "r" || choice == "reject":
			result, err = pending.Reject(ctx)
		case choice == "s" || choice == "skip":
			pending.Dismiss()
			fmt.Println("(proposal dismissed; nothing was created)")
			return assistant.TurnResult{}, true
		case choice != "":
			if !applySelection(p, choice) {
				continue
			}
			result, err = pending.ApproveSelected(ctx)
		default:
			continue
		}

		if err != nil {
			if errors.Is(err, proposal.ErrNothingSelected) {
				fmt.Println("nothing selected; pick at least one item or reject")
				continue
			}
			if errors.Is(err, proposal.ErrClosed) {
				fmt.Println("(this proposal is no longer open)")
				return assistant.TurnResult{}, true
			}
			printTurnError(err)
			return assistant.TurnResult{}, true
		}
		return result, false
	}
}

// applySelection parses "1 3 4" style input into item toggles.
func applySelection(p *proposal.Proposal, input string) bool {
	fields := strings.FieldsFunc(input, func(r rune) bool { return r == ' ' || r == ',' })
	want := make(map[int]bool)
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > p.Len() {
			fmt.Printf("invalid selection %q; use numbers 1-%d\n", f, p.Len())
			return false
		}
		want[n-1] = true
	}
	if len(want) == 0 {
		return false
	}

	if err := p.SetAll(false); err != nil {
		return false
	}
	for i := range want {
		if err := p.Toggle(i); err != nil {
			return false
		}
	}
	return true
}

func printProposal(p *proposal.Proposal) {
	if p.Message != "" {
		fmt.Println(p.Message)
	}
	switch p.Kind {
	case proposal.KindPlan:
		fmt.Printf("Proposed plan: %s\n", p.Goal)
		for i, step := range p.Steps {
			fmt.Printf("  %d. %s", i+1, step.Title)
			if step.Priority != "" {
				fmt.Printf(" [%s]", step.Priority)
			}
			fmt.Println()
			if step.Description != "" {
				fmt.Printf("     %s\n", step.Description)
			}
		}
	default:
		fmt.Println("Proposed tasks:")
		for i, cand := range p.Candidates {
			fmt.Printf("  %d. %s", i+1, cand.Title)
			if cand.Priority != "" {
				fmt.Printf(" [%s]", cand.Priority)
			}
			if cand.Assignee != "" {
				fmt.Printf(" @%s", cand.Assignee)
			}
			fmt.Println()
		}
	}
}

func printTasks(list []tasks.Task) {
	if len(list) == 0 {
		fmt.Println("no tasks in the local snapshot yet")
		return
	}
	for _, t := range list {
		fmt.Printf("  [%s] %s (%s)\n", t.Status, t.Title, t.ID)
	}
}

func printTurnError(err error) {
	var te *assistant.TurnError
	if errors.As(err, &te) {
		switch te.Kind {
		case assistant.ErrPrecondition:
			fmt.Printf("cannot send: %s\n", te.Message)
		case assistant.ErrTransport:
			fmt.Printf("connection problem: %s\n", te.Message)
		case assistant.ErrStream:
			fmt.Printf("stream interrupted: %s\n", te.Message)
		case assistant.ErrAgent:
			fmt.Printf("assistant error: %s\n", te.Message)
		default:
			fmt.Printf("turn failed: %v\n", te)
		}
		return
	}
	fmt.Printf("turn failed: %v\n", err)
}
