package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskweave/taskweave/internal/metrics"
	"github.com/taskweave/taskweave/pkg/proposal"
	"github.com/taskweave/taskweave/pkg/protocol"
	"github.com/taskweave/taskweave/pkg/stream"
	"github.com/taskweave/taskweave/pkg/transcript"
	"github.com/taskweave/taskweave/pkg/turn"
)

// Opener opens one envelope stream per turn.
type Opener interface {
	OpenTurn(ctx context.Context, req stream.TurnRequest) (stream.Source, error)
}

// Runner drives conversational turns: it opens exactly one stream per
// call, reduces envelopes into session state, emits refresh signals as
// mutating tool activity is observed, and resolves each turn to
// exactly one terminal outcome.
type Runner struct {
	client      Opener
	transcripts *transcript.Manager
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	onState     func(turn.State)
	onProposal  func(*PendingProposal)

	// refresh is the shared, coalescing "durable state changed" signal
	// consumers subscribe to.
	refresh chan struct{}

	// Active runs for abort capability, keyed by project ID.
	activeRuns map[string]*activeRun
	runsMu     sync.Mutex

	// The at-most-one proposal still awaiting a decision. A new turn
	// supersedes it.
	pending   *PendingProposal
	pendingMu sync.Mutex
}

// Config holds runner configuration.
type Config struct {
	// Client opens turn streams. Required.
	Client Opener
	// Transcripts, when set, records finished turns locally.
	Transcripts *transcript.Manager
	// Metrics, when set, receives turn/stream/proposal counters.
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// OnState receives a session-state snapshot after every envelope.
	OnState func(turn.State)
	// OnProposal fires when a turn surfaces a proposal for approval.
	OnProposal func(*PendingProposal)
}

// NewRunner creates a turn runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("stream client is required")
	}

	return &Runner{
		client:      cfg.Client,
		transcripts: cfg.Transcripts,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		onState:     cfg.OnState,
		onProposal:  cfg.OnProposal,
		refresh:     make(chan struct{}, 1),
		activeRuns:  make(map[string]*activeRun),
	}, nil
}

// RefreshSignals is the subscription point for "durable state changed,
// re-fetch the task list". Coalescing, capacity one.
func (r *Runner) RefreshSignals() <-chan struct{} {
	return r.refresh
}

// Abort cancels the in-flight turn for a project, if any. The turn
// resolves with an aborted result, not an error.
func (r *Runner) Abort(projectID string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	run, ok := r.activeRuns[projectID]
	if !ok {
		r.logger.Debug().Str("project_id", projectID).Msg("No active turn to abort")
		return
	}
	r.logger.Info().Str("project_id", projectID).Msg("Aborting turn")
	run.cancel()
	delete(r.activeRuns, projectID)
}

// activeRun identifies one in-flight turn. The unwind compares the
// stored pointer so a finished turn never evicts a newer one that
// registered under the same project.
type activeRun struct {
	cancel context.CancelFunc
}

// Pending returns the proposal still awaiting a decision, if any.
func (r *Runner) Pending() *PendingProposal {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pending
}

// RunTurn executes one conversational turn: the utterance is sent, the
// envelope stream consumed to its terminal event, and exactly one
// outcome returned. Refresh side effects fire as they occur and never
// block or fail the turn.
func (r *Runner) RunTurn(ctx context.Context, projectID, utterance string) (TurnResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(projectID) == "" {
		r.countTurn("precondition_error")
		return TurnResult{}, &TurnError{Kind: ErrPrecondition, Message: "no project selected for this conversation"}
	}

	// A fresh turn supersedes any proposal still awaiting a decision;
	// the old one must not stay silently clickable.
	r.supersedePending()

	turnID := uuid.NewString()
	logger := r.logger.With().Str("turn_id", turnID).Str("project_id", projectID).Logger()
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &activeRun{cancel: cancel}
	r.runsMu.Lock()
	r.activeRuns[projectID] = run
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		if r.activeRuns[projectID] == run {
			delete(r.activeRuns, projectID)
		}
		r.runsMu.Unlock()
	}()

	src, err := r.client.OpenTurn(runCtx, stream.TurnRequest{ProjectID: projectID, Message: utterance})
	if err != nil {
		if runCtx.Err() != nil {
			r.countTurn("aborted")
			return TurnResult{TurnID: turnID, Input: utterance, Aborted: true}, nil
		}
		logger.Error().Err(err).Msg("Turn initiation failed")
		r.countTurn("transport_error")
		return TurnResult{}, &TurnError{Kind: ErrTransport, Message: "could not reach the assistant", Err: err}
	}
	defer src.Close()

	state := turn.NewState(turnID)
	correlator := turn.NewCorrelator()
	r.emit(state)

	for !state.Done {
		env, nextErr := src.Next(runCtx)
		if nextErr != nil {
			if errors.Is(nextErr, io.EOF) {
				break
			}
			if runCtx.Err() != nil || errors.Is(nextErr, context.Canceled) {
				logger.Info().Dur("elapsed", time.Since(start)).Msg("Turn aborted")
				r.countTurn("aborted")
				return TurnResult{TurnID: turnID, Input: utterance, Aborted: true}, nil
			}
			// Refreshes already triggered stand; partial progress is
			// not undone.
			logger.Error().Err(nextErr).Msg("Stream ended abnormally")
			r.countTurn("stream_error")
			return TurnResult{}, &TurnError{Kind: ErrStream, Message: "the response stream was interrupted", Err: nextErr}
		}

		if r.metrics != nil {
			r.metrics.EnvelopesTotal.WithLabelValues(string(env.Kind)).Inc()
		}

		var eff turn.Effect
		state, eff = turn.Apply(state, env)
		if correlator.Note(eff) {
			if r.metrics != nil {
				r.metrics.RefreshSignalsTotal.Inc()
			}
			r.signalRefresh()
		}
		r.emit(state)

		if env.Kind == protocol.KindEndOfStream {
			break
		}
	}

	// The error envelope itself marks the failure; its message may be
	// empty.
	if state.Failed {
		logger.Warn().Str("agent_error", state.ErrMessage).Msg("Agent reported an error")
		r.countTurn("agent_error")
		msg := state.ErrMessage
		if msg == "" {
			msg = "the assistant reported an error"
		}
		return TurnResult{}, &TurnError{Kind: ErrAgent, Message: msg}
	}

	// Degenerate completion: stream ended with no done envelope.
	partial := !state.Done
	if partial && state.Response == "" {
		state.Response = state.Buffer
	}
	if partial {
		logger.Warn().Msg("Stream ended without a terminal envelope; finishing with partial state")
	}

	result := TurnResult{
		TurnID:          turnID,
		Input:           utterance,
		Response:        state.Response,
		ToolCalls:       state.ToolCalls,
		RefreshTriggers: correlator.Triggers(),
		Partial:         partial,
	}

	prop, ignored := proposal.Extract(state.ToolCalls)
	result.IgnoredProposals = ignored
	if r.metrics != nil && ignored > 0 {
		r.metrics.ProposalsIgnoredTotal.Add(float64(ignored))
	}
	if prop != nil {
		pp := &PendingProposal{Proposal: prop, runner: r, projectID: projectID}
		r.setPending(pp)
		result.Proposal = pp
		if r.metrics != nil {
			r.metrics.ProposalsTotal.WithLabelValues(string(prop.Kind)).Inc()
		}
		if r.onProposal != nil {
			r.onProposal(pp)
		}
	}

	r.record(projectID, turnID, utterance, result)
	r.countTurn("success")
	if r.metrics != nil {
		r.metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info().
		Int("tool_calls", len(result.ToolCalls)).
		Int("refresh_triggers", result.RefreshTriggers).
		Bool("partial", partial).
		Dur("elapsed", time.Since(start)).
		Msg("Turn finished")

	return result, nil
}

// emit hands a state snapshot to the subscriber.
func (r *Runner) emit(state turn.State) {
	if r.onState != nil {
		r.onState(state)
	}
}

// signalRefresh publishes a coalesced refresh signal without blocking
// envelope processing.
func (r *Runner) signalRefresh() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

func (r *Runner) supersedePending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if r.pending != nil {
		r.pending.Proposal.Supersede()
		r.pending = nil
	}
}

func (r *Runner) setPending(pp *PendingProposal) {
	r.pendingMu.Lock()
	r.pending = pp
	r.pendingMu.Unlock()
}

// clearPending drops pp if it is still the tracked proposal. A newer
// proposal is left untouched.
func (r *Runner) clearPending(pp *PendingProposal) {
	r.pendingMu.Lock()
	if r.pending == pp {
		r.pending = nil
	}
	r.pendingMu.Unlock()
}

func (r *Runner) countTurn(outcome string) {
	if r.metrics != nil {
		r.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	}
}

// record appends the finished turn to the local transcript, best
// effort.
func (r *Runner) record(projectID, turnID, utterance string, result TurnResult) {
	if r.transcripts == nil {
		return
	}
	if err := r.transcripts.Append(projectID, transcript.Entry{
		TurnID:  turnID,
		Role:    "user",
		Content: utterance,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record user entry")
		return
	}
	if err := r.transcripts.Append(projectID, transcript.Entry{
		TurnID:    turnID,
		Role:      "assistant",
		Content:   result.Response,
		ToolCalls: result.ToolCalls,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record assistant entry")
	}
}
