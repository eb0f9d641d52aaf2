package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskweave/taskweave/pkg/protocol"
	"github.com/taskweave/taskweave/pkg/stream"
	"github.com/taskweave/taskweave/pkg/turn"
)

// scriptedSource replays a fixed envelope sequence, then ends with
// tailErr (io.EOF by default).
type scriptedSource struct {
	mu      sync.Mutex
	envs    []protocol.Envelope
	tailErr error
	closed  bool
}

func (s *scriptedSource) Next(ctx context.Context) (protocol.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Envelope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.envs) == 0 {
		if s.tailErr != nil {
			return protocol.Envelope{}, s.tailErr
		}
		return protocol.Envelope{}, io.EOF
	}
	env := s.envs[0]
	s.envs = s.envs[1:]
	return env, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// blockingSource parks until the context is cancelled.
type blockingSource struct{}

func (s *blockingSource) Next(ctx context.Context) (protocol.Envelope, error) {
	<-ctx.Done()
	return protocol.Envelope{}, ctx.Err()
}

func (s *blockingSource) Close() error { return nil }

// fakeOpener hands out one source per call and records requests.
type fakeOpener struct {
	mu       sync.Mutex
	sources  []stream.Source
	requests []stream.TurnRequest
	openErr  error
}

func (o *fakeOpener) OpenTurn(ctx context.Context, req stream.TurnRequest) (stream.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.openErr != nil {
		return nil, o.openErr
	}
	if len(o.sources) == 0 {
		return nil, errors.New("no scripted source queued")
	}
	src := o.sources[0]
	o.sources = o.sources[1:]
	return src, nil
}

func (o *fakeOpener) lastRequest() stream.TurnRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests[len(o.requests)-1]
}

func newTestRunner(t *testing.T, opener Opener) *Runner {
	t.Helper()
	r, err := NewRunner(Config{Client: opener, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return r
}

func doneTurn(message string, calls ...protocol.ToolCall) []protocol.Envelope {
	return []protocol.Envelope{
		{Kind: protocol.KindThinking, Iteration: 1},
		{Kind: protocol.KindToken, Text: message},
		{Kind: protocol.KindDone, Message: message, ToolCalls: calls},
		{Kind: protocol.KindEndOfStream},
	}
}

func proposalCall(t *testing.T, titles ...string) protocol.ToolCall {
	t.Helper()
	type cand struct {
		TempID string `json:"temp_id"`
		Title  string `json:"title"`
	}
	payload := struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Tasks   []cand `json:"tasks"`
	}{Type: protocol.ResultTypeProposal, Message: "proposal"}
	for i, title := range titles {
		payload.Tasks = append(payload.Tasks, cand{TempID: string(rune('a' + i)), Title: title})
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return protocol.ToolCall{ToolName: protocol.ToolProposeTasks, Result: body}
}

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(Config{})
	assert.Error(t, err)
}

func TestRunTurn(t *testing.T) {
	t.Run("missing project is a precondition error", func(t *testing.T) {
		r := newTestRunner(t, &fakeOpener{})
		_, err := r.RunTurn(context.Background(), "  ", "hi")
		var te *TurnError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ErrPrecondition, te.Kind)
	})

	t.Run("successful turn resolves the done payload", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("All set.")},
		}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(context.Background(), "p1", "hello")
		require.NoError(t, err)
		assert.Equal(t, "All set.", result.Response)
		assert.False(t, result.Partial)
		assert.False(t, result.Aborted)
		assert.NotEmpty(t, result.TurnID)
		assert.Equal(t, "hello", opener.lastRequest().Message)
		assert.Equal(t, "p1", opener.lastRequest().ProjectID)
	})

	t.Run("state snapshots reach the subscriber in order", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("ok")},
		}}
		var stages []turn.Stage
		r, err := NewRunner(Config{
			Client: opener,
			Logger: zerolog.Nop(),
			OnState: func(s turn.State) {
				stages = append(stages, s.Stage)
			},
		})
		require.NoError(t, err)

		_, err = r.RunTurn(context.Background(), "p1", "hi")
		require.NoError(t, err)
		require.NotEmpty(t, stages)
		assert.Equal(t, turn.StageIdle, stages[0], "initial snapshot precedes the first envelope")
		assert.Equal(t, turn.StageIdle, stages[len(stages)-1])
	})

	t.Run("open failure is a transport error", func(t *testing.T) {
		r := newTestRunner(t, &fakeOpener{openErr: errors.New("connection refused")})
		_, err := r.RunTurn(context.Background(), "p1", "hi")
		var te *TurnError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ErrTransport, te.Kind)
		assert.ErrorContains(t, te, "could not reach")
	})

	t.Run("abnormal stream end is a stream error", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{
				envs: []protocol.Envelope{
					{Kind: protocol.KindToolStart, Tool: protocol.ToolUpdateTask},
					{Kind: protocol.KindToolEnd, Tool: protocol.ToolUpdateTask},
				},
				tailErr: errors.New("connection reset"),
			},
		}}
		r := newTestRunner(t, opener)

		_, err := r.RunTurn(context.Background(), "p1", "hi")
		var te *TurnError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ErrStream, te.Kind)

		// The mutating tool_end before the drop still signalled.
		select {
		case <-r.RefreshSignals():
		default:
			t.Fatal("refresh from before the stream error should stand")
		}
	})

	t.Run("agent error envelope is an agent error", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: []protocol.Envelope{
				{Kind: protocol.KindThinking, Iteration: 1},
				{Kind: protocol.KindError, Message: "model overloaded"},
				{Kind: protocol.KindEndOfStream},
			}},
		}}
		r := newTestRunner(t, opener)

		_, err := r.RunTurn(context.Background(), "p1", "hi")
		var te *TurnError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ErrAgent, te.Kind)
		assert.Equal(t, "model overloaded", te.Message)
	})

	t.Run("error envelope without a message is still an agent error", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: []protocol.Envelope{
				{Kind: protocol.KindThinking, Iteration: 1},
				{Kind: protocol.KindError},
				{Kind: protocol.KindEndOfStream},
			}},
		}}
		r := newTestRunner(t, opener)

		_, err := r.RunTurn(context.Background(), "p1", "hi")
		var te *TurnError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ErrAgent, te.Kind)
		assert.NotEmpty(t, te.Message)
	})

	t.Run("cancellation resolves as aborted, not an error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		opener := &fakeOpener{sources: []stream.Source{&scriptedSource{envs: doneTurn("x")}}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(ctx, "p1", "hi")
		require.NoError(t, err)
		assert.True(t, result.Aborted)
	})

	t.Run("abort cancels the in-flight turn", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{&blockingSource{}}}
		r := newTestRunner(t, opener)

		type outcome struct {
			result TurnResult
			err    error
		}
		results := make(chan outcome, 1)
		go func() {
			res, err := r.RunTurn(context.Background(), "p1", "hi")
			results <- outcome{res, err}
		}()

		// Wait for the run to register before aborting.
		require.Eventually(t, func() bool {
			r.runsMu.Lock()
			defer r.runsMu.Unlock()
			_, ok := r.activeRuns["p1"]
			return ok
		}, time.Second, 5*time.Millisecond)

		r.Abort("p1")
		out := <-results
		require.NoError(t, out.err)
		assert.True(t, out.result.Aborted)
	})

	t.Run("finished turn does not unregister a newer one", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{&blockingSource{}, &blockingSource{}}}
		r := newTestRunner(t, opener)

		ctx1, cancel1 := context.WithCancel(context.Background())
		defer cancel1()
		first := make(chan TurnResult, 1)
		go func() {
			res, _ := r.RunTurn(ctx1, "p1", "first")
			first <- res
		}()
		require.Eventually(t, func() bool {
			r.runsMu.Lock()
			defer r.runsMu.Unlock()
			_, ok := r.activeRuns["p1"]
			return ok
		}, time.Second, 5*time.Millisecond)
		r.runsMu.Lock()
		firstRun := r.activeRuns["p1"]
		r.runsMu.Unlock()

		second := make(chan TurnResult, 1)
		go func() {
			res, _ := r.RunTurn(context.Background(), "p1", "second")
			second <- res
		}()
		require.Eventually(t, func() bool {
			r.runsMu.Lock()
			defer r.runsMu.Unlock()
			return r.activeRuns["p1"] != nil && r.activeRuns["p1"] != firstRun
		}, time.Second, 5*time.Millisecond)

		cancel1()
		res := <-first
		assert.True(t, res.Aborted)

		// The first turn's unwind must leave the second registered.
		r.Abort("p1")
		select {
		case res := <-second:
			assert.True(t, res.Aborted)
		case <-time.After(time.Second):
			t.Fatal("abort should cancel the newer turn")
		}
	})

	t.Run("stream ending without done is a partial success", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: []protocol.Envelope{
				{Kind: protocol.KindToken, Text: "half an ans"},
			}},
		}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(context.Background(), "p1", "hi")
		require.NoError(t, err)
		assert.True(t, result.Partial)
		assert.Equal(t, "half an ans", result.Response)
	})

	t.Run("refresh triggers are counted and coalesced", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: []protocol.Envelope{
				{Kind: protocol.KindToolStart, Tool: protocol.ToolBulkCreateTasks},
				{Kind: protocol.KindTaskCreated, Progress: &protocol.Progress{Current: 1, Total: 3}},
				{Kind: protocol.KindTaskCreated, Progress: &protocol.Progress{Current: 2, Total: 3}},
				{Kind: protocol.KindTaskCreated, Progress: &protocol.Progress{Current: 3, Total: 3}},
				{Kind: protocol.KindToolEnd, Tool: protocol.ToolBulkCreateTasks},
				{Kind: protocol.KindDone, Message: "Created 3 tasks."},
				{Kind: protocol.KindEndOfStream},
			}},
		}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(context.Background(), "p1", "create 3 tasks")
		require.NoError(t, err)
		assert.Equal(t, 4, result.RefreshTriggers)

		<-r.RefreshSignals()
		select {
		case <-r.RefreshSignals():
			t.Fatal("signals should coalesce into one pending")
		default:
		}
	})
}

func TestProposalFlow(t *testing.T) {
	t.Run("a proposal-shaped result surfaces a pending proposal", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("Here are my suggestions.", proposalCall(t, "A", "B"))},
		}}
		var observed *PendingProposal
		r, err := NewRunner(Config{
			Client:     opener,
			Logger:     zerolog.Nop(),
			OnProposal: func(pp *PendingProposal) { observed = pp },
		})
		require.NoError(t, err)

		result, err := r.RunTurn(context.Background(), "p1", "set up the project")
		require.NoError(t, err)
		require.NotNil(t, result.Proposal)
		assert.Same(t, result.Proposal, observed)
		assert.Same(t, result.Proposal, r.Pending())
		assert.Equal(t, 2, result.Proposal.Proposal.Len())
		assert.Zero(t, result.IgnoredProposals)
	})

	t.Run("extra proposals in one turn are ignored but counted", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("two proposals",
				proposalCall(t, "A"), proposalCall(t, "B"))},
		}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(context.Background(), "p1", "hi")
		require.NoError(t, err)
		require.NotNil(t, result.Proposal)
		assert.Equal(t, 1, result.IgnoredProposals)
	})

	t.Run("a new turn supersedes the pending proposal", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("proposal", proposalCall(t, "A"))},
			&scriptedSource{envs: doneTurn("plain reply")},
		}}
		r := newTestRunner(t, opener)

		first, err := r.RunTurn(context.Background(), "p1", "suggest tasks")
		require.NoError(t, err)
		require.NotNil(t, first.Proposal)

		_, err = r.RunTurn(context.Background(), "p1", "never mind")
		require.NoError(t, err)
		assert.False(t, first.Proposal.Proposal.Open())
		assert.Nil(t, r.Pending())
	})

	t.Run("approve all submits the payload as a follow-up turn", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("proposal", proposalCall(t, "A", "B"))},
			&scriptedSource{envs: doneTurn("Created 2 tasks.",
				protocol.ToolCall{ToolName: protocol.ToolConfirmProposedTasks})},
		}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(context.Background(), "p1", "suggest tasks")
		require.NoError(t, err)
		require.NotNil(t, result.Proposal)

		followUp, err := result.Proposal.ApproveAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Created 2 tasks.", followUp.Response)

		sent := opener.lastRequest().Message
		assert.Contains(t, sent, "I approve all of the proposed tasks.")
		assert.Contains(t, sent, protocol.ToolConfirmProposedTasks)
		assert.Contains(t, sent, `"title":"A"`)
		assert.NotContains(t, sent, "temp_id")
	})

	t.Run("a decided proposal cannot be decided again", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("proposal", proposalCall(t, "A"))},
			&scriptedSource{envs: doneTurn("rejected, understood")},
		}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(context.Background(), "p1", "suggest tasks")
		require.NoError(t, err)
		require.NotNil(t, result.Proposal)

		_, err = result.Proposal.Reject(context.Background())
		require.NoError(t, err)

		_, err = result.Proposal.ApproveAll(context.Background())
		assert.Error(t, err)
		// Only the original turn plus one rejection follow-up ran.
		assert.Len(t, opener.requests, 2)
	})

	t.Run("dismiss closes without a follow-up", func(t *testing.T) {
		opener := &fakeOpener{sources: []stream.Source{
			&scriptedSource{envs: doneTurn("proposal", proposalCall(t, "A"))},
		}}
		r := newTestRunner(t, opener)

		result, err := r.RunTurn(context.Background(), "p1", "suggest tasks")
		require.NoError(t, err)
		require.NotNil(t, result.Proposal)

		result.Proposal.Dismiss()
		assert.False(t, result.Proposal.Proposal.Open())
		assert.Nil(t, r.Pending())
		assert.Len(t, opener.requests, 1)
	})
}
