package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// Client opens turn streams against the assistant backend.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	onDrop     func()
}

// Options configures a Client.
type Options struct {
	// BaseURL of the assistant backend, e.g. "https://pm.example.com".
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds the non-streaming fallback call only; streams are
	// bounded by the caller's context.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
	Logger     zerolog.Logger
	// OnDrop is invoked once per dropped (undecodable) stream line.
	OnDrop func()
}

// TurnRequest initiates one conversational turn, scoped to a project.
type TurnRequest struct {
	ProjectID string `json:"-"`
	Message   string `json:"message"`
}

// FinalResponse is the synchronous result of the non-streaming path:
// a fully resolved turn.
type FinalResponse struct {
	Message   string              `json:"message"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`
}

// StatusError reports a non-success response from the backend before
// any streaming began.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a backend client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		timeout:    opts.Timeout,
		httpClient: httpClient,
		logger:     opts.Logger,
		onDrop:     opts.OnDrop,
	}, nil
}

// OpenTurn starts a streaming turn. The returned source yields
// envelopes until the stream ends; cancelling ctx aborts the pending
// read and yields no further envelopes.
func (c *Client) OpenTurn(ctx context.Context, req TurnRequest) (Source, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn request: %w", err)
	}

	url := fmt.Sprintf("%s/api/projects/%s/chat/stream", c.baseURL, req.ProjectID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("turn request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	return NewStream(resp.Body, c.logger, c.onDrop), nil
}

// Complete is the non-streaming fallback: the same utterance, one
// synchronous fully-resolved result.
func (c *Client) Complete(ctx context.Context, req TurnRequest) (*FinalResponse, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn request: %w", err)
	}

	url := fmt.Sprintf("%s/api/projects/%s/chat", c.baseURL, req.ProjectID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("turn request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	var final FinalResponse
	if err := json.NewDecoder(resp.Body).Decode(&final); err != nil {
		return nil, fmt.Errorf("failed to decode turn response: %w", err)
	}
	return &final, nil
}
