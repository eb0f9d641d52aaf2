package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the durable task store's HTTP API. The store is the
// single source of truth; this client never caches (see Syncer).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOptions configures the task store client.
type ClientOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewClient creates a task store client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// List fetches tasks for a project. This is the operation refresh
// signals map to.
func (c *Client) List(ctx context.Context, projectID string, filter Filter) ([]Task, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/projects/%s/tasks", c.baseURL, projectID)
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Priority != "" {
		query.Set("priority", filter.Priority)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var list []Task
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Create adds a task directly.
func (c *Client) Create(ctx context.Context, projectID string, data TaskCreate) (Task, error) {
	if projectID == "" {
		return Task{}, fmt.Errorf("project ID is required")
	}
	if data.Title == "" {
		return Task{}, fmt.Errorf("title is required")
	}

	endpoint := fmt.Sprintf("%s/api/projects/%s/tasks", c.baseURL, projectID)
	var created Task
	if err := c.do(ctx, http.MethodPost, endpoint, data, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// Update changes the provided fields of a task.
func (c *Client) Update(ctx context.Context, taskID string, data TaskUpdate) (Task, error) {
	if taskID == "" {
		return Task{}, fmt.Errorf("task ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/tasks/%s", c.baseURL, taskID)
	var updated Task
	if err := c.do(ctx, http.MethodPatch, endpoint, data, &updated); err != nil {
		return Task{}, err
	}
	return updated, nil
}

// Delete removes a task permanently.
func (c *Client) Delete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/tasks/%s", c.baseURL, taskID)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("task store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("task store returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode task store response: %w", err)
	}
	return nil
}
