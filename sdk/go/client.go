package trackwaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Trackway HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Module is an installed task module.
type Module struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Source      string   `json:"source"`
	Version     int      `json:"version"`
	Digest      string   `json:"digest"`
	Tasks       []string `json:"tasks"`
	InstalledAt string   `json:"installed_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type Diagnostic struct {
	Severity string `json:"severity"`
	Task     string `json:"task,omitempty"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
}

type InstallResult struct {
	Module      Module       `json:"module"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Skipped     []string     `json:"skipped"`
}

type TaskSummary struct {
	Module      string   `json:"module"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Methods     []string `json:"methods"`
}

type Export struct {
	Name      string `json:"name"`
	Hint      string `json:"hint"`
	Signature string `json:"signature"`
}

// TaskContext is the rendered context a peer receives for a task.
type TaskContext struct {
	Module      string   `json:"module"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Context     string   `json:"context"`
	Exports     []Export `json:"exports"`
}

// Event represents a session log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Task      string         `json:"task,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery narrows an event listing.
type EventQuery struct {
	SessionID string
	Kind      string
	Task      string
	Limit     int
	Cursor    string
}

// InstallModule uploads module source for compilation and installation.
func (c *Client) InstallModule(ctx context.Context, name, source, content string, replace bool) (InstallResult, error) {
	body := map[string]any{
		"name":    name,
		"source":  source,
		"content": content,
		"replace": replace,
	}
	var resp InstallResult
	err := c.do(ctx, http.MethodPost, c.path("modules"), body, &resp)
	return resp, err
}

func (c *Client) Modules(ctx context.Context) ([]Module, error) {
	var resp []Module
	err := c.do(ctx, http.MethodGet, c.path("modules"), nil, &resp)
	return resp, err
}

func (c *Client) RemoveModule(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.path("modules/"+url.PathEscape(name)), nil, nil)
}

// Tasks lists the tasks of every installed module.
func (c *Client) Tasks(ctx context.Context) ([]TaskSummary, error) {
	var resp []TaskSummary
	err := c.do(ctx, http.MethodGet, c.path("tasks"), nil, &resp)
	return resp, err
}

// TaskContext returns the rendered context and exports of a task.
func (c *Client) TaskContext(ctx context.Context, task string) (TaskContext, error) {
	var resp TaskContext
	err := c.do(ctx, http.MethodGet, c.path("tasks/"+url.PathEscape(task)), nil, &resp)
	return resp, err
}

// Events returns a page of events, newest first.
func (c *Client) Events(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	params := url.Values{}
	if q.SessionID != "" {
		params.Set("session_id", q.SessionID)
	}
	if q.Kind != "" {
		params.Set("kind", q.Kind)
	}
	if q.Task != "" {
		params.Set("task", q.Task)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := c.path("events")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
