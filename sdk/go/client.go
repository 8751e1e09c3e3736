package missionboardsdk

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
)

// Client is a minimal Missionboard HTTP API client. Agents typically set
// APIKey; admin tooling sets BearerToken.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID              string   `json:"id"`
	BoardID         string   `json:"board_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status"`
	AssignedAgentID *string  `json:"assigned_agent_id,omitempty"`
	TagIDs          []string `json:"tag_ids"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// Agent represents the API agent model.
type Agent struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	BoardID           *string `json:"board_id,omitempty"`
	Status            string  `json:"status"`
	IsBoardLead       bool    `json:"is_board_lead"`
	LastSeenAt        *string `json:"last_seen_at,omitempty"`
	OpenClawSessionID *string `json:"openclaw_session_id,omitempty"`
}

// Board represents the API board model.
type Board struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Slug      string  `json:"slug"`
	GatewayID *string `json:"gateway_id,omitempty"`
}

// Activity represents one activity feed entry.
type Activity struct {
	ID        int64   `json:"id"`
	TS        string  `json:"ts"`
	EventType string  `json:"event_type"`
	Message   string  `json:"message"`
	AgentID   *string `json:"agent_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedActivity wraps activity list responses with cursors.
type PaginatedActivity struct {
	Items      []Activity `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// Heartbeat reports liveness by agent name, creating the agent if unknown.
func (c *Client) Heartbeat(ctx context.Context, name, status string) (Agent, error) {
	body := map[string]any{"name": name}
	if status != "" {
		body["status"] = status
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "v1/heartbeats", body, &resp)
	return resp, err
}

// Boards lists all boards.
func (c *Client) Boards(ctx context.Context) ([]Board, error) {
	var resp []Board
	err := c.do(ctx, http.MethodGet, "v1/boards", nil, &resp)
	return resp, err
}

// Tasks lists tasks, optionally filtered by board and status.
func (c *Client) Tasks(ctx context.Context, boardID, status string) ([]Task, error) {
	page, err := c.TasksPage(ctx, boardID, status, 0, "")
	return page.Items, err
}

// TasksPage returns a paginated task listing.
func (c *Client) TasksPage(ctx context.Context, boardID, status string, limit int, cursor string) (PaginatedTasks, error) {
	q := url.Values{}
	if boardID != "" {
		q.Set("board_id", boardID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v1/tasks"
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/tasks/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// SetTaskStatus moves a task through the workflow. For worker agents this is
// the only permitted mutation, and only on their own assigned task.
func (c *Client) SetTaskStatus(ctx context.Context, id, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v1/tasks/%s", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Activity returns recent activity entries.
func (c *Client) Activity(ctx context.Context, limit int) ([]Activity, error) {
	endpoint := "v1/activity"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp PaginatedActivity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
