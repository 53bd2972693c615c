package coordsdk

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

// Client is a minimal coordination HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Agent represents a registered agent.
type Agent struct {
	ID              string    `json:"id"`
	Team            string    `json:"team"`
	Capacity        int       `json:"capacity"`
	CurrentWorkload int       `json:"current_workload"`
	Status          string    `json:"status"`
	Specialization  string    `json:"specialization,omitempty"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
}

// WorkItem represents an active claim.
type WorkItem struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	WorkType     string    `json:"work_type"`
	Description  string    `json:"description"`
	Priority     string    `json:"priority"`
	Status       string    `json:"status"`
	StatusLabel  string    `json:"status_label,omitempty"`
	Progress     int       `json:"progress"`
	Team         string    `json:"team"`
	ClaimedAt    time.Time `json:"claimed_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	StoryPoints  *int      `json:"story_points,omitempty"`
	Dependencies []string  `json:"dependencies"`
	TraceID      string    `json:"trace_id"`
	SpanID       string    `json:"span_id"`
}

// LogEntry is the record written when work completes.
type LogEntry struct {
	WorkItemID        string    `json:"work_item_id"`
	AgentID           string    `json:"agent_id"`
	ClaimedAt         time.Time `json:"claimed_at"`
	CompletionTime    time.Time `json:"completion_time"`
	Duration          string    `json:"duration"`
	Result            string    `json:"result"`
	Status            string    `json:"status,omitempty"`
	StoryPointsEarned int       `json:"story_points_earned"`
	TraceID           string    `json:"trace_id,omitempty"`
}

// RegisterRequest registers or refreshes an agent. Empty AgentID lets the
// server use the bearer token subject.
type RegisterRequest struct {
	AgentID        string `json:"agent_id,omitempty"`
	Team           string `json:"team,omitempty"`
	Capacity       *int   `json:"capacity,omitempty"`
	Status         string `json:"status,omitempty"`
	Specialization string `json:"specialization,omitempty"`
}

// ClaimRequest claims a new work item.
type ClaimRequest struct {
	AgentID     string   `json:"agent_id,omitempty"`
	WorkType    string   `json:"work_type"`
	Description string   `json:"description"`
	Priority    string   `json:"priority,omitempty"`
	Team        string   `json:"team,omitempty"`
	StoryPoints *int     `json:"story_points,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	TraceID     string   `json:"trace_id,omitempty"`
}

// WorkFilter narrows ListWork.
type WorkFilter struct {
	Status string
	Team   string
	Agent  string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates or refreshes an agent.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodPost, "agents", req, &resp)
	return resp, err
}

// Heartbeat refreshes an agent's liveness timestamp.
func (c *Client) Heartbeat(ctx context.Context, agentID string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("agents/%s/heartbeat", url.PathEscape(agentID)), nil, &resp)
	return resp, err
}

// Deregister removes an agent. force removes it even while it owns work.
func (c *Client) Deregister(ctx context.Context, agentID string, force bool) (Agent, error) {
	endpoint := fmt.Sprintf("agents/%s", url.PathEscape(agentID))
	if force {
		endpoint += "?force=true"
	}
	var resp Agent
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

// ListAgents returns every registered agent.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var resp struct {
		Items []Agent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "agents", nil, &resp)
	return resp.Items, err
}

// Claim creates a work item owned by the requesting agent.
func (c *Client) Claim(ctx context.Context, req ClaimRequest) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "work", req, &resp)
	return resp, err
}

// Progress records a completion percentage with an optional label.
func (c *Client) Progress(ctx context.Context, workID string, percentage int, label string) (WorkItem, error) {
	body := map[string]any{"percentage": percentage}
	if label != "" {
		body["label"] = label
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("work/%s/progress", url.PathEscape(workID)), body, &resp)
	return resp, err
}

// Complete finishes a work item. A nil storyPoints keeps the claim estimate.
func (c *Client) Complete(ctx context.Context, workID, result string, storyPoints *int) (LogEntry, error) {
	body := map[string]any{"result": result}
	if storyPoints != nil {
		body["story_points"] = *storyPoints
	}
	var resp LogEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("work/%s/complete", url.PathEscape(workID)), body, &resp)
	return resp, err
}

// GetWork fetches an active work item.
func (c *Client) GetWork(ctx context.Context, workID string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("work/%s", url.PathEscape(workID)), nil, &resp)
	return resp, err
}

// ListWork returns active work matching f.
func (c *Client) ListWork(ctx context.Context, f WorkFilter) ([]WorkItem, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Team != "" {
		q.Set("team", f.Team)
	}
	if f.Agent != "" {
		q.Set("agent", f.Agent)
	}
	endpoint := "work"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []WorkItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Dashboard returns the raw dashboard report.
func (c *Client) Dashboard(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "dashboard", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	prefix := strings.Trim(c.BasePath, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
