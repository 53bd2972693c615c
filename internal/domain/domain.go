package domain

import (
	"fmt"
	"strings"
	"time"
)

type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// ParseAgentStatus accepts the two agent states case-insensitively. An empty
// string means active.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "active":
		return AgentActive, nil
	case "inactive":
		return AgentInactive, nil
	}
	return "", fmt.Errorf("%w: agent status %q must be active or inactive", ErrValidation, s)
}

type Agent struct {
	ID              string      `json:"id"`
	Team            string      `json:"team"`
	Capacity        int         `json:"capacity"`
	CurrentWorkload int         `json:"current_workload"`
	Status          AgentStatus `json:"status"`
	Specialization  string      `json:"specialization,omitempty"`
	RegisteredAt    time.Time   `json:"registered_at"`
	LastHeartbeat   time.Time   `json:"last_heartbeat"`
}

// OverCapacity reports whether the agent carries more work than it declared.
func (a Agent) OverCapacity() bool {
	return a.CurrentWorkload > a.Capacity
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every priority from least to most urgent.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	}
	return "", fmt.Errorf("%w: priority %q must be one of low, medium, high, critical", ErrValidation, s)
}

// Rank orders priorities for sorting; unknown values sort last.
func (p Priority) Rank() int {
	for i, known := range Priorities {
		if p == known {
			return len(Priorities) - i
		}
	}
	return 0
}

// WorkStatus is the closed set of work item states. InProgress carries a
// free-text label in WorkItem.StatusLabel that is only ever displayed.
type WorkStatus string

const (
	StatusActive     WorkStatus = "active"
	StatusInProgress WorkStatus = "in_progress"
	StatusCompleted  WorkStatus = "completed"
	StatusFailed     WorkStatus = "failed"
	StatusBlocked    WorkStatus = "blocked"
)

// Statuses lists every work status in lifecycle order.
var Statuses = []WorkStatus{StatusActive, StatusInProgress, StatusCompleted, StatusFailed, StatusBlocked}

func (s WorkStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

func (s WorkStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultBlocked Result = "blocked"
)

func ParseResult(s string) (Result, error) {
	switch r := Result(strings.ToLower(strings.TrimSpace(s))); r {
	case ResultSuccess, ResultFailed, ResultBlocked:
		return r, nil
	}
	return "", fmt.Errorf("%w: result %q must be one of success, failed, blocked", ErrValidation, s)
}

// Status maps a completion result onto its terminal work status.
func (r Result) Status() WorkStatus {
	switch r {
	case ResultFailed:
		return StatusFailed
	case ResultBlocked:
		return StatusBlocked
	default:
		return StatusCompleted
	}
}

type WorkItem struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agent_id"`
	WorkType     string     `json:"work_type"`
	Description  string     `json:"description"`
	Priority     Priority   `json:"priority"`
	Status       WorkStatus `json:"status"`
	StatusLabel  string     `json:"status_label,omitempty"`
	Progress     int        `json:"progress"`
	Team         string     `json:"team"`
	ClaimedAt    time.Time  `json:"claimed_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	StoryPoints  *int       `json:"story_points,omitempty"`
	Dependencies []string   `json:"dependencies"`
	TraceID      string     `json:"trace_id"`
	SpanID       string     `json:"span_id"`
}

// DisplayStatus renders in_progress items with their label.
func (w WorkItem) DisplayStatus() string {
	if w.Status == StatusInProgress && w.StatusLabel != "" {
		return fmt.Sprintf("%s(%s)", w.Status, w.StatusLabel)
	}
	return string(w.Status)
}

// Duration is persisted as a Go duration string ("1h2m3s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(data []byte) error {
	parsed, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(data), err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type LogEntry struct {
	WorkItemID        string     `json:"work_item_id"`
	AgentID           string     `json:"agent_id"`
	WorkType          string     `json:"work_type,omitempty"`
	Priority          Priority   `json:"priority,omitempty"`
	Team              string     `json:"team,omitempty"`
	ClaimedAt         time.Time  `json:"claimed_at"`
	CompletionTime    time.Time  `json:"completion_time"`
	Duration          Duration   `json:"duration"`
	Result            Result     `json:"result"`
	Status            WorkStatus `json:"status,omitempty"`
	StoryPointsEarned int        `json:"story_points_earned"`
	TraceID           string     `json:"trace_id,omitempty"`
}
