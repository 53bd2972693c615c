package server

import "coordline/internal/domain"

// Request payloads

type RegisterAgentRequest struct {
	AgentID        string `json:"agent_id,omitempty" doc:"Defaults to the token subject"`
	Team           string `json:"team,omitempty"`
	Capacity       *int   `json:"capacity,omitempty"`
	Status         string `json:"status,omitempty" enum:"active,inactive"`
	Specialization string `json:"specialization,omitempty"`
}

type ClaimWorkRequest struct {
	AgentID     string   `json:"agent_id,omitempty" doc:"Defaults to the token subject"`
	WorkType    string   `json:"work_type"`
	Description string   `json:"description"`
	Priority    string   `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Team        string   `json:"team,omitempty"`
	StoryPoints *int     `json:"story_points,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	TraceID     string   `json:"trace_id,omitempty"`
}

type ProgressRequest struct {
	Percentage int    `json:"percentage"`
	Label      string `json:"label,omitempty"`
}

type CompleteRequest struct {
	Result      string `json:"result" enum:"success,failed,blocked"`
	StoryPoints *int   `json:"story_points,omitempty"`
}

// Response payloads

type AgentListResponse struct {
	Items []domain.Agent `json:"items"`
}

type WorkListResponse struct {
	Items []domain.WorkItem `json:"items"`
}
