package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"coordline/internal/dashboard"
	"coordline/internal/domain"
	"coordline/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List registered agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AgentListResponse `json:"body"`
	}, error) {
		agents, err := e.ListAgents()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentListResponse `json:"body"`
		}{Body: AgentListResponse{Items: agents}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-agent",
		Method:      http.MethodPost,
		Path:        "/agents",
		Summary:     "Register or refresh an agent",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		agentID := input.Body.AgentID
		if agentID == "" {
			agentID = agentIDFromContext(ctx)
		}
		team := input.Body.Team
		if team == "" {
			team = teamFromContext(ctx)
		}
		agent, err := e.Register(ctx, engine.RegisterOptions{
			AgentID:        agentID,
			Team:           team,
			Capacity:       input.Body.Capacity,
			Status:         input.Body.Status,
			Specialization: input.Body.Specialization,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: agent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-heartbeat",
		Method:      http.MethodPost,
		Path:        "/agents/{agent_id}/heartbeat",
		Summary:     "Record an agent heartbeat",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		agent, err := e.Heartbeat(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: agent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deregister-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{agent_id}",
		Summary:     "Deregister an agent",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
		Force   bool   `query:"force"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		agent, err := e.Deregister(ctx, input.AgentID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: agent}, nil
	})
}

func registerWork(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-work",
		Method:      http.MethodGet,
		Path:        "/work",
		Summary:     "List active work",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Team   string `query:"team"`
		Agent  string `query:"agent"`
	}) (*struct {
		Body WorkListResponse `json:"body"`
	}, error) {
		items, err := e.ListWork(engine.WorkFilter{Status: input.Status, Team: input.Team, AgentID: input.Agent})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkListResponse `json:"body"`
		}{Body: WorkListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "claim-work",
		Method:        http.MethodPost,
		Path:          "/work",
		Summary:       "Claim new work",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ClaimWorkRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		agentID := input.Body.AgentID
		if agentID == "" {
			agentID = agentIDFromContext(ctx)
		}
		team := input.Body.Team
		if team == "" {
			team = teamFromContext(ctx)
		}
		item, err := e.Claim(ctx, engine.ClaimOptions{
			AgentID:      agentID,
			WorkType:     input.Body.WorkType,
			Description:  input.Body.Description,
			Priority:     input.Body.Priority,
			Team:         team,
			StoryPoints:  input.Body.StoryPoints,
			Dependencies: input.Body.DependsOn,
			TraceID:      input.Body.TraceID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work",
		Method:      http.MethodGet,
		Path:        "/work/{work_id}",
		Summary:     "Get an active work item",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkID string `path:"work_id"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		item, err := e.GetWork(input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "progress-work",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/progress",
		Summary:     "Report progress on work",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkID string          `path:"work_id"`
		Body   ProgressRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		item, err := e.Progress(ctx, input.WorkID, input.Body.Percentage, input.Body.Label)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-work",
		Method:      http.MethodPost,
		Path:        "/work/{work_id}/complete",
		Summary:     "Complete work and move it to the coordination log",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkID string          `path:"work_id"`
		Body   CompleteRequest `json:"body"`
	}) (*struct {
		Body domain.LogEntry `json:"body"`
	}, error) {
		entry, err := e.Complete(ctx, engine.CompleteOptions{
			ID:          input.WorkID,
			Result:      input.Body.Result,
			StoryPoints: input.Body.StoryPoints,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LogEntry `json:"body"`
		}{Body: entry}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine, staleAfter time.Duration) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Aggregated coordination view",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body dashboard.Report `json:"body"`
	}, error) {
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		report := dashboard.Build(e.Store, e.Store.SpansPath(), now, staleAfter)
		return &struct {
			Body dashboard.Report `json:"body"`
		}{Body: report}, nil
	})
}
