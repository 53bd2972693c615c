package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"coordline/internal/engine"
)

// RegisterTool handles coord_register.
type RegisterTool struct {
	engine engine.Engine
}

func NewRegisterTool(e engine.Engine) *RegisterTool {
	return &RegisterTool{engine: e}
}

func (t *RegisterTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_register",
		mcp.WithDescription("Register this agent, or refresh its team, capacity, status and specialization. Call once before claiming work."),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Stable agent identifier"),
		),
		mcp.WithString("team", mcp.Description("Team name")),
		mcp.WithNumber("capacity", mcp.Description("Maximum concurrent work items, 0 to 100")),
		mcp.WithString("status",
			mcp.Description("active (default) or inactive"),
			mcp.Enum("active", "inactive"),
		),
		mcp.WithString("specialization", mcp.Description("Free-text skill tag")),
	)
}

func (t *RegisterTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	capacity, err := optionalInt(req, "capacity")
	if err != nil {
		return errorResult(err), nil
	}
	agent, err := t.engine.Register(ctx, engine.RegisterOptions{
		AgentID:        agentID,
		Team:           req.GetString("team", ""),
		Capacity:       capacity,
		Status:         req.GetString("status", ""),
		Specialization: req.GetString("specialization", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(agent), nil
}
