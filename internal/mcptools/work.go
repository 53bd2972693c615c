package mcptools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"coordline/internal/dashboard"
	"coordline/internal/engine"
)

// ClaimTool handles coord_claim.
type ClaimTool struct {
	engine engine.Engine
}

func NewClaimTool(e engine.Engine) *ClaimTool {
	return &ClaimTool{engine: e}
}

func (t *ClaimTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_claim",
		mcp.WithDescription("Claim a new unit of work. Returns the work item with its generated id."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Claiming agent")),
		mcp.WithString("work_type", mcp.Required(), mcp.Description("Category such as feature, bug or refactor")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the work is")),
		mcp.WithString("priority",
			mcp.Description("Defaults to medium"),
			mcp.Enum("low", "medium", "high", "critical"),
		),
		mcp.WithString("team", mcp.Description("Defaults to the agent's team")),
		mcp.WithNumber("story_points", mcp.Description("Estimate, non-negative")),
		mcp.WithString("depends_on", mcp.Description("Comma-separated ids of work this depends on")),
	)
}

func (t *ClaimTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	points, err := optionalInt(req, "story_points")
	if err != nil {
		return errorResult(err), nil
	}
	item, err := t.engine.Claim(ctx, engine.ClaimOptions{
		AgentID:      req.GetString("agent_id", ""),
		WorkType:     req.GetString("work_type", ""),
		Description:  req.GetString("description", ""),
		Priority:     req.GetString("priority", ""),
		Team:         req.GetString("team", ""),
		StoryPoints:  points,
		Dependencies: listArg(req, "depends_on"),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(item), nil
}

// ProgressTool handles coord_progress.
type ProgressTool struct {
	engine engine.Engine
}

func NewProgressTool(e engine.Engine) *ProgressTool {
	return &ProgressTool{engine: e}
}

func (t *ProgressTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_progress",
		mcp.WithDescription("Report progress on an active work item."),
		mcp.WithString("work_id", mcp.Required(), mcp.Description("Work item id")),
		mcp.WithNumber("percentage", mcp.Required(), mcp.Description("0 to 100")),
		mcp.WithString("label", mcp.Description("Short status label such as testing or review")),
	)
}

func (t *ProgressTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pct, err := optionalInt(req, "percentage")
	if err != nil {
		return errorResult(err), nil
	}
	if pct == nil {
		return mcp.NewToolResultError("'percentage' is required"), nil
	}
	item, err := t.engine.Progress(ctx, req.GetString("work_id", ""), *pct, req.GetString("label", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(item), nil
}

// CompleteTool handles coord_complete.
type CompleteTool struct {
	engine engine.Engine
}

func NewCompleteTool(e engine.Engine) *CompleteTool {
	return &CompleteTool{engine: e}
}

func (t *CompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_complete",
		mcp.WithDescription("Finish a work item and move it to the coordination log."),
		mcp.WithString("work_id", mcp.Required(), mcp.Description("Work item id")),
		mcp.WithString("result",
			mcp.Required(),
			mcp.Enum("success", "failed", "blocked"),
		),
		mcp.WithNumber("story_points", mcp.Description("Actual points; defaults to the claim estimate")),
	)
}

func (t *CompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	points, err := optionalInt(req, "story_points")
	if err != nil {
		return errorResult(err), nil
	}
	entry, err := t.engine.Complete(ctx, engine.CompleteOptions{
		ID:          req.GetString("work_id", ""),
		Result:      req.GetString("result", ""),
		StoryPoints: points,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(entry), nil
}

// ListWorkTool handles coord_list_work.
type ListWorkTool struct {
	engine engine.Engine
}

func NewListWorkTool(e engine.Engine) *ListWorkTool {
	return &ListWorkTool{engine: e}
}

func (t *ListWorkTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_list_work",
		mcp.WithDescription("List active work, highest priority first. Check this before claiming to avoid duplicate effort."),
		mcp.WithString("status", mcp.Enum("active", "in_progress")),
		mcp.WithString("team"),
		mcp.WithString("agent_id"),
		mcp.WithNumber("limit", mcp.Description("Maximum items to return (default: all)")),
	)
}

func (t *ListWorkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, err := intArg(req, "limit", 0)
	if err != nil {
		return errorResult(err), nil
	}
	items, err := t.engine.ListWork(engine.WorkFilter{
		Status:  req.GetString("status", ""),
		Team:    req.GetString("team", ""),
		AgentID: req.GetString("agent_id", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return jsonResult(items), nil
}

// DashboardTool handles coord_dashboard.
type DashboardTool struct {
	engine     engine.Engine
	staleAfter time.Duration
}

func NewDashboardTool(e engine.Engine, staleAfter time.Duration) *DashboardTool {
	return &DashboardTool{engine: e, staleAfter: staleAfter}
}

func (t *DashboardTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_dashboard",
		mcp.WithDescription("Summarize active work, agent utilisation, completions and velocity."),
	)
}

func (t *DashboardTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	now := time.Now()
	if t.engine.Now != nil {
		now = t.engine.Now()
	}
	report := dashboard.Build(t.engine.Store, t.engine.Store.SpansPath(), now, t.staleAfter)
	return jsonResult(report), nil
}
