package mcptools

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"coordline/internal/config"
	"coordline/internal/domain"
	"coordline/internal/engine"
	"coordline/internal/lock"
)

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	dir := t.TempDir()
	sel, err := lock.Select(lock.ModeAuto, dir)
	if err != nil {
		t.Fatalf("select lock: %v", err)
	}
	return engine.New(dir, config.Default(), sel.Locker, nil)
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func call(t *testing.T, handle func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := handle(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return res
}

func TestToolDefinitions(t *testing.T) {
	e := newTestEngine(t)
	cases := []struct {
		def      mcp.Tool
		name     string
		required []string
	}{
		{NewRegisterTool(e).Definition(), "coord_register", []string{"agent_id"}},
		{NewClaimTool(e).Definition(), "coord_claim", []string{"agent_id", "work_type", "description"}},
		{NewProgressTool(e).Definition(), "coord_progress", []string{"work_id", "percentage"}},
		{NewCompleteTool(e).Definition(), "coord_complete", []string{"work_id", "result"}},
		{NewListWorkTool(e).Definition(), "coord_list_work", nil},
		{NewDashboardTool(e, time.Minute).Definition(), "coord_dashboard", nil},
	}
	for _, c := range cases {
		if c.def.Name != c.name {
			t.Errorf("tool name = %q, want %q", c.def.Name, c.name)
		}
		for _, field := range c.required {
			if _, ok := c.def.InputSchema.Properties[field]; !ok {
				t.Errorf("%s missing %q parameter", c.name, field)
			}
		}
	}
}

func TestClaimProgressComplete(t *testing.T) {
	e := newTestEngine(t)
	res := call(t, NewRegisterTool(e).Handle, map[string]any{"agent_id": "mcp-1", "team": "core", "capacity": float64(3)})
	if res.IsError {
		t.Fatalf("register failed: %s", resultText(res))
	}

	res = call(t, NewClaimTool(e).Handle, map[string]any{
		"agent_id":     "mcp-1",
		"work_type":    "feature",
		"description":  "tooling",
		"priority":     "critical",
		"story_points": float64(8),
	})
	if res.IsError {
		t.Fatalf("claim failed: %s", resultText(res))
	}
	var item domain.WorkItem
	if err := json.Unmarshal([]byte(resultText(res)), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.Priority != domain.PriorityCritical || item.StoryPoints == nil || *item.StoryPoints != 8 {
		t.Fatalf("unexpected item %+v", item)
	}

	res = call(t, NewProgressTool(e).Handle, map[string]any{"work_id": item.ID, "percentage": float64(40), "label": "review"})
	if res.IsError {
		t.Fatalf("progress failed: %s", resultText(res))
	}

	res = call(t, NewListWorkTool(e).Handle, map[string]any{"agent_id": "mcp-1"})
	var items []domain.WorkItem
	if err := json.Unmarshal([]byte(resultText(res)), &items); err != nil || len(items) != 1 {
		t.Fatalf("list work = %s (%v)", resultText(res), err)
	}

	res = call(t, NewCompleteTool(e).Handle, map[string]any{"work_id": item.ID, "result": "success"})
	if res.IsError {
		t.Fatalf("complete failed: %s", resultText(res))
	}
	var entry domain.LogEntry
	_ = json.Unmarshal([]byte(resultText(res)), &entry)
	if entry.StoryPointsEarned != 8 {
		t.Fatalf("earned = %d, want 8", entry.StoryPointsEarned)
	}

	res = call(t, NewDashboardTool(e, time.Hour).Handle, nil)
	if !strings.Contains(resultText(res), "completions_by_result") {
		t.Fatalf("dashboard text missing completions: %s", resultText(res))
	}
}

func TestDomainErrorsAreToolErrors(t *testing.T) {
	e := newTestEngine(t)
	res := call(t, NewProgressTool(e).Handle, map[string]any{"work_id": "missing", "percentage": float64(10)})
	if !res.IsError || !strings.HasPrefix(resultText(res), domain.KindNotFound) {
		t.Fatalf("expected not_found tool error, got %q", resultText(res))
	}
	res = call(t, NewProgressTool(e).Handle, map[string]any{"work_id": "missing"})
	if !res.IsError {
		t.Fatalf("expected error for missing percentage")
	}
	res = call(t, NewRegisterTool(e).Handle, map[string]any{"agent_id": "x", "capacity": float64(101)})
	if !res.IsError || !strings.HasPrefix(resultText(res), domain.KindValidation) {
		t.Fatalf("expected validation error, got %q", resultText(res))
	}
}

func TestFractionalNumbersRejected(t *testing.T) {
	e := newTestEngine(t)
	if res := call(t, NewRegisterTool(e).Handle, map[string]any{"agent_id": "mcp-1", "capacity": float64(3)}); res.IsError {
		t.Fatalf("register failed: %s", resultText(res))
	}
	res := call(t, NewClaimTool(e).Handle, map[string]any{"agent_id": "mcp-1", "work_type": "bug", "description": "x"})
	if res.IsError {
		t.Fatalf("claim failed: %s", resultText(res))
	}
	var item domain.WorkItem
	if err := json.Unmarshal([]byte(resultText(res)), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}

	for _, pct := range []float64{-0.5, 100.9, 99.5, math.NaN(), math.Inf(1)} {
		res := call(t, NewProgressTool(e).Handle, map[string]any{"work_id": item.ID, "percentage": pct})
		if !res.IsError || !strings.HasPrefix(resultText(res), domain.KindValidation) {
			t.Errorf("percentage %v: expected validation error, got %q", pct, resultText(res))
		}
	}
	got, err := e.GetWork(item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 0 {
		t.Fatalf("progress changed to %d", got.Progress)
	}

	cases := []struct {
		name   string
		handle func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args   map[string]any
	}{
		{"claim story_points", NewClaimTool(e).Handle, map[string]any{"agent_id": "mcp-1", "work_type": "bug", "description": "y", "story_points": 2.5}},
		{"complete story_points", NewCompleteTool(e).Handle, map[string]any{"work_id": item.ID, "result": "success", "story_points": -0.5}},
		{"register capacity", NewRegisterTool(e).Handle, map[string]any{"agent_id": "mcp-1", "capacity": 3.7}},
		{"list limit", NewListWorkTool(e).Handle, map[string]any{"limit": "two"}},
	}
	for _, c := range cases {
		res := call(t, c.handle, c.args)
		if !res.IsError || !strings.HasPrefix(resultText(res), domain.KindValidation) {
			t.Errorf("%s: expected validation error, got %q", c.name, resultText(res))
		}
	}
	items, err := e.ListWork(engine.WorkFilter{})
	if err != nil || len(items) != 1 {
		t.Fatalf("active work = %v, %v", items, err)
	}
}

func TestListArg(t *testing.T) {
	got := listArg(makeReq(map[string]any{"depends_on": " a, ,b "}), "depends_on")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("listArg = %v", got)
	}
}
