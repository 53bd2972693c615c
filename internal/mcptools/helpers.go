// Package mcptools exposes coordination operations as MCP tools so agents
// can claim and report work without shelling out to the CLI.
package mcptools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"coordline/internal/domain"
)

// optionalInt returns nil when key is absent or null. JSON numbers arrive as
// float64 and must hold a whole, finite value.
func optionalInt(req mcp.CallToolRequest, key string) (*int, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var n int
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %s must be an integer, got %v", domain.ErrValidation, key, v)
		}
		if v > math.MaxInt32 || v < math.MinInt32 {
			return nil, fmt.Errorf("%w: %s %v out of range", domain.ErrValidation, key, v)
		}
		n = int(v)
	case int:
		n = v
	default:
		return nil, fmt.Errorf("%w: %s must be a number", domain.ErrValidation, key)
	}
	return &n, nil
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) (int, error) {
	v, err := optionalInt(req, key)
	if err != nil || v == nil {
		return defaultVal, err
	}
	return *v, nil
}

func listArg(req mcp.CallToolRequest, key string) []string {
	raw := req.GetString(key, "")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

// errorResult reports domain failures as tool errors tagged with their kind.
func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", domain.Kind(err), err))
}
