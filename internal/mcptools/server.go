package mcptools

import (
	"time"

	"github.com/mark3labs/mcp-go/server"

	"coordline/internal/engine"
)

const instructions = `Coordination tools for agents sharing one workspace.
Register once with coord_register, check coord_list_work before starting,
claim with coord_claim, report with coord_progress and finish with coord_complete.`

// NewServer registers every coordination tool on a fresh MCP server.
func NewServer(e engine.Engine, version string, staleAfter time.Duration) *server.MCPServer {
	s := server.NewMCPServer(
		"coordline",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	register := NewRegisterTool(e)
	s.AddTool(register.Definition(), register.Handle)

	claim := NewClaimTool(e)
	s.AddTool(claim.Definition(), claim.Handle)

	progress := NewProgressTool(e)
	s.AddTool(progress.Definition(), progress.Handle)

	complete := NewCompleteTool(e)
	s.AddTool(complete.Definition(), complete.Handle)

	list := NewListWorkTool(e)
	s.AddTool(list.Definition(), list.Handle)

	dash := NewDashboardTool(e, staleAfter)
	s.AddTool(dash.Definition(), dash.Handle)

	return s
}

// ServeStdio runs the tool server over stdin/stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
