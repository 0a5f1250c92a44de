// Package mcp exposes the conversational trigger surface as an MCP server.
// Agents invoke workflows, look up runs and watch live progress through
// tool calls; every invocation still funnels through the runner, so the
// run-recording invariants hold for conversational triggers too.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/flowmate-io/flowmate/internal/progress"
	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// Invoker executes a workflow synchronously. Satisfied by *runner.Runner.
type Invoker interface {
	Invoke(ctx context.Context, workflowID, userID string, triggerType schema.TriggerType, payload map[string]any) (*schema.RunResult, error)
}

// FlowmateServerDeps holds the dependencies for creating a FlowmateServer.
type FlowmateServerDeps struct {
	Invoker Invoker
	Store   store.Store
	Hub     progress.Hub
	Logger  *slog.Logger
}

// FlowmateServer wraps an MCP server with workflow tool handlers.
type FlowmateServer struct {
	invoker   Invoker
	store     store.Store
	hub       progress.Hub
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowmateServer creates a FlowmateServer with all tools registered.
func NewFlowmateServer(deps FlowmateServerDeps) *FlowmateServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowmateServer{
		invoker: deps.Invoker,
		store:   deps.Store,
		hub:     deps.Hub,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowmate",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowmate executes user-defined automation workflows. Use flowmate.run to trigger a workflow, flowmate.status to look up a run, flowmate.watch to stream progress events for a run, and flowmate.query to list workflows or runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *FlowmateServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *FlowmateServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowmateServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: watchTool(), Handler: s.handleWatch},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}
