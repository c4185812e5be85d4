package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/config"
	"github.com/isdmx/playground-runner/sandbox"
)

// ToolName is the name the runner is registered under
const ToolName = "run_java_program"

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	runner     sandbox.Runner
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner sandbox.Runner) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	s.mcpServer = server.NewMCPServer("playground-runner", "Compiles and runs Java programs in a sandbox")
	s.registerRunTool()

	return s, nil
}

func (s *MCPServer) registerRunTool() {
	tool := mcp.Tool{
		Name:        ToolName,
		Description: "Compile and run a single-file Java program with a public Main class",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Complete Java source of Main.java",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Standard input for the program (optional)",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"description": "Execution deadline in milliseconds (optional, capped by the server)",
				},
			},
			Required: []string{"source"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunJavaProgram)
}

// handleRunJavaProgram runs one submission. Compile errors, runtime errors
// and timeouts are ordinary results; only infrastructure faults set IsError.
func (s *MCPServer) handleRunJavaProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source")
	if err != nil {
		return nil, fmt.Errorf("source parameter is required: %w", err)
	}

	req := sandbox.Request{
		Source: source,
		Stdin:  request.GetString("stdin", ""),
	}
	if _, ok := request.GetArguments()["timeout_ms"]; ok {
		timeout := request.GetInt("timeout_ms", 0)
		req.TimeoutMs = &timeout
	}

	s.logger.Info("run requested",
		zap.Int("source_len", len(source)),
		zap.Int("stdin_len", len(req.Stdin)),
		zap.Bool("has_timeout", req.TimeoutMs != nil))

	result, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Error("run failed", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Info("run completed",
		zap.String("status", string(result.Status)),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP and blocks until it stops
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
