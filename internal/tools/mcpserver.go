package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
)

// NewMCPServer returns an MCP server exposing ts.
func NewMCPServer(name, version string, ts []Tool) (*server.MCPServer, error) {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(true))
	for _, t := range ts {
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, err
		}
		s.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, schema), mcpHandler(t))
	}
	return s, nil
}

func mcpHandler(t Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		out, err := t.Call(ctx, args)
		if err != nil {
			log.Warn().Err(err).Str("tool", t.Name).Msg("mcp tool call failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
