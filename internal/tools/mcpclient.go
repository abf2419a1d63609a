package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// mcpCaller is the part of an MCP client a remote tool needs.
type mcpCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// RemoteToolset is a connected MCP server whose tools are exposed as Tools.
type RemoteToolset struct {
	client *client.Client
	Tools  []Tool
}

// ConnectMCP connects to a streamable HTTP MCP server and lists its tools.
func ConnectMCP(ctx context.Context, url, clientName string) (*RemoteToolset, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, errors.Wrap(err, "tools: create mcp client")
	}
	if err := c.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "tools: start mcp client")
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "tools: initialize mcp")
	}

	ts, err := remoteTools(ctx, c, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	log.Info().Str("url", url).Int("tools", len(ts)).Msg("connected to mcp server")
	return &RemoteToolset{client: c, Tools: ts}, nil
}

type toolLister interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
}

func remoteTools(ctx context.Context, lister toolLister, caller mcpCaller) ([]Tool, error) {
	res, err := lister.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errors.Wrap(err, "tools: list mcp tools")
	}
	out := make([]Tool, 0, len(res.Tools))
	seen := make(map[string]bool, len(res.Tools))
	for _, mt := range res.Tools {
		name := SanitizeName(mt.Name)
		if seen[name] {
			base := name
			for i := 2; seen[name]; i++ {
				name = fmt.Sprintf("%s_%d", base, i)
			}
			log.Warn().Str("tool", mt.Name).Str("name", name).Msg("mcp tool name collides after sanitizing, renamed")
		}
		seen[name] = true
		out = append(out, Tool{
			Name:        name,
			Description: mt.Description,
			Parameters:  toolSchema(mt),
			Call:        remoteCall(caller, mt.Name),
		})
	}
	return out, nil
}

func toolSchema(mt mcp.Tool) map[string]any {
	raw := mt.RawInputSchema
	if len(raw) == 0 {
		b, err := json.Marshal(mt.InputSchema)
		if err != nil {
			return objectSchema(map[string]any{})
		}
		raw = b
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return objectSchema(map[string]any{})
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

func remoteCall(caller mcpCaller, name string) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		args := map[string]any{}
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", errors.Wrap(err, "tools: invalid arguments")
			}
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args

		res, err := caller.CallTool(ctx, req)
		if err != nil {
			return "", errors.Wrapf(err, "tools: call %s", name)
		}
		text := resultText(res)
		if res.IsError {
			return "", errors.Errorf("tools: %s failed: %s", name, text)
		}
		return text, nil
	}
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (r *RemoteToolset) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
