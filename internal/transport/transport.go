// Package transport implements the Transport Client: a uniform
// connect/listTools/callTool/disconnect session over the three capability
// transports (child-process, server-sent-events, streaming-HTTP), backed
// by mark3labs/mcp-go's client package.
package transport

import (
	"context"
	"fmt"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcprouter/mcprouter/internal/types"
)

const clientName = "mcprouter"

// Client is a single-use session against one capability server. It must
// not be shared across tasks or reused across calls — each operation opens
// and tears down its own instance.
type Client struct {
	desc types.ServerDescriptor
	mcp  *mcpclient.Client
}

// New builds a Client bound to a server descriptor, without connecting.
func New(desc types.ServerDescriptor) *Client {
	return &Client{desc: desc}
}

// ConnectOptions carries the time budget for a connect attempt; the
// cancellation signal is the context passed to Connect.
type ConnectOptions struct {
	Timeout time.Duration
}

// Connect opens the session: spawns the child process or dials the
// configured URL, then performs the MCP initialize handshake. Cancellation
// and the time budget are both forwarded into the underlying transport.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	mcpCli, err := c.buildClient()
	if err != nil {
		return fmt.Errorf("build transport client: %w", err)
	}
	c.mcp = mcpCli

	if err := c.mcp.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1.0.0"}

	if _, err := c.mcp.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	return nil
}

func (c *Client) buildClient() (*mcpclient.Client, error) {
	switch c.desc.Transport {
	case types.TransportChildProc:
		env := make([]string, 0, len(c.desc.Env))
		for k, v := range c.desc.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(c.desc.Command, env, c.desc.Args...)
	case types.TransportSSE:
		return mcpclient.NewSSEMCPClient(c.desc.URL, clientOptions(c.desc.Headers)...)
	case types.TransportStreamingHTTP:
		return mcpclient.NewStreamableHttpClient(c.desc.URL, clientOptions(c.desc.Headers)...)
	default:
		return nil, fmt.Errorf("unsupported transport %q for server %q", c.desc.Transport, c.desc.Name)
	}
}

// ListTools returns every capability the server exposes, normalising any
// missing description or input schema.
func (c *Client) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	result, err := c.mcp.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	out := make([]types.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := schemaToMap(t.InputSchema)
		out = append(out, types.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

// clientOptions attaches configured request headers, with ${NAME} expansion
// already resolved by the Configuration Resolver, to the initial request of
// the SSE or streaming-HTTP transport.
func clientOptions(headers map[string]string) []mcpclient.ClientOption {
	if len(headers) == 0 {
		return nil
	}
	return []mcpclient.ClientOption{mcpclient.WithHeaders(headers)}
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]interface{} {
	m := map[string]interface{}{
		"type": schema.Type,
	}
	if schema.Type == "" {
		m["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}

// CallTool invokes a capability by name with the given parameters. Any
// transport-level error is wrapped into a single-item error content card
// rather than propagated, matching the dispatch protocol's contract.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]interface{}) (types.CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	result, err := c.mcp.CallTool(ctx, req)
	if err != nil {
		return types.CallResult{
			Content: []types.ContentItem{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	items := make([]types.ContentItem, 0, len(result.Content))
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			items = append(items, types.ContentItem{Type: "text", Text: tc.Text})
		}
	}
	return types.CallResult{Content: items, IsError: result.IsError}, nil
}

// Disconnect is idempotent and never returns an error visible to the
// caller; it is always safe from a cleanup path, including after a failed
// Connect.
func (c *Client) Disconnect() {
	if c.mcp == nil {
		return
	}
	_ = c.mcp.Close()
}
