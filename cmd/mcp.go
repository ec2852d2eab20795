package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mcprouter/mcprouter/internal/call"
	"github.com/mcprouter/mcprouter/internal/search"
	"github.com/mcprouter/mcprouter/internal/telemetry"
	"github.com/mcprouter/mcprouter/internal/transport"
	"github.com/mcprouter/mcprouter/internal/types"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start mcprouter as an MCP server",
	Long: `Starts mcprouter as a Model Context Protocol (MCP) server that exposes
exactly two meta-capabilities to the host, in place of every configured
capability server's full tool schema:

  mcp_search - find relevant tools by natural-language query
  mcp_call   - invoke a tool by name once you know it

Transports:
  stdio (default) - for local desktop apps (Claude Desktop, Cursor)
  http             - for remote/cloud deployments

Example:
  mcprouter mcp
  mcprouter mcp --transport http --port 8081

Configure in an MCP host's config file:
  {
    "mcpServers": {
      "mcprouter": {
        "command": "mcprouter",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().Int("port", 8081, "HTTP server port (for http transport)")
	mcpCmd.Flags().String("host", "0.0.0.0", "HTTP server host (for http transport)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	transportKind, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

	ctx := context.Background()
	a, err := bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	a.supervisor.Start(ctx, a.cfg.Indexer, a.cfg.Servers, statusTimestamp)

	s := server.NewMCPServer(
		"mcprouter",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	a.registerTools(s)

	switch transportKind {
	case "stdio":
		if err := server.ServeStdio(s); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
	case "http":
		addr := fmt.Sprintf("%s:%d", host, port)
		a.logger.Info("mcprouter MCP server starting", "addr", addr)

		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","server":"mcprouter"}`))
		})
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			a.metrics.Handler().ServeHTTP(w, r)
		})
		mux.Handle("/mcp", server.NewStreamableHTTPServer(s, server.WithStateful(true)))

		httpServer := &http.Server{Addr: addr, Handler: mux}
		if err := httpServer.ListenAndServe(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	default:
		return fmt.Errorf("unsupported transport: %s (use 'stdio' or 'http')", transportKind)
	}

	return nil
}

func (a *app) registerTools(s *server.MCPServer) {
	searchTool := mcpgo.NewTool("mcp_search",
		mcpgo.WithDescription(`Find capabilities across every connected MCP server by natural-language
query, instead of having every server's tools loaded into context up front.

WHEN TO USE: whenever you need to find a tool to accomplish a task and
don't already know its exact name. Returns ranked capability cards; call
mcp_call with the returned name once you've picked one.`),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("Natural-language description of the capability you're looking for")),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum number of results to return (default: configured topK, max 20)")),
		mcpgo.WithBoolean("include_schema", mcpgo.Description("Include each capability's full parameter JSON schema in the result")),
	)
	s.AddTool(searchTool, a.handleSearch)

	callTool := mcpgo.NewTool("mcp_call",
		mcpgo.WithDescription(`Invoke a capability discovered via mcp_search by name, on its owning
MCP server.`),
		mcpgo.WithString("tool_name", mcpgo.Required(), mcpgo.Description("Exact capability name returned by mcp_search")),
		mcpgo.WithString("params_json", mcpgo.Description("JSON object of parameters for the call (default: {})")),
	)
	s.AddTool(callTool, a.handleCall)
}

func (a *app) handleSearch(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()
	query, _ := args["query"].(string)

	req := search.Request{
		Query: query,
		Limit: int(request.GetFloat("limit", 0)),
	}
	if raw, ok := args["include_schema"].(bool); ok {
		req.IncludeSchema = &raw
	}

	ctx, span := a.telemetry.StartSearch(ctx, query)
	defer span.End()

	start := time.Now()
	resp := search.Run(ctx, search.Deps{
		Embedding: a.embedding,
		Store:     a.store,
		Config:    a.cfg.Search,
	}, req)

	a.metrics.RecordSearch(time.Since(start), resp.Count)
	telemetry.RecordSearchResult(span, resp.Count)
	return toCallToolResult(resp.Content, false), nil
}

func (a *app) handleCall(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()
	toolName, _ := args["tool_name"].(string)
	paramsJSON, _ := args["params_json"].(string)

	owner, _ := a.registry.ResolveServer(toolName)
	ctx, span := a.telemetry.StartCall(ctx, toolName, owner.Name)
	defer span.End()

	start := time.Now()
	resp := call.Run(ctx, call.Deps{
		Registry:  a.registry,
		Logger:    a.logger,
		NewClient: func(desc types.ServerDescriptor) call.Transport { return transport.New(desc) },
	}, call.Request{ToolName: toolName, ParamsJSON: paramsJSON})
	a.metrics.RecordCall(owner.Name, time.Since(start))
	if resp.IsError {
		telemetry.RecordError(span, fmt.Errorf("%s", firstText(resp.Content)))
	}

	return toCallToolResult(resp.Content, resp.IsError), nil
}

func firstText(items []types.ContentItem) string {
	if len(items) == 0 {
		return ""
	}
	return items[0].Text
}

func toCallToolResult(items []types.ContentItem, isError bool) *mcpgo.CallToolResult {
	content := make([]mcpgo.Content, 0, len(items))
	for _, item := range items {
		content = append(content, mcpgo.TextContent{Type: "text", Text: item.Text})
	}
	return &mcpgo.CallToolResult{Content: content, IsError: isError}
}
