// Package call implements the Call Operator: resolve a capability's owning
// server, open a fresh transport session, dispatch, and tear down.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcprouter/mcprouter/internal/transport"
	"github.com/mcprouter/mcprouter/internal/types"
)

const defaultCallTimeout = 30 * time.Second

// Resolver is the subset of the Capability Registry the call operator
// needs.
type Resolver interface {
	ResolveServer(tool string) (types.ServerDescriptor, bool)
}

// Transport is the subset of the Transport Client the call operator needs;
// an interface so a fresh session can be opened per call without this
// package depending on the concrete mcp-go client directly.
type Transport interface {
	Connect(ctx context.Context, opts transport.ConnectOptions) error
	CallTool(ctx context.Context, name string, params map[string]interface{}) (types.CallResult, error)
	Disconnect()
}

// TransportFactory builds a fresh Transport bound to a server descriptor.
type TransportFactory func(types.ServerDescriptor) Transport

// Deps bundles the operator's collaborators.
type Deps struct {
	Registry  Resolver
	NewClient TransportFactory
	Logger    *slog.Logger
}

// Request is the mcp_call tool's parameters.
type Request struct {
	ToolName   string
	ParamsJSON string
}

// Response is what mcp_call returns to the host.
type Response struct {
	Content []types.ContentItem
	IsError bool
}

// Run executes one call() invocation.
func Run(ctx context.Context, deps Deps, req Request) Response {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	toolName := strings.TrimSpace(req.ToolName)
	if toolName == "" {
		return errorResponse("tool_name is required")
	}

	paramsJSON := req.ParamsJSON
	if paramsJSON == "" {
		paramsJSON = "{}"
	}
	params, err := decodeParamsObject(paramsJSON)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid params_json: %v", err))
	}

	server, ok := deps.Registry.ResolveServer(toolName)
	if !ok {
		return errorResponse(fmt.Sprintf("unknown tool %q — use search first", toolName))
	}

	client := deps.NewClient(server)
	defer client.Disconnect()

	if err := client.Connect(ctx, transport.ConnectOptions{Timeout: defaultCallTimeout}); err != nil {
		logger.Warn("call: connect failed", "tool", toolName, "server", server.Name, "error", err)
		return errorResponse(fmt.Sprintf("could not connect to server %q: %v", server.Name, err))
	}

	result, err := client.CallTool(ctx, toolName, params)
	if err != nil {
		logger.Warn("call: dispatch failed", "tool", toolName, "server", server.Name, "error", err)
		return errorResponse(fmt.Sprintf("call failed: %v", err))
	}

	return Response{Content: result.Content, IsError: result.IsError}
}

// decodeParamsObject requires params_json to decode to a JSON object — an
// array, a bare scalar, or null is rejected.
func decodeParamsObject(paramsJSON string) (map[string]interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(paramsJSON), &raw); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("must decode to a JSON object")
	}
	return obj, nil
}

func errorResponse(msg string) Response {
	return Response{Content: []types.ContentItem{{Type: "text", Text: msg}}, IsError: true}
}
