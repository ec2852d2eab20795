package call

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mcprouter/mcprouter/internal/transport"
	"github.com/mcprouter/mcprouter/internal/types"
)

type fakeRegistry struct {
	servers map[string]types.ServerDescriptor
}

func (f fakeRegistry) ResolveServer(tool string) (types.ServerDescriptor, bool) {
	d, ok := f.servers[tool]
	return d, ok
}

type fakeTransport struct {
	connectErr error
	callErr    error
	result     types.CallResult
	closed     bool
}

func (f *fakeTransport) Connect(_ context.Context, _ transport.ConnectOptions) error {
	return f.connectErr
}

func (f *fakeTransport) CallTool(_ context.Context, _ string, _ map[string]interface{}) (types.CallResult, error) {
	if f.callErr != nil {
		return types.CallResult{}, f.callErr
	}
	return f.result, nil
}

func (f *fakeTransport) Disconnect() {
	f.closed = true
}

func TestRunMissingToolName(t *testing.T) {
	resp := Run(context.Background(), Deps{Registry: fakeRegistry{}}, Request{ToolName: "  "})
	if !resp.IsError || !strings.Contains(resp.Content[0].Text, "tool_name is required") {
		t.Fatalf("expected tool_name required error, got %+v", resp)
	}
}

func TestRunInvalidParamsJSON(t *testing.T) {
	resp := Run(context.Background(), Deps{Registry: fakeRegistry{}}, Request{ToolName: "x", ParamsJSON: "[1,2]"})
	if !resp.IsError || !strings.Contains(resp.Content[0].Text, "invalid params_json") {
		t.Fatalf("expected invalid params_json error, got %+v", resp)
	}
}

func TestRunUnknownTool(t *testing.T) {
	resp := Run(context.Background(), Deps{Registry: fakeRegistry{servers: map[string]types.ServerDescriptor{}}}, Request{ToolName: "nope"})
	if !resp.IsError || !strings.Contains(resp.Content[0].Text, "unknown tool") {
		t.Fatalf("expected unknown tool error, got %+v", resp)
	}
}

func TestRunConnectFailureDisconnects(t *testing.T) {
	ft := &fakeTransport{connectErr: errors.New("boom")}
	deps := Deps{
		Registry:  fakeRegistry{servers: map[string]types.ServerDescriptor{"t": {Name: "srv"}}},
		NewClient: func(types.ServerDescriptor) Transport { return ft },
	}
	resp := Run(context.Background(), deps, Request{ToolName: "t"})
	if !resp.IsError || !strings.Contains(resp.Content[0].Text, "could not connect") {
		t.Fatalf("expected connect failure error, got %+v", resp)
	}
	if !ft.closed {
		t.Fatalf("expected Disconnect to be called even on connect failure")
	}
}

func TestRunCallFailure(t *testing.T) {
	ft := &fakeTransport{callErr: errors.New("dispatch exploded")}
	deps := Deps{
		Registry:  fakeRegistry{servers: map[string]types.ServerDescriptor{"t": {Name: "srv"}}},
		NewClient: func(types.ServerDescriptor) Transport { return ft },
	}
	resp := Run(context.Background(), deps, Request{ToolName: "t", ParamsJSON: "{}"})
	if !resp.IsError || !strings.Contains(resp.Content[0].Text, "call failed") {
		t.Fatalf("expected call failure error, got %+v", resp)
	}
	if !ft.closed {
		t.Fatalf("expected Disconnect to be called after call failure")
	}
}

func TestRunSuccess(t *testing.T) {
	ft := &fakeTransport{result: types.CallResult{
		Content: []types.ContentItem{{Type: "text", Text: "ok"}},
	}}
	deps := Deps{
		Registry:  fakeRegistry{servers: map[string]types.ServerDescriptor{"t": {Name: "srv"}}},
		NewClient: func(types.ServerDescriptor) Transport { return ft },
	}
	resp := Run(context.Background(), deps, Request{ToolName: "t", ParamsJSON: `{"path":"/tmp"}`})
	if resp.IsError {
		t.Fatalf("expected success, got error response: %+v", resp)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "ok" {
		t.Fatalf("unexpected content: %+v", resp.Content)
	}
	if !ft.closed {
		t.Fatalf("expected Disconnect to be called on success path")
	}
}
