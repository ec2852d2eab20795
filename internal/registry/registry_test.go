package registry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/mcprouter/mcprouter/internal/types"
)

func TestResolveServerHitAndMiss(t *testing.T) {
	r := New(nil)
	desc := types.ServerDescriptor{Name: "fs", Transport: types.TransportChildProc, Command: "fs-server"}
	r.RegisterServer(desc)
	r.RegisterToolOwner("read_file", "fs")

	got, ok := r.ResolveServer("read_file")
	if !ok {
		t.Fatal("expected read_file to resolve to a server")
	}
	if got.Name != "fs" {
		t.Fatalf("expected owner fs, got %q", got.Name)
	}

	if _, ok := r.ResolveServer("unknown_tool"); ok {
		t.Fatal("expected unknown tool to miss")
	}
}

func TestRegisterToolOwnerCollisionWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := New(logger)

	r.RegisterServer(types.ServerDescriptor{Name: "fs"})
	r.RegisterServer(types.ServerDescriptor{Name: "web"})

	r.RegisterToolOwner("search", "fs")
	r.RegisterToolOwner("search", "web")

	if !strings.Contains(buf.String(), "collision") {
		t.Fatalf("expected a collision warning to be logged, got %q", buf.String())
	}

	got, ok := r.ResolveServer("search")
	if !ok || got.Name != "web" {
		t.Fatalf("expected last writer (web) to win, got %+v ok=%v", got, ok)
	}
}

func TestRegisterToolOwnerNoCollisionIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := New(logger)

	r.RegisterServer(types.ServerDescriptor{Name: "fs"})
	r.RegisterToolOwner("read_file", "fs")
	r.RegisterToolOwner("read_file", "fs")

	if strings.Contains(buf.String(), "collision") {
		t.Fatalf("did not expect a collision warning for a same-owner rebind, got %q", buf.String())
	}
}

func TestDeleteServerRemovesItsTools(t *testing.T) {
	r := New(nil)
	r.RegisterServer(types.ServerDescriptor{Name: "fs"})
	r.RegisterServer(types.ServerDescriptor{Name: "web"})
	r.RegisterToolOwner("read_file", "fs")
	r.RegisterToolOwner("fetch", "web")

	r.DeleteServer("fs")

	if _, ok := r.ResolveServer("read_file"); ok {
		t.Fatal("expected read_file to be gone after its owning server was deleted")
	}
	if _, ok := r.ResolveServer("fetch"); !ok {
		t.Fatal("expected fetch, owned by a different server, to survive")
	}
	if got := r.ToolCount(); got != 1 {
		t.Fatalf("expected 1 remaining tool binding, got %d", got)
	}
}

func TestToolCount(t *testing.T) {
	r := New(nil)
	r.RegisterServer(types.ServerDescriptor{Name: "fs"})
	if got := r.ToolCount(); got != 0 {
		t.Fatalf("expected 0 tool bindings for a fresh registry, got %d", got)
	}
	r.RegisterToolOwner("read_file", "fs")
	r.RegisterToolOwner("write_file", "fs")
	if got := r.ToolCount(); got != 2 {
		t.Fatalf("expected 2 tool bindings, got %d", got)
	}
}
