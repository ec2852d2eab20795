package vectorstore

import (
	"context"
	"testing"

	"github.com/mcprouter/mcprouter/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry := types.CapabilityEntry{
		ToolID:         "fs::read_file",
		ServerName:     "fs",
		ToolName:       "read_file",
		Description:    "Read a file from disk",
		ParametersJSON: `{"type":"object"}`,
		Vector:         []float32{0.1, 0.1, 0.1},
	}
	if err := s.UpsertTool(ctx, entry); err != nil {
		t.Fatalf("UpsertTool: %v", err)
	}

	if got := s.CountTools(); got != 1 {
		t.Fatalf("expected 1 tool, got %d", got)
	}

	results, err := s.SearchTools(ctx, []float32{0.1, 0.1, 0.1}, 5, 0)
	if err != nil {
		t.Fatalf("SearchTools: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Entry.ToolID != "fs::read_file" {
		t.Fatalf("unexpected tool id %s", results[0].Entry.ToolID)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry := types.CapabilityEntry{ToolID: "fs::read_file", ServerName: "fs", ToolName: "read_file", Vector: []float32{1, 0, 0}}
	if err := s.UpsertTool(ctx, entry); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	entry.Description = "updated"
	if err := s.UpsertTool(ctx, entry); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if got := s.CountTools(); got != 1 {
		t.Fatalf("expected exactly 1 row after re-upsert, got %d", got)
	}
}

func TestDeleteToolChunksRemovesMultiChunkSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entries := []types.CapabilityEntry{
		{ToolID: "fs::big_tool::chunk0", ServerName: "fs", ToolName: "big_tool", Vector: []float32{0, 0, 1}},
		{ToolID: "fs::big_tool::chunk1", ServerName: "fs", ToolName: "big_tool", Vector: []float32{0, 1, 0}},
	}
	if err := s.AddToolEntries(ctx, entries); err != nil {
		t.Fatalf("AddToolEntries: %v", err)
	}
	if got := s.CountTools(); got != 2 {
		t.Fatalf("expected 2 rows, got %d", got)
	}

	if err := s.DeleteToolChunks(ctx, "fs", "big_tool"); err != nil {
		t.Fatalf("DeleteToolChunks: %v", err)
	}
	if got := s.CountTools(); got != 0 {
		t.Fatalf("expected 0 rows after delete, got %d", got)
	}
}

func TestAddToolEntriesNoopOnEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddToolEntries(context.Background(), nil); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestEscapeSingleQuotes(t *testing.T) {
	got := escapeSingleQuotes("fs::o'brien")
	want := "fs::o''brien"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
