package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcprouter/mcprouter/internal/types"
)

func fixedNow() string { return "2026-07-30T00:00:00Z" }

func TestStartCancelsPriorRun(t *testing.T) {
	var cancelled int32
	blocked := make(chan struct{})

	run := func(ctx context.Context, _ types.IndexerConfig, _ []types.ServerDescriptor) types.IndexResult {
		<-ctx.Done()
		atomic.AddInt32(&cancelled, 1)
		close(blocked)
		return types.IndexResult{}
	}

	s := New("", run)
	s.Start(context.Background(), types.IndexerConfig{}, nil, fixedNow)

	// Starting again must cancel the first run's context before the second
	// begins, while the second run still executes.
	second := make(chan struct{})
	run2 := func(ctx context.Context, _ types.IndexerConfig, _ []types.ServerDescriptor) types.IndexResult {
		close(second)
		return types.IndexResult{}
	}
	s.run = run2
	s.Start(context.Background(), types.IndexerConfig{}, nil, fixedNow)

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("expected prior run to be cancelled")
	}
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("expected second run to execute")
	}
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Fatalf("expected exactly one cancellation, got %d", cancelled)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New("", func(ctx context.Context, _ types.IndexerConfig, _ []types.ServerDescriptor) types.IndexResult {
		return types.IndexResult{}
	})
	s.Stop()
	s.Stop()
}

func TestWriteStatusMergesAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")

	s := New(path, nil)
	if err := s.writeStatus(types.IndexResult{Servers: []types.PerServerResult{
		{Name: "fs", Indexed: 3},
		{Name: "git", Indexed: 2},
	}}, fixedNow); err != nil {
		t.Fatalf("writeStatus: %v", err)
	}

	// A later partial run touching only "git" must not erase "fs" from
	// the persisted status.
	if err := s.writeStatus(types.IndexResult{Servers: []types.PerServerResult{
		{Name: "git", Indexed: 5},
	}}, fixedNow); err != nil {
		t.Fatalf("writeStatus: %v", err)
	}

	status, err := readStatus(path)
	if err != nil {
		t.Fatalf("readStatus: %v", err)
	}
	byName := map[string]types.PerServerResult{}
	for _, r := range status.Servers {
		byName[r.Name] = r
	}
	if byName["fs"].Indexed != 3 {
		t.Fatalf("expected fs entry preserved across partial run, got %+v", byName["fs"])
	}
	if byName["git"].Indexed != 5 {
		t.Fatalf("expected git entry updated, got %+v", byName["git"])
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected status file to exist: %v", err)
	}
}

func TestWriteStatusNoopWithoutPath(t *testing.T) {
	s := New("", nil)
	if err := s.writeStatus(types.IndexResult{}, fixedNow); err != nil {
		t.Fatalf("expected no error with empty status path, got %v", err)
	}
}
