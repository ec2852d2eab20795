// Package supervisor implements the Lifecycle Supervisor: it owns exactly
// one outstanding indexing run at a time, restarting it on demand, and
// persists a status file describing completed runs.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcprouter/mcprouter/internal/types"
)

// RunFunc is the indexing entry point the supervisor drives — ordinarily
// indexer.Run with its Deps already bound by a closure.
type RunFunc func(ctx context.Context, cfg types.IndexerConfig, servers []types.ServerDescriptor) types.IndexResult

// Supervisor owns the single outstanding cancellation token for the
// indexing pipeline and the on-disk status file.
type Supervisor struct {
	mu         sync.Mutex
	cancel     context.CancelFunc
	running    bool
	statusPath string
	run        RunFunc
}

// New builds a Supervisor. statusPath is the file the status record is
// written to; an empty path disables status persistence.
func New(statusPath string, run RunFunc) *Supervisor {
	return &Supervisor{statusPath: statusPath, run: run}
}

// Status is the on-disk record describing the outcome of indexing runs.
type Status struct {
	Timestamp string                   `json:"timestamp"`
	Servers   []types.PerServerResult  `json:"servers"`
}

// Start launches a new indexing run in the background, cancelling any run
// already in flight first. Only one outstanding cancellation token exists
// at a time: Start signals the previous token (if any) before minting a
// new one. It does not wait for the cancelled run to return. The RunFunc
// in place when Start is called is the one the new run uses.
func (s *Supervisor) Start(ctx context.Context, cfg types.IndexerConfig, servers []types.ServerDescriptor, now func() string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	run := s.run
	s.mu.Unlock()

	go func() {
		result := run(runCtx, cfg, servers)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		if err := s.writeStatus(result, now); err != nil {
			// Best-effort: a status-file failure must not take down the
			// indexing pipeline itself.
			_ = err
		}
	}()
}

// Stop cancels any in-flight run. It is idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// Running reports whether an indexing run is currently in flight.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// writeStatus merges this run's per-server results into the existing
// status file (a partial single-server re-index must not erase the
// recorded status of servers it didn't touch) and writes the result back.
func (s *Supervisor) writeStatus(result types.IndexResult, now func() string) error {
	if s.statusPath == "" {
		return nil
	}

	merged := map[string]types.PerServerResult{}
	if existing, err := readStatus(s.statusPath); err == nil {
		for _, r := range existing.Servers {
			merged[r.Name] = r
		}
	}
	for _, r := range result.Servers {
		merged[r.Name] = r
	}

	servers := make([]types.PerServerResult, 0, len(merged))
	for _, r := range merged {
		servers = append(servers, r)
	}

	status := Status{Timestamp: now(), Servers: servers}
	b, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if dir := filepath.Dir(s.statusPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create status dir: %w", err)
		}
	}
	if err := os.WriteFile(s.statusPath, b, 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

func readStatus(path string) (Status, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	var status Status
	if err := json.Unmarshal(b, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}
