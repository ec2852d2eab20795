package indexer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mcprouter/mcprouter/internal/registry"
	"github.com/mcprouter/mcprouter/internal/transport"
	"github.com/mcprouter/mcprouter/internal/types"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.1, 0.1}, nil
}

type fakeStore struct {
	upserts int32
	deletes int32
	adds    int32
}

func (s *fakeStore) UpsertTool(_ context.Context, _ types.CapabilityEntry) error {
	atomic.AddInt32(&s.upserts, 1)
	return nil
}
func (s *fakeStore) DeleteToolChunks(_ context.Context, _, _ string) error {
	atomic.AddInt32(&s.deletes, 1)
	return nil
}
func (s *fakeStore) AddToolEntries(_ context.Context, entries []types.CapabilityEntry) error {
	atomic.AddInt32(&s.adds, int32(len(entries)))
	return nil
}

// fakeTransport fails Connect failTimes times before succeeding, so tests
// can drive the indexer's retry/backoff loop without a real process or
// network connection.
type fakeTransport struct {
	connectAttempts *int32
	failTimes       int
	connectErr      error
	disconnects     *int32
}

func (f *fakeTransport) Connect(_ context.Context, _ transport.ConnectOptions) error {
	n := atomic.AddInt32(f.connectAttempts, 1)
	if int(n) <= f.failTimes {
		return f.connectErr
	}
	return nil
}

func (f *fakeTransport) ListTools(_ context.Context) ([]types.ToolDescriptor, error) {
	return nil, nil
}

func (f *fakeTransport) Disconnect() {
	if f.disconnects != nil {
		atomic.AddInt32(f.disconnects, 1)
	}
}

func TestCancellableSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cancellableSleep(ctx, 0); err == nil {
		t.Fatal("expected cancelled context to fail the cancellable sleep check")
	}
}

func TestIndexServerPreAbortedContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeStore{}
	deps := Deps{Store: store, Embedding: fakeEmbedder{}, Registry: registry.New(nil)}
	cfg := types.IndexerConfig{ConnectTimeoutMS: 1000, MaxRetries: 3, InitialRetryDelayMS: 10, MaxRetryDelayMS: 100}

	result := indexServer(ctx, cfg, types.ServerDescriptor{Name: "fs", Transport: types.TransportChildProc, Command: "doesnotexist"}, deps, nil)
	if result.Failed == 0 {
		t.Fatalf("expected failure result for pre-aborted context, got %+v", result)
	}
	if store.upserts != 0 {
		t.Fatalf("expected no upserts against a pre-aborted context, got %d", store.upserts)
	}
}

func TestIndexServerRetriesToSuccess(t *testing.T) {
	var attempts int32
	ft := &fakeTransport{connectAttempts: &attempts, failTimes: 2, connectErr: fmt.Errorf("not ready")}
	deps := Deps{
		Store:     &fakeStore{},
		Embedding: fakeEmbedder{},
		Registry:  registry.New(nil),
		NewClient: func(types.ServerDescriptor) Transport { return ft },
	}
	cfg := types.IndexerConfig{ConnectTimeoutMS: 1000, MaxRetries: 2, InitialRetryDelayMS: 1, MaxRetryDelayMS: 1}

	result := indexServer(context.Background(), cfg, types.ServerDescriptor{Name: "fs"}, deps, nil)
	if result.Error != "" || result.Failed != 0 {
		t.Fatalf("expected eventual success after retrying, got %+v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 connect invocations (2 failures + 1 success), got %d", attempts)
	}
}

func TestIndexServerExhaustedRetriesWarns(t *testing.T) {
	var attempts int32
	ft := &fakeTransport{connectAttempts: &attempts, failTimes: 1000, connectErr: fmt.Errorf("connection refused")}
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	deps := Deps{
		Store:     &fakeStore{},
		Embedding: fakeEmbedder{},
		Registry:  registry.New(nil),
		NewClient: func(types.ServerDescriptor) Transport { return ft },
	}
	cfg := types.IndexerConfig{ConnectTimeoutMS: 1000, MaxRetries: 2, InitialRetryDelayMS: 1, MaxRetryDelayMS: 1}

	result := indexServer(context.Background(), cfg, types.ServerDescriptor{Name: "fs"}, deps, logger)
	if result.Failed != 1 {
		t.Fatalf("expected a failed result once retries are exhausted, got %+v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 connect invocations (MaxRetries=2 plus the first attempt), got %d", attempts)
	}
	if !strings.Contains(logBuf.String(), "exhausted retries") {
		t.Fatalf("expected a warn log mentioning exhausted retries, got %q", logBuf.String())
	}
}

func TestCategorizeEmbeddingHint(t *testing.T) {
	err := fmt.Errorf("embedding service not reachable")
	if got := categorize(err); got[:9] != "embedding" {
		t.Fatalf("expected embedding-specific hint, got %q", got)
	}
}
