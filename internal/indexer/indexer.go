// Package indexer orchestrates the parallel indexing pipeline: one
// concurrent task per configured server, each retrying its connect attempt
// with capped exponential backoff and cooperatively honouring cancellation,
// before chunking, embedding and upserting every tool it discovers.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mcprouter/mcprouter/internal/chunker"
	"github.com/mcprouter/mcprouter/internal/registry"
	"github.com/mcprouter/mcprouter/internal/telemetry"
	"github.com/mcprouter/mcprouter/internal/transport"
	"github.com/mcprouter/mcprouter/internal/types"
)

// Embedder is the subset of the Embedding Client the indexer needs; an
// interface so tests can substitute a fake without a network round-trip.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the subset of the Vector Store the indexer writes through.
type Store interface {
	UpsertTool(ctx context.Context, entry types.CapabilityEntry) error
	DeleteToolChunks(ctx context.Context, server, tool string) error
	AddToolEntries(ctx context.Context, entries []types.CapabilityEntry) error
}

// Transport is the subset of the Transport Client the indexer needs; an
// interface so retry/backoff behaviour can be exercised with a fake rather
// than a real process or network connection.
type Transport interface {
	Connect(ctx context.Context, opts transport.ConnectOptions) error
	ListTools(ctx context.Context) ([]types.ToolDescriptor, error)
	Disconnect()
}

// TransportFactory builds a fresh Transport bound to a server descriptor.
type TransportFactory func(types.ServerDescriptor) Transport

// Deps bundles every side-effecting collaborator the indexer needs,
// injected explicitly rather than reached through a global. Telemetry is
// optional — a nil Provider simply skips per-server span creation.
type Deps struct {
	Store     Store
	Embedding Embedder
	Registry  *registry.Registry
	NewClient TransportFactory
	Telemetry *telemetry.Provider
	Logger    *slog.Logger
}

// Run indexes every non-disabled server concurrently and returns the
// aggregate outcome. One server's failure never cancels its peers; only an
// already-cancelled or later-cancelled ctx aborts every in-flight task.
func Run(ctx context.Context, cfg types.IndexerConfig, servers []types.ServerDescriptor, deps Deps) types.IndexResult {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var mu sync.Mutex
	var perServer []types.PerServerResult

	// A plain errgroup.Group (no WithContext) is used deliberately: a
	// derived group context would cancel every peer task as soon as one
	// task returned an error, which is exactly the settle-all semantics
	// this indexer must not have. Each task always returns nil to the
	// group and reports its own outcome into perServer instead.
	var g errgroup.Group
	for _, server := range servers {
		if server.Disabled {
			continue
		}
		server := server
		g.Go(func() error {
			result := indexServer(ctx, cfg, server, deps, logger)
			mu.Lock()
			perServer = append(perServer, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	agg := types.IndexResult{Servers: perServer}
	for _, r := range perServer {
		agg.Indexed += r.Indexed
		agg.Failed += r.Failed
	}
	return agg
}

// indexServer runs the per-server task: retry/backoff connect, list tools,
// chunk+embed+upsert each, register ownership, and always disconnect.
func indexServer(outerCtx context.Context, cfg types.IndexerConfig, server types.ServerDescriptor, deps Deps, logger *slog.Logger) types.PerServerResult {
	if deps.Telemetry != nil {
		var span trace.Span
		outerCtx, span = deps.Telemetry.StartServerTask(outerCtx, server.Name)
		defer span.End()
	}
	if deps.NewClient == nil {
		deps.NewClient = func(desc types.ServerDescriptor) Transport { return transport.New(desc) }
	}

	timeout := time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	if server.TimeoutMS > 0 && server.TimeoutMS < cfg.ConnectTimeoutMS {
		timeout = time.Duration(server.TimeoutMS) * time.Millisecond
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     time.Duration(cfg.InitialRetryDelayMS) * time.Millisecond,
		MaxInterval:         time.Duration(cfg.MaxRetryDelayMS) * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
	}
	bo.Reset()

	var client Transport
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := checkCancelled(outerCtx); err != nil {
			return types.PerServerResult{Name: server.Name, Failed: 1, Error: "cancelled"}
		}

		if attempt > 0 {
			if err := cancellableSleep(outerCtx, bo.NextBackOff()); err != nil {
				return types.PerServerResult{Name: server.Name, Failed: 1, Error: "cancelled"}
			}
		}

		client = deps.NewClient(server)
		err := client.Connect(outerCtx, transport.ConnectOptions{Timeout: timeout})
		if err == nil {
			lastErr = nil
			break
		}

		client.Disconnect()
		lastErr = err

		if errors.Is(outerCtx.Err(), context.Canceled) {
			return types.PerServerResult{Name: server.Name, Failed: 1, Error: "cancelled"}
		}

		if attempt == cfg.MaxRetries {
			logger.Warn("failed to index server: connect exhausted retries",
				"server", server.Name, "error", categorize(err))
			return types.PerServerResult{Name: server.Name, Failed: 1, Error: categorize(err)}
		}

		logger.Info("server not ready — retrying", "server", server.Name, "attempt", attempt+1, "error", err.Error())
	}

	if lastErr != nil {
		return types.PerServerResult{Name: server.Name, Failed: 1, Error: categorize(lastErr)}
	}
	defer client.Disconnect()

	return indexTools(outerCtx, cfg, server, client, deps, logger)
}

func indexTools(ctx context.Context, cfg types.IndexerConfig, server types.ServerDescriptor, client Transport, deps Deps, logger *slog.Logger) types.PerServerResult {
	deps.Registry.RegisterServer(server)

	tools, err := client.ListTools(ctx)
	if err != nil {
		return types.PerServerResult{Name: server.Name, Failed: 1, Error: err.Error()}
	}

	indexed, failed := 0, 0
	for _, tool := range tools {
		if err := checkCancelled(ctx); err != nil {
			return types.PerServerResult{Name: server.Name, Indexed: indexed, Failed: failed + 1, Error: "cancelled"}
		}

		if err := indexOneTool(ctx, cfg, server.Name, tool, deps); err != nil {
			logger.Warn("failed to index tool", "server", server.Name, "tool", tool.Name, "error", err)
			failed++
			continue
		}
		deps.Registry.RegisterToolOwner(tool.Name, server.Name)
		indexed++
	}

	return types.PerServerResult{Name: server.Name, Indexed: indexed, Failed: failed}
}

func indexOneTool(ctx context.Context, cfg types.IndexerConfig, serverName string, tool types.ToolDescriptor, deps Deps) error {
	paramsJSON, err := schemaToJSON(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("serialise schema: %w", err)
	}

	chunks := chunker.Chunk(tool.Description, tool.Name, chunker.Options{
		MaxChunkChars: cfg.MaxChunkChars,
		OverlapChars:  cfg.OverlapChars,
	})

	if len(chunks) == 1 {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		vec, err := deps.Embedding.Embed(ctx, chunks[0].Text)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		entry := types.CapabilityEntry{
			ToolID:         serverName + "::" + tool.Name,
			ServerName:     serverName,
			ToolName:       tool.Name,
			Description:    tool.Description,
			ParametersJSON: paramsJSON,
			Vector:         vec,
		}
		return deps.Store.UpsertTool(ctx, entry)
	}

	if err := deps.Store.DeleteToolChunks(ctx, serverName, tool.Name); err != nil {
		return fmt.Errorf("delete previous chunks: %w", err)
	}

	batch := make([]types.CapabilityEntry, 0, len(chunks))
	for _, c := range chunks {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		vec, err := deps.Embedding.Embed(ctx, c.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", c.Index, err)
		}
		batch = append(batch, types.CapabilityEntry{
			ToolID:         fmt.Sprintf("%s::%s::chunk%d", serverName, tool.Name, c.Index),
			ServerName:     serverName,
			ToolName:       tool.Name,
			Description:    tool.Description,
			ParametersJSON: paramsJSON,
			Vector:         vec,
		})
	}
	return deps.Store.AddToolEntries(ctx, batch)
}

func schemaToJSON(schema map[string]interface{}) (string, error) {
	if schema == nil {
		schema = map[string]interface{}{}
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// cancellableSleep waits for d or for ctx to be cancelled, whichever comes
// first.
func cancellableSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return checkCancelled(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// categorize gives connectivity faults against the embedding service a
// distinct hint from a generic capability-server connect failure.
func categorize(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "embedding") {
		return "embedding service unavailable: " + msg
	}
	return msg
}
