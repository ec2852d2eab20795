package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mcprouter/mcprouter/internal/config"
	"github.com/mcprouter/mcprouter/internal/embedding"
	"github.com/mcprouter/mcprouter/internal/indexer"
	"github.com/mcprouter/mcprouter/internal/metrics"
	"github.com/mcprouter/mcprouter/internal/registry"
	"github.com/mcprouter/mcprouter/internal/supervisor"
	"github.com/mcprouter/mcprouter/internal/telemetry"
	"github.com/mcprouter/mcprouter/internal/transport"
	"github.com/mcprouter/mcprouter/internal/types"
	"github.com/mcprouter/mcprouter/internal/vectorstore"
)

// app bundles every long-lived collaborator a command needs: the resolved
// configuration, the registry the Search/Call operators read through, the
// embedding client, the vector store, metrics, tracing, and a supervisor
// ready to drive indexing runs.
type app struct {
	cfg        *types.ResolvedConfig
	logger     *slog.Logger
	registry   *registry.Registry
	embedding  *embedding.Cached
	store      *vectorstore.Store
	metrics    *metrics.Metrics
	telemetry  *telemetry.Provider
	supervisor *supervisor.Supervisor
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// bootstrap resolves configuration and wires every collaborator, but does
// not start indexing — callers decide when to kick off the first run.
func bootstrap(ctx context.Context) (*app, error) {
	logger := newLogger()

	cfg, err := config.Resolve(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("resolve configuration: %w", err)
	}

	store, err := vectorstore.New(cfg.VectorDB.Path)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	store = store.WithLogger(logger)

	embedClient := embedding.New(embedding.Config{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Headers: cfg.Embedding.Headers,
	})
	cachedEmbed := embedding.NewCached(embedClient, 0)

	reg := registry.New(logger)

	tp, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	m := metrics.New()

	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		embedding: cachedEmbed,
		store:     store,
		metrics:   m,
		telemetry: tp,
	}

	statusPath := statusFilePath(cfg.VectorDB.Path)
	a.supervisor = supervisor.New(statusPath, a.runIndex)

	return a, nil
}

// statusFilePath places the supervisor's status record alongside the
// vector store; an in-memory store (empty path) disables persistence.
func statusFilePath(vectorDBPath string) string {
	if vectorDBPath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(vectorDBPath), "mcprouter-status.json")
}

// runIndex is the supervisor's entry point: one indexing pass across the
// given servers, instrumented with metrics and a trace span.
func (a *app) runIndex(ctx context.Context, cfg types.IndexerConfig, servers []types.ServerDescriptor) types.IndexResult {
	ctx, span := a.telemetry.StartIndexRun(ctx, len(servers))
	defer span.End()

	start := time.Now()
	result := indexer.Run(ctx, cfg, servers, indexer.Deps{
		Store:     a.store,
		Embedding: a.embedding,
		Registry:  a.registry,
		NewClient: func(desc types.ServerDescriptor) indexer.Transport { return transport.New(desc) },
		Telemetry: a.telemetry,
		Logger:    a.logger,
	})
	duration := time.Since(start)

	perServerFailed := map[string]int{}
	for _, r := range result.Servers {
		perServerFailed[r.Name] = r.Failed
	}
	a.metrics.RecordIndexRun(duration, result.Indexed, result.Failed, perServerFailed)
	a.metrics.SetActiveServers(a.registry.ToolCount())
	telemetry.RecordIndexResult(span, result.Indexed, result.Failed, duration)

	return result
}

func statusTimestamp() string {
	return time.Now().Format(time.RFC3339)
}
