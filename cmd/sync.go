package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcprouter/mcprouter/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-off indexing pass",
	Long: `Connects to every configured capability server (or a single named
one), lists its tools, and re-indexes them into the vector store. Runs
outside of the MCP server process — useful for warming the index before
the first mcp_search call, or for a cron-driven refresh.

Example:
  mcprouter sync
  mcprouter sync --server fs`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().String("server", "", "only re-index this server (default: every configured server)")
}

func runSync(cmd *cobra.Command, args []string) error {
	serverName, _ := cmd.Flags().GetString("server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted, cancelling in-flight indexing...")
		cancel()
	}()

	a, err := bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	servers := a.cfg.Servers
	if serverName != "" {
		servers = filterServers(servers, serverName)
		if len(servers) == 0 {
			return fmt.Errorf("no configured server named %q", serverName)
		}
	}

	fmt.Fprintf(os.Stderr, "Indexing %d server(s)...\n", len(servers))
	start := time.Now()
	result := a.runIndex(ctx, a.cfg.Indexer, servers)
	duration := time.Since(start)

	fmt.Println()
	fmt.Println("=== Sync Complete ===")
	fmt.Printf("Tools indexed:  %d\n", result.Indexed)
	fmt.Printf("Tools failed:   %d\n", result.Failed)
	fmt.Printf("Duration:       %v\n", duration.Round(time.Millisecond))
	for _, s := range result.Servers {
		status := "ok"
		if s.Error != "" {
			status = s.Error
		}
		fmt.Printf("  %-20s indexed=%d failed=%d status=%s\n", s.Name, s.Indexed, s.Failed, status)
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d tool(s) failed to index", result.Failed)
	}
	return nil
}

func filterServers(servers []types.ServerDescriptor, name string) []types.ServerDescriptor {
	out := make([]types.ServerDescriptor, 0, 1)
	for _, s := range servers {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}
