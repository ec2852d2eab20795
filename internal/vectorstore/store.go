// Package vectorstore implements the Vector Store component on top of
// chromem-go, a pure-Go embedded vector database: capability entries keyed
// by compound tool_id, nearest-neighbour search, and filter-based delete.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mcprouter/mcprouter/internal/types"
)

const collectionName = "capabilities"

const (
	metaServerName = "server_name"
	metaToolName   = "tool_name"
	metaToolID     = "tool_id"
	metaDesc       = "description"
	metaParams     = "parameters_json"
)

// Store wraps one chromem-go collection holding every indexed capability.
type Store struct {
	path   string
	logger *slog.Logger

	db *chromem.DB

	initMu   sync.Mutex
	initDone chan struct{}
	initErr  error
	coll     *chromem.Collection
	dims     int
}

// New opens (or prepares to lazily create) the embedded database at path.
// An empty path keeps the store in memory only.
func New(path string) (*Store, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store at %s: %w", path, err)
		}
	}
	return &Store{path: path, db: db, logger: slog.Default()}, nil
}

// WithLogger overrides the store's logger.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// noopEmbeddingFunc satisfies chromem-go's collection constructor. Every
// document this store writes carries a precomputed embedding and every
// search is issued through QueryEmbedding, so the collection's own
// embedding function is never invoked on the hot path; it only backstops
// the library's API contract.
func noopEmbeddingFunc(_ context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: no embedding function configured for on-demand text %q", text)
}

// ensureInitialized creates the collection on first use with the given
// embedding dimension, guarding concurrent first-callers behind a single
// in-flight initialisation future. If the collection already exists, its
// schema (and therefore dimension) is trusted without reconciliation.
func (s *Store) ensureInitialized(ctx context.Context, dims int) error {
	s.initMu.Lock()
	if s.initDone != nil {
		ch := s.initDone
		s.initMu.Unlock()
		<-ch
		return s.initErr
	}
	s.initDone = make(chan struct{})
	s.initMu.Unlock()

	err := s.doInit(ctx, dims)

	s.initMu.Lock()
	s.initErr = err
	close(s.initDone)
	s.initMu.Unlock()
	return err
}

func (s *Store) doInit(ctx context.Context, dims int) error {
	if existing := s.db.GetCollection(collectionName, noopEmbeddingFunc); existing != nil {
		s.coll = existing
		s.dims = dims
		return nil
	}

	coll, err := s.db.CreateCollection(collectionName, nil, noopEmbeddingFunc)
	if err != nil {
		return fmt.Errorf("create capability collection: %w", err)
	}

	sentinel := chromem.Document{
		ID:        "__sentinel__",
		Embedding: make([]float32, dims),
		Metadata:  map[string]string{metaToolID: "__sentinel__"},
	}
	if err := coll.AddDocument(ctx, sentinel); err != nil {
		return fmt.Errorf("write schema sentinel: %w", err)
	}
	if err := coll.Delete(ctx, nil, nil, "__sentinel__"); err != nil {
		return fmt.Errorf("remove schema sentinel: %w", err)
	}

	s.coll = coll
	s.dims = dims
	return nil
}

// escapeSingleQuotes guards string predicates built for diagnostics against
// an unescaped tool_id breaking a quoted filter clause.
func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func toDocument(e types.CapabilityEntry) chromem.Document {
	return chromem.Document{
		ID:        e.ToolID,
		Content:   e.Description,
		Embedding: e.Vector,
		Metadata: map[string]string{
			metaServerName: e.ServerName,
			metaToolName:   e.ToolName,
			metaToolID:     e.ToolID,
			metaDesc:       e.Description,
			metaParams:     e.ParametersJSON,
		},
	}
}

// distanceOf converts chromem-go's cosine similarity (higher is better)
// into the squared-L2 distance the scoring formula expects. chromem-go
// normalises every vector, and for unit vectors |a-b|² = 2·(1 − cos).
func distanceOf(r chromem.Result) float64 {
	return 2 * (1 - float64(r.Similarity))
}

func fromResult(r chromem.Result) types.CapabilityEntry {
	return types.CapabilityEntry{
		ToolID:         r.Metadata[metaToolID],
		ServerName:     r.Metadata[metaServerName],
		ToolName:       r.Metadata[metaToolName],
		Description:    r.Metadata[metaDesc],
		ParametersJSON: r.Metadata[metaParams],
		Vector:         r.Embedding,
	}
}

// UpsertTool deletes any existing row with the same tool_id, then adds the
// entry. Used for single-chunk capabilities.
func (s *Store) UpsertTool(ctx context.Context, entry types.CapabilityEntry) error {
	if err := s.ensureInitialized(ctx, len(entry.Vector)); err != nil {
		return err
	}

	predicate := fmt.Sprintf("tool_id = '%s'", escapeSingleQuotes(entry.ToolID))
	s.logger.Debug("upsert: evicting existing row", "predicate", predicate)

	if err := s.coll.Delete(ctx, nil, nil, entry.ToolID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete existing tool_id %s: %w", entry.ToolID, err)
	}
	if err := s.coll.AddDocument(ctx, toDocument(entry)); err != nil {
		return fmt.Errorf("add tool_id %s: %w", entry.ToolID, err)
	}
	return nil
}

// DeleteToolChunks deletes every row matching (server, tool) — used before
// re-writing a multi-chunk capability.
func (s *Store) DeleteToolChunks(ctx context.Context, server, tool string) error {
	if s.coll == nil {
		return nil
	}
	where := map[string]string{metaServerName: server, metaToolName: tool}
	if err := s.coll.Delete(ctx, where, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete chunks for %s::%s: %w", server, tool, err)
	}
	return nil
}

// AddToolEntries batch-appends entries without deleting first. A no-op on
// empty input.
func (s *Store) AddToolEntries(ctx context.Context, entries []types.CapabilityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensureInitialized(ctx, len(entries[0].Vector)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.coll.AddDocument(ctx, toDocument(e)); err != nil {
			return fmt.Errorf("add tool_id %s: %w", e.ToolID, err)
		}
	}
	return nil
}

// DeleteServer deletes every row for a server.
func (s *Store) DeleteServer(ctx context.Context, server string) error {
	if s.coll == nil {
		return nil
	}
	where := map[string]string{metaServerName: server}
	if err := s.coll.Delete(ctx, where, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete server %s: %w", server, err)
	}
	return nil
}

// CountTools returns the overall row count.
func (s *Store) CountTools() int {
	if s.coll == nil {
		return 0
	}
	return s.coll.Count()
}

// CountToolsByServer returns row counts grouped by server_name.
func (s *Store) CountToolsByServer(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	if s.coll == nil {
		return counts, nil
	}
	total := s.coll.Count()
	if total == 0 {
		return counts, nil
	}

	results, err := s.coll.QueryEmbedding(ctx, make([]float32, s.dims), total, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools for counting: %w", err)
	}
	for _, r := range results {
		if r.Metadata[metaToolID] == "__sentinel__" {
			continue
		}
		counts[r.Metadata[metaServerName]]++
	}
	return counts, nil
}

// SearchTools runs a nearest-neighbour query against the precomputed query
// vector and returns up to topK entries scoring at least minScore.
func (s *Store) SearchTools(ctx context.Context, queryVector []float32, topK int, minScore float64) ([]types.ScoredEntry, error) {
	if s.coll == nil {
		return nil, nil
	}
	count := s.coll.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.coll.QueryEmbedding(ctx, queryVector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search tools: %w", err)
	}

	out := make([]types.ScoredEntry, 0, len(results))
	for _, r := range results {
		if r.Metadata[metaToolID] == "__sentinel__" {
			continue
		}
		score := 1.0 / (1.0 + distanceOf(r))
		if score < minScore {
			continue
		}
		out = append(out, types.ScoredEntry{Entry: fromResult(r), Score: score})
	}
	return out, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
