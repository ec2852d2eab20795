// Package search implements the Search Operator: embed a query, run a
// nearest-neighbour lookup against the Vector Store, deduplicate chunks of
// the same capability, and render ranked tool cards.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mcprouter/mcprouter/internal/types"
)

// Embedder is the subset of the Embedding Client the search operator needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the subset of the Vector Store the search operator needs.
type Searcher interface {
	SearchTools(ctx context.Context, queryVector []float32, topK int, minScore float64) ([]types.ScoredEntry, error)
}

// Deps bundles the operator's collaborators.
type Deps struct {
	Embedding Embedder
	Store     Searcher
	Config    types.SearchConfig
}

// Request is the mcp_search tool's parameters.
type Request struct {
	Query          string
	Limit          int
	IncludeSchema  *bool
}

// Response is what mcp_search returns to the host.
type Response struct {
	Content       []types.ContentItem
	Count         int
	IncludeSchema bool
}

const maxFetchLimit = 60
const schemaTruncateAt = 2000

// Run executes one search() call.
func Run(ctx context.Context, deps Deps, req Request) Response {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return errorResponse("query is required")
	}

	vec, err := deps.Embedding.Embed(ctx, query)
	if err != nil {
		return errorResponse(fmt.Sprintf("could not compute a query embedding (%v) — try re-indexing if this persists", err))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = deps.Config.TopK
	}
	limit = clamp(limit, 1, 20)

	fetchLimit := limit * 3
	if fetchLimit > maxFetchLimit {
		fetchLimit = maxFetchLimit
	}

	results, err := deps.Store.SearchTools(ctx, vec, fetchLimit, deps.Config.MinScore)
	if err != nil {
		return errorResponse(fmt.Sprintf("search failed: %v", err))
	}

	deduped := dedupeByCapability(results)
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	includeSchema := deps.Config.IncludeParametersDefault
	if req.IncludeSchema != nil {
		includeSchema = *req.IncludeSchema
	}

	if len(deduped) == 0 {
		return Response{
			Content: []types.ContentItem{{Type: "text", Text: "No matching capabilities found — try rephrasing your query."}},
			Count:   0, IncludeSchema: includeSchema,
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching capabilit%s:\n\n", len(deduped), plural(len(deduped)))
	for i, scored := range deduped {
		renderCard(&b, i+1, scored, includeSchema)
	}

	return Response{
		Content:       []types.ContentItem{{Type: "text", Text: b.String()}},
		Count:         len(deduped),
		IncludeSchema: includeSchema,
	}
}

func errorResponse(msg string) Response {
	return Response{Content: []types.ContentItem{{Type: "text", Text: msg}}, Count: 0}
}

// dedupeByCapability collapses multiple chunk hits of the same
// (server_name, tool_name) into the highest-scored one.
func dedupeByCapability(results []types.ScoredEntry) []types.ScoredEntry {
	best := make(map[string]types.ScoredEntry, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		key := r.Entry.ServerName + "::" + r.Entry.ToolName
		if existing, ok := best[key]; !ok || r.Score > existing.Score {
			if _, seen := best[key]; !seen {
				order = append(order, key)
			}
			best[key] = r
		}
	}
	out := make([]types.ScoredEntry, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func renderCard(b *strings.Builder, index int, scored types.ScoredEntry, includeSchema bool) {
	entry := scored.Entry
	pct := int(scored.Score*100 + 0.5)
	fmt.Fprintf(b, "%d. %s (%s) — %d%% match\n", index, entry.ToolName, entry.ServerName, pct)
	fmt.Fprintf(b, "   %s\n", entry.Description)
	if sig := renderSignature(entry.ParametersJSON); sig != "" {
		fmt.Fprintf(b, "   Parameters:\n%s\n", indent(sig, "     "))
	}
	fmt.Fprintf(b, "   Invoke with mcp_call: {\"tool_name\": %q, \"params_json\": \"{...}\"}\n", entry.ToolName)
	if includeSchema {
		schema := entry.ParametersJSON
		if len(schema) > schemaTruncateAt {
			schema = schema[:schemaTruncateAt] + "... (truncated)"
		}
		fmt.Fprintf(b, "   Full schema: %s\n", schema)
	}
	b.WriteString("\n")
}

// renderSignature parses a JSON schema object into lines of "name: type"
// ("name?: type" when not in the schema's required list).
func renderSignature(parametersJSON string) string {
	if parametersJSON == "" {
		return ""
	}
	var schema struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal([]byte(parametersJSON), &schema); err != nil || len(schema.Properties) == 0 {
		return ""
	}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		marker := ""
		if !required[name] {
			marker = "?"
		}
		typ := schema.Properties[name].Type
		if typ == "" {
			typ = "any"
		}
		lines = append(lines, fmt.Sprintf("%s%s: %s", name, marker, typ))
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
