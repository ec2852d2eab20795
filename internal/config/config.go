// Package config implements the Configuration Resolver: it merges layered,
// host-provided configuration (inline server map, optional external file,
// legacy positional array) into a single validated, typed configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mcprouter/mcprouter/internal/types"
)

// Defaults mirror the values the spec's resolve() operation applies when a
// field is absent.
const (
	defaultConnectTimeoutMS    = 60000
	defaultMaxRetries          = 3
	defaultInitialRetryDelayMS = 2000
	defaultMaxRetryDelayMS     = 30000
	defaultMaxChunkChars       = 500
	defaultOverlapChars        = 100
	defaultSearchTopK          = 5
	defaultSearchMinScore      = 0.3
	defaultEmbeddingModel      = "text-embedding-3-small"
	defaultEmbeddingBaseURL    = "http://127.0.0.1:11434/v1"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// rawServerEntry is the inline-map / file-based shape for one server.
type rawServerEntry struct {
	Command   string            `mapstructure:"command" yaml:"command"`
	Args      []string          `mapstructure:"args" yaml:"args"`
	Env       map[string]string `mapstructure:"env" yaml:"env"`
	URL       string            `mapstructure:"url" yaml:"url"`
	ServerURL string            `mapstructure:"serverUrl" yaml:"serverUrl"`
	Headers   map[string]string `mapstructure:"headers" yaml:"headers"`
	Type      string            `mapstructure:"type" yaml:"type"`
	TimeoutMS int               `mapstructure:"timeout" yaml:"timeout"`
	Disabled  bool              `mapstructure:"disabled" yaml:"disabled"`
}

// rawLegacyServerEntry additionally names itself and its transport, since
// the legacy positional array carries no map key to infer a name from.
type rawLegacyServerEntry struct {
	rawServerEntry `mapstructure:",squash"`
	Name           string `mapstructure:"name"`
	LegacyTransport string `mapstructure:"transport"`
}

type rawEmbedding struct {
	Provider string            `mapstructure:"provider"`
	Model    string            `mapstructure:"model"`
	BaseURL  string            `mapstructure:"baseUrl"`
	URL      string            `mapstructure:"url"`
	APIKey   string            `mapstructure:"apiKey"`
	Headers  map[string]string `mapstructure:"headers"`
}

type rawVectorDB struct {
	Path string `mapstructure:"path"`
}

type rawSearch struct {
	TopK                     int     `mapstructure:"topK"`
	MinScore                 float64 `mapstructure:"minScore"`
	IncludeParametersDefault bool    `mapstructure:"includeParametersDefault"`
}

// Every duration/size field is a pointer so that an explicit zero in the
// config file (e.g. maxChunkChars: 0 to disable chunking) is distinguishable
// from "unset"; a plain int cannot tell the two apart and would silently
// replace the explicit zero with its default.
type rawIndexer struct {
	ConnectTimeoutMS     *int `mapstructure:"connectTimeout"`
	MaxRetries           *int `mapstructure:"maxRetries"`
	InitialRetryDelayMS  *int `mapstructure:"initialRetryDelay"`
	MaxRetryDelayMS      *int `mapstructure:"maxRetryDelay"`
	MaxChunkChars        *int `mapstructure:"maxChunkChars"`
	OverlapChars         *int `mapstructure:"overlapChars"`
	GenerateCLIArtifacts bool `mapstructure:"generateCliArtifacts"`
}

type rawConfig struct {
	McpServers     map[string]rawServerEntry `mapstructure:"mcpServers"`
	McpServersFile string                    `mapstructure:"mcpServersFile"`
	Servers        []rawLegacyServerEntry    `mapstructure:"servers"`
	Embedding      *rawEmbedding             `mapstructure:"embedding"`
	VectorDB       rawVectorDB               `mapstructure:"vectorDb"`
	Search         rawSearch                 `mapstructure:"search"`
	Indexer        rawIndexer                `mapstructure:"indexer"`
}

// mcpServersFileShape accepts either a bare {name:entry} map or a
// {mcpServers:{...}} wrapper, matching the host's two accepted file shapes.
type mcpServersFileShape struct {
	McpServers map[string]rawServerEntry `yaml:"mcpServers"`
}

// Resolve reads the layered configuration from v and returns the validated,
// typed configuration. Missing input is empty, not an error; malformed
// input fails the entire resolution with no partial config emitted.
func Resolve(v *viper.Viper) (*types.ResolvedConfig, error) {
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	servers, err := resolveServers(raw)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	embedding, err := resolveEmbedding(raw.Embedding)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	return &types.ResolvedConfig{
		Servers:   servers,
		Embedding: embedding,
		VectorDB:  types.VectorDBConfig{Path: expandHome(raw.VectorDB.Path)},
		Search:    resolveSearch(raw.Search),
		Indexer:   resolveIndexer(raw.Indexer),
	}, nil
}

// resolveServers applies the precedence: file-based base ∪ inline map
// (inline wins on collision) ∪, only if both are empty, the legacy
// positional array.
func resolveServers(raw rawConfig) ([]types.ServerDescriptor, error) {
	fileBased, err := loadServersFile(raw.McpServersFile)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]rawServerEntry, len(fileBased)+len(raw.McpServers))
	for name, entry := range fileBased {
		merged[name] = entry
	}
	for name, entry := range raw.McpServers {
		merged[name] = entry // inline wins on name collision
	}

	if len(merged) == 0 && len(raw.Servers) > 0 {
		out := make([]types.ServerDescriptor, 0, len(raw.Servers))
		for _, legacy := range raw.Servers {
			if legacy.Disabled {
				continue
			}
			desc, err := toDescriptor(legacy.Name, legacy.rawServerEntry, legacy.LegacyTransport)
			if err != nil {
				return nil, err
			}
			out = append(out, desc)
		}
		return out, nil
	}

	out := make([]types.ServerDescriptor, 0, len(merged))
	for name, entry := range merged {
		if entry.Disabled {
			continue
		}
		desc, err := toDescriptor(name, entry, entry.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

func loadServersFile(path string) (map[string]rawServerEntry, error) {
	if path == "" {
		return nil, nil
	}
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcpServersFile %s: %w", path, err)
	}

	var wrapped mcpServersFileShape
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.McpServers) > 0 {
		return wrapped.McpServers, nil
	}

	var bare map[string]rawServerEntry
	if err := yaml.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("parse mcpServersFile %s: %w", path, err)
	}
	return bare, nil
}

// toDescriptor infers the transport (explicit type overrides; command
// implies childproc; url/serverUrl implies streaming-http) and expands
// ${NAME} tokens in env and headers.
func toDescriptor(name string, entry rawServerEntry, explicitType string) (types.ServerDescriptor, error) {
	url := entry.URL
	if url == "" {
		url = entry.ServerURL
	}

	transport := types.Transport(explicitType)
	switch {
	case explicitType == string(types.TransportChildProc),
		explicitType == string(types.TransportSSE),
		explicitType == string(types.TransportStreamingHTTP):
		// explicit type wins outright, already assigned above
	case entry.Command != "":
		transport = types.TransportChildProc
	case url != "":
		transport = types.TransportStreamingHTTP
	default:
		return types.ServerDescriptor{}, fmt.Errorf("server %q: must specify command, url/serverUrl, or an explicit type", name)
	}

	return types.ServerDescriptor{
		Name:      name,
		Transport: transport,
		Command:   entry.Command,
		Args:      entry.Args,
		Env:       expandMap(entry.Env),
		URL:       url,
		Headers:   expandMap(entry.Headers),
		TimeoutMS: entry.TimeoutMS,
		Disabled:  entry.Disabled,
	}, nil
}

func resolveEmbedding(raw *rawEmbedding) (types.EmbeddingConfig, error) {
	if raw == nil {
		return types.EmbeddingConfig{
			Provider: "openai-compatible",
			Model:    defaultEmbeddingModel,
			BaseURL:  defaultEmbeddingBaseURL,
		}, nil
	}

	baseURL := raw.BaseURL
	if baseURL == "" {
		baseURL = migrateLegacyURL(raw.URL)
	}
	if baseURL == "" {
		baseURL = defaultEmbeddingBaseURL
	}
	model := raw.Model
	if model == "" {
		model = defaultEmbeddingModel
	}

	return types.EmbeddingConfig{
		Provider: raw.Provider,
		Model:    model,
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		APIKey:   expandEnv(raw.APIKey),
		Headers:  expandMap(raw.Headers),
	}, nil
}

// migrateLegacyURL appends /v1 to a bare base URL that does not already
// carry an API-version path segment.
func migrateLegacyURL(u string) string {
	if u == "" {
		return ""
	}
	if strings.HasSuffix(strings.TrimSuffix(u, "/"), "/v1") {
		return u
	}
	return strings.TrimSuffix(u, "/") + "/v1"
}

func resolveSearch(raw rawSearch) types.SearchConfig {
	topK := raw.TopK
	if topK == 0 {
		topK = defaultSearchTopK
	}
	topK = clampInt(topK, 1, 20)

	minScore := raw.MinScore
	if minScore == 0 {
		minScore = defaultSearchMinScore
	}
	minScore = clampFloat(minScore, 0, 1)

	return types.SearchConfig{
		TopK:                     topK,
		MinScore:                 minScore,
		IncludeParametersDefault: raw.IncludeParametersDefault,
	}
}

func resolveIndexer(raw rawIndexer) types.IndexerConfig {
	return types.IndexerConfig{
		ConnectTimeoutMS:     ptrOrDefault(raw.ConnectTimeoutMS, defaultConnectTimeoutMS),
		MaxRetries:           ptrOrDefault(raw.MaxRetries, defaultMaxRetries),
		InitialRetryDelayMS:  ptrOrDefault(raw.InitialRetryDelayMS, defaultInitialRetryDelayMS),
		MaxRetryDelayMS:      ptrOrDefault(raw.MaxRetryDelayMS, defaultMaxRetryDelayMS),
		MaxChunkChars:        ptrOrDefault(raw.MaxChunkChars, defaultMaxChunkChars),
		OverlapChars:         ptrOrDefault(raw.OverlapChars, defaultOverlapChars),
		GenerateCLIArtifacts: raw.GenerateCLIArtifacts,
	}
}

// ptrOrDefault returns def only when value is nil (unset) — an explicit
// zero is honoured rather than treated as absent.
func ptrOrDefault(value *int, def int) int {
	if value == nil {
		return def
	}
	return clampInt(*value, 0, 1<<30)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func expandMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = expandEnv(v)
	}
	return out
}

// expandEnv replaces every ${NAME} token with the process environment
// lookup, an empty string when unset. A ${NAME:-default} token yields
// default when NAME is unset.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if len(groups) > 2 && groups[2] != "" {
			return groups[2]
		}
		return ""
	})
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}
