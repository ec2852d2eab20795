// Package types holds the data model shared across the router's components:
// server descriptors, capability entries, and the layered configuration
// produced by the Configuration Resolver.
package types

// Transport identifies how the router talks to a capability server.
type Transport string

const (
	TransportChildProc      Transport = "childproc"
	TransportSSE            Transport = "sse"
	TransportStreamingHTTP  Transport = "streaming-http"
)

// ServerDescriptor is one entry of the resolved server list.
type ServerDescriptor struct {
	Name      string
	Transport Transport
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
	TimeoutMS int
	Disabled  bool
}

// EmbeddingConfig describes the HTTP embedding service to call.
type EmbeddingConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Headers  map[string]string
}

// VectorDBConfig locates the embedded vector store on disk.
type VectorDBConfig struct {
	Path string
}

// SearchConfig bounds runtime search behaviour.
type SearchConfig struct {
	TopK                   int
	MinScore               float64
	IncludeParametersDefault bool
}

// IndexerConfig bounds the indexing pipeline.
type IndexerConfig struct {
	ConnectTimeoutMS     int
	MaxRetries           int
	InitialRetryDelayMS  int
	MaxRetryDelayMS      int
	MaxChunkChars        int
	OverlapChars         int
	GenerateCLIArtifacts bool
}

// ResolvedConfig is the output of the Configuration Resolver's resolve().
type ResolvedConfig struct {
	Servers   []ServerDescriptor
	Embedding EmbeddingConfig
	VectorDB  VectorDBConfig
	Search    SearchConfig
	Indexer   IndexerConfig
}

// Chunk is a bounded, transient slice of a capability's description text.
type Chunk struct {
	Index int
	Total int
	Text  string
}

// CapabilityEntry is one stored row in the vector database.
type CapabilityEntry struct {
	ToolID         string
	ServerName     string
	ToolName       string
	Description    string
	ParametersJSON string
	Vector         []float32
}

// ScoredEntry pairs a capability entry with its similarity score.
type ScoredEntry struct {
	Entry CapabilityEntry
	Score float64
}

// ToolDescriptor is what the Transport Client's listTools returns for one
// capability exposed by a server.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// CallResult is the outcome of invoking a capability on its owning server.
type CallResult struct {
	Content []ContentItem
	IsError bool
}

// ContentItem is one piece of a call's or an error card's rendered output.
type ContentItem struct {
	Type string
	Text string
}

// PerServerResult is published to the status file after each indexing run.
type PerServerResult struct {
	Name    string `json:"name"`
	Indexed int    `json:"indexed"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// IndexResult is the aggregate outcome of one indexer run.
type IndexResult struct {
	Indexed int
	Failed  int
	Servers []PerServerResult
}
