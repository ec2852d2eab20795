package config

// GenerateTemplate returns a commented starter configuration file in the
// shape Resolve accepts, for the `config generate-template` CLI
// subcommand.
func GenerateTemplate() string {
	return `# mcprouter configuration template
mcpServers:
  example:
    command: "npx"
    args: ["-y", "@example/mcp-server"]
    env:
      API_KEY: "${EXAMPLE_API_KEY}"
    disabled: false

embedding:
  provider: openai-compatible
  model: text-embedding-3-small
  baseUrl: "http://127.0.0.1:11434/v1"

vectorDb:
  path: "~/.mcprouter/vectors"

search:
  topK: 5
  minScore: 0.3

indexer:
  connectTimeout: 60000
  maxRetries: 3
  initialRetryDelay: 2000
  maxRetryDelay: 30000
  maxChunkChars: 500
  overlapChars: 100
  generateCliArtifacts: false
`
}
