// Package embedding implements the Embedding Client: an HTTP-backed
// provider of fixed-length vectors for arbitrary text, with known-model
// dimension shortcuts and first-response dimension caching.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Errors surfaced to callers. ErrNotReachable wraps network-level failures
// and ErrProtocol a 2xx response without a usable embedding. The indexer
// does not tell them apart: any embedding error counts the tool as failed
// and is not retried.
var (
	ErrNotReachable  = errors.New("embedding service not reachable")
	ErrProtocol      = errors.New("embedding service returned a malformed response")
	ErrNonLoopback   = errors.New("legacy embedding client requires a loopback host")
)

// knownModelDimensions avoids a probe round-trip for models the router
// already knows the output width of.
var knownModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"all-minilm":             384,
}

// Config configures one Embedding Client instance.
type Config struct {
	Model   string
	BaseURL string
	APIKey  string
	Headers map[string]string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu   sync.Mutex
	dims int
}

// New builds a Client, stripping any trailing slash from BaseURL and
// pre-resolving the dimension when the model is known.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if d, ok := knownModelDimensions[cfg.Model]; ok {
		c.dims = d
	}
	return c
}

// NewLegacy builds a Client restricted to loopback hosts, mirroring the
// deprecated native embedding client the SSRF guard protects against.
func NewLegacy(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonLoopback, err)
	}
	host := u.Hostname()
	loopback := host == "localhost"
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		loopback = true
	}
	if !loopback {
		return nil, fmt.Errorf("%w: %s", ErrNonLoopback, host)
	}
	return New(cfg), nil
}

// Dims returns the cached vector length, or 0 if not yet resolved.
func (c *Client) Dims() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dims
}

// ProbeDims forces dimension resolution by embedding a short probe string
// if the dimension is not already known.
func (c *Client) ProbeDims(ctx context.Context) (int, error) {
	if d := c.Dims(); d != 0 {
		return d, nil
	}
	if _, err := c.Embed(ctx, "probe"); err != nil {
		return 0, err
	}
	return c.Dims(), nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed obtains a fixed-length vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReachable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := respBody
		if len(truncated) > 500 {
			truncated = truncated[:500]
		}
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, truncated)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: missing data[0].embedding", ErrProtocol)
	}

	vec := parsed.Data[0].Embedding
	c.mu.Lock()
	if c.dims == 0 {
		c.dims = len(vec)
	}
	c.mu.Unlock()

	return vec, nil
}

// EmbedBatch embeds each text in order, stopping at the first failure.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
