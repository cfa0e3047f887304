package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
)

// Ollama API defaults.
const (
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the recommended embedding model for memory prose
	// and code-adjacent trigger phrases; 0.6B keeps memory footprint modest
	// on a workstation running cogmemd alongside an editor.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the primary model is not
// pulled locally.
var FallbackOllamaModels = []string{
	"embeddinggemma",
	"mxbai-embed-large",
}

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the embedding model to request.
	Model string

	// FallbackModels are tried in order if Model is not installed.
	FallbackModels []string

	// Dim overrides auto-detection (0 = auto-detect from a probe call).
	Dim int

	BatchSize      int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	PoolSize       int

	// SkipHealthCheck skips the startup health probe (for tests).
	SkipHealthCheck bool

	// CircuitMaxFailures/CircuitResetTimeout configure the breaker that
	// guards repeated UNAVAILABLE results from piling up caller-side
	// timeouts during a provider outage.
	CircuitMaxFailures  int
	CircuitResetTimeout time.Duration
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:                DefaultOllamaHost,
		Model:               DefaultOllamaModel,
		FallbackModels:      FallbackOllamaModels,
		BatchSize:           DefaultBatchSize,
		Timeout:             DefaultTimeout,
		ConnectTimeout:      DefaultConnectTimeout,
		MaxRetries:          DefaultMaxRetries,
		PoolSize:            OllamaPoolSize,
		CircuitMaxFailures:  5,
		CircuitResetTimeout: 30 * time.Second,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

// OllamaProvider embeds text via a local Ollama daemon's /api/embed
// endpoint, auto-discovering the configured model's dimension on
// construction.
type OllamaProvider struct {
	cfg     OllamaConfig
	client  *http.Client
	breaker *cogerrors.CircuitBreaker

	mu      sync.RWMutex
	ready   bool
	model   string
	dim     int
	closed  bool
}

// NewOllamaProvider connects to Ollama, resolves the first available model
// among cfg.Model and cfg.FallbackModels, and probes its embedding
// dimension unless cfg.Dim is set explicitly.
func NewOllamaProvider(ctx context.Context, cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		IdleConnTimeout:     90 * time.Second,
	}

	p := &OllamaProvider{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		breaker: cogerrors.NewCircuitBreaker("ollama-embedding",
			cogerrors.WithMaxFailures(cfg.CircuitMaxFailures),
			cogerrors.WithResetTimeout(cfg.CircuitResetTimeout)),
	}

	if cfg.SkipHealthCheck {
		p.mu.Lock()
		p.model = cfg.Model
		p.dim = cfg.Dim
		if p.dim == 0 {
			p.dim = 1024
		}
		p.ready = true
		p.mu.Unlock()
		return p, nil
	}

	model, err := p.findAvailableModel(ctx)
	if err != nil {
		return nil, cogerrors.Unavailable("ollama is not reachable", err)
	}

	dim := cfg.Dim
	if dim == 0 {
		vec, err := p.doEmbed(ctx, model, "dimension probe")
		if err != nil {
			return nil, cogerrors.Unavailable("failed to detect embedding dimension", err)
		}
		dim = len(vec)
	}

	p.mu.Lock()
	p.model = model
	p.dim = dim
	p.ready = true
	p.mu.Unlock()

	return p, nil
}

func (p *OllamaProvider) findAvailableModel(ctx context.Context) (string, error) {
	installed, err := p.listModels(ctx)
	if err != nil {
		return "", err
	}

	candidates := append([]string{p.cfg.Model}, p.cfg.FallbackModels...)
	for _, want := range candidates {
		for _, have := range installed {
			if have == want {
				return want, nil
			}
		}
	}
	return "", fmt.Errorf("none of the candidate models %v are installed in ollama", candidates)
}

func (p *OllamaProvider) listModels(ctx context.Context) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama /api/tags returned %d", resp.StatusCode)
	}

	var list ollamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// EmbedDocument embeds memory content for storage.
func (p *OllamaProvider) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return p.embedWithRetry(ctx, text)
}

// EmbedQuery embeds a retrieval query. Ollama's embedding models do not
// require a distinct instruction prefix for this family, but the method is
// kept separate from EmbedDocument so a future model swap can diverge
// without changing callers.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embedWithRetry(ctx, text)
}

func (p *OllamaProvider) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	if !p.breaker.Allow() {
		return nil, cogerrors.Unavailable("ollama embedding circuit is open", cogerrors.ErrCircuitOpen)
	}

	p.mu.RLock()
	model := p.model
	dim := p.dim
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		return nil, cogerrors.Unavailable("embedding provider is closed", nil)
	}

	trimmed := text
	if len(trimmed) == 0 {
		return make([]float32, dim), nil
	}

	cfg := cogerrors.RetryConfig{
		MaxRetries:   p.cfg.MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	vec, err := cogerrors.RetryWithResult(ctx, cfg, func() ([]float32, error) {
		v, err := p.doEmbed(ctx, model, text)
		if err != nil {
			p.breaker.RecordFailure()
			return nil, err
		}
		p.breaker.RecordSuccess()
		return v, nil
	})
	if err != nil {
		return nil, cogerrors.EmbeddingFailed("ollama embedding request failed", err)
	}
	return vec, nil
}

// doEmbed performs one HTTP round trip against /api/embed, racing the
// request against ctx cancellation so a slow daemon cannot wedge the
// caller past its own deadline.
func (p *OllamaProvider) doEmbed(ctx context.Context, model, text string) ([]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	done := make(chan result, 1)

	go func() {
		vec, err := p.postEmbed(reqCtx, model, text)
		done <- result{vec, err}
	}()

	select {
	case <-reqCtx.Done():
		return nil, reqCtx.Err()
	case r := <-done:
		return r.vec, r.err
	}
}

func (p *OllamaProvider) postEmbed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama /api/embed returned %d: %s", resp.StatusCode, string(respBody))
	}

	var embedResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, err
	}
	if len(embedResp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}

	vec64 := embedResp.Embeddings[0]
	vec32 := make([]float32, len(vec64))
	for i, v := range vec64 {
		vec32[i] = float32(v)
	}
	return normalizeVector(vec32), nil
}

// Metadata returns the provider's profile identity.
func (p *OllamaProvider) Metadata() Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Profile{Provider: "ollama", Model: p.model, Dim: p.dim}
}

// IsReady reports whether the provider is ready without blocking.
func (p *OllamaProvider) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready && !p.closed && p.breaker.Allow()
}

// AwaitReady blocks until the provider is ready or ctx expires.
func (p *OllamaProvider) AwaitReady(ctx context.Context) error {
	if p.IsReady() {
		return nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return cogerrors.Unavailable("embedding provider did not become ready", ctx.Err())
		case <-ticker.C:
			if p.IsReady() {
				return nil
			}
		}
	}
}

// Close releases the provider's HTTP connection pool.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if transport, ok := p.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
