// Package embedgen defines the capability contract the vector index
// consumes for turning text into embeddings, and a concrete HTTP-based
// generator for Ollama's /api/embed endpoint — the only concrete provider
// named in the engine's configuration surface. Swapping in another provider
// means implementing Generator; the vector index never depends on the
// concrete type.
package embedgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/localkb/localkb/internal/kberrors"
)

// Generator is the capability contract the vector index consumes: turn text
// into a raw (not necessarily normalized) embedding of a fixed dimension.
type Generator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}

// Defaults mirroring a typical local Ollama embedding deployment.
const (
	DefaultHost       = "http://localhost:11434"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
)

// OllamaConfig configures an OllamaGenerator.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect from the first embedding
	Timeout    time.Duration
	MaxRetries int
}

func (c OllamaConfig) withDefaults() OllamaConfig {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// OllamaGenerator calls Ollama's HTTP embedding API, with retry/backoff and
// a circuit breaker so a flapping endpoint degrades to fast Transport
// errors instead of stalling every upsert.
type OllamaGenerator struct {
	client  *http.Client
	cfg     OllamaConfig
	dims    int
	breaker *kberrors.CircuitBreaker
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator constructs a generator. If cfg.Dimensions is 0, it is
// auto-detected from the first successful embedding call.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	cfg = cfg.withDefaults()
	return &OllamaGenerator{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		dims:    cfg.Dimensions,
		breaker: kberrors.NewCircuitBreaker("embedgen:" + cfg.Model),
	}
}

// Dimensions returns the embedding length, 0 if not yet known (before the
// first successful Embed call, when auto-detecting).
func (g *OllamaGenerator) Dimensions() int { return g.dims }

// ModelName returns the configured model identifier.
func (g *OllamaGenerator) ModelName() string { return g.cfg.Model }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed generates a raw (unnormalized) embedding for text. Normalization
// and dimension enforcement against an index's declared size happen at the
// vector index layer (§4.3), not here, since the cache stores this raw
// value regardless of which index consults it.
func (g *OllamaGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		if g.dims > 0 {
			return make([]float32, g.dims), nil
		}
		return []float32{}, nil
	}

	if !g.breaker.Allow() {
		return nil, kberrors.Newf(kberrors.Transport, "embedding provider %q circuit open", g.cfg.Model)
	}

	var result []float32
	err := g.breaker.Execute(func() error {
		v, err := g.doEmbedWithRetry(ctx, text)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		if kberrors.KindOf(err) == kberrors.Transport {
			return nil, err
		}
		return nil, kberrors.Wrap(kberrors.Transport, err, "embedding request failed")
	}

	if g.dims == 0 {
		g.dims = len(result)
	}
	return result, nil
}

func (g *OllamaGenerator) doEmbedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<uint(attempt)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		v, err := g.doEmbed(ctx, text)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", g.cfg.MaxRetries, lastErr)
}

func (g *OllamaGenerator) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: g.cfg.Model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	raw := result.Embeddings[0]
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
