// Package embedding turns item text into fixed-length vectors through an
// embedding service, one call per text, under a bounded worker pool.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

// Embedder embeds a single text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ClientConfig selects the provider and model.
type ClientConfig struct {
	// Provider is "openai" (any OpenAI-compatible /embeddings API) or "ollama".
	Provider string
	APIURL   string
	APIKey   string
	Model    string
	// Dims is the expected vector length. Zero accepts any non-empty vector.
	Dims int
}

// Client is an HTTP embedding client.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates an embedding client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	cfg.Provider = strings.ToLower(cfg.Provider)
	switch cfg.Provider {
	case "", "openai":
		cfg.Provider = "openai"
		if cfg.APIURL == "" {
			cfg.APIURL = "https://api.openai.com/v1"
		}
	case "ollama":
		if cfg.APIURL == "" {
			cfg.APIURL = "http://localhost:11434"
		}
	default:
		return nil, fmt.Errorf("embedding provider %q is not supported", cfg.Provider)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

// Dims returns the expected vector length.
func (c *Client) Dims() int { return c.cfg.Dims }

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the vector for text. Responses without exactly one
// well-formed vector fail with domain.ErrMalformed.
func (c *Client) Embed(ctx context.Context, text string) (vec []float32, err error) {
	start := time.Now()
	defer func() {
		metrics.EmbedDuration.Observe(time.Since(start).Seconds())
		metrics.EmbedCalls.WithLabelValues(metrics.Outcome(err, domain.Kind)).Inc()
	}()

	var raw []float64
	if c.cfg.Provider == "ollama" {
		var resp ollamaResponse
		if err := c.post(ctx, "/api/embeddings", ollamaRequest{Model: c.cfg.Model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		raw = resp.Embedding
	} else {
		var resp openAIResponse
		if err := c.post(ctx, "/embeddings", openAIRequest{Model: c.cfg.Model, Input: []string{text}}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) != 1 {
			return nil, domain.Malformed("embedding", "expected 1 vector, got %d", len(resp.Data))
		}
		raw = resp.Data[0].Embedding
	}

	vec = make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	if err := domain.ValidateVector(vec, c.cfg.Dims); err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("embed: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := domain.ErrInvalid
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = domain.ErrTransient
		}
		return fmt.Errorf("embed: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(msg)), kind)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Malformed("embedding", "decode: %v", err)
	}
	return nil
}
