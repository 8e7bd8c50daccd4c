// Package embed talks to the embedding collaborator over an
// OpenAI-style /embeddings endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"newsrag-gateway/internal/upstream"
)

const defaultModel = "sentence-transformers/all-mpnet-base-v2"

type Config struct {
	BaseURL string
	APIKey  string

	Model           string        // default: sentence-transformers/all-mpnet-base-v2
	UpstreamTimeout time.Duration // default: 30s
	MaxRetries      int           // default: 2
	BaseBackoff     time.Duration // default: 100ms

	HTTPClient *http.Client
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if c.APIKey == "" {
		return errors.New("APIKey is required")
	}
	return nil
}

func (c *Config) WithDefaults() Config {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	return cfg
}

// Client implements retrieval.Embedder.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("embedclient"),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed computes the vector for one piece of text.
func (c *Client) Embed(parentCtx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedclient: text is empty")
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(embeddingRequest{
		Model: c.cfg.Model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/embeddings"

	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embedclient: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	resp, err := upstream.DoWithRetry(ctx, c.logger, upstream.RetryConfig{
		MaxRetries:  c.cfg.MaxRetries,
		BaseBackoff: c.cfg.BaseBackoff,
	}, bodyBytes, doOnce)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedclient: upstream %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var eResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&eResp); err != nil {
		return nil, fmt.Errorf("embedclient: decode upstream response: %w", err)
	}

	if len(eResp.Data) == 0 || len(eResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedclient: provider returned no embedding")
	}

	return eResp.Data[0].Embedding, nil
}
