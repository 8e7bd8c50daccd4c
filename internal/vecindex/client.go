// Package vecindex talks to the vector similarity-search collaborator
// over a Pinecone-style REST API.
package vecindex

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

	"newsrag-gateway/internal/retrieval"
	"newsrag-gateway/internal/upstream"
)

type Config struct {
	BaseURL string // index host, e.g. https://my-index-abc123.svc.us-east-1.pinecone.io
	APIKey  string

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

// Client implements retrieval.Index.
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
		logger:     logger.Named("vecindex"),
	}, nil
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type matchMetadata struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type queryMatch struct {
	ID       string        `json:"id"`
	Score    float64       `json:"score"`
	Metadata matchMetadata `json:"metadata"`
}

type queryResponse struct {
	Matches []queryMatch `json:"matches"`
}

// Query returns up to topK scored candidates for the vector, in the
// index's ranked order.
func (c *Client) Query(parentCtx context.Context, vector []float32, topK int) ([]retrieval.Candidate, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vecindex: vector is empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("vecindex: topK must be positive, got %d", topK)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(queryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vecindex: marshal query: %w", err)
	}

	resp, err := c.post(ctx, "/query", bodyBytes)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vecindex: upstream %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var qResp queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qResp); err != nil {
		return nil, fmt.Errorf("vecindex: decode query response: %w", err)
	}

	candidates := make([]retrieval.Candidate, 0, len(qResp.Matches))
	for _, m := range qResp.Matches {
		candidates = append(candidates, retrieval.Candidate{
			Content:  m.Metadata.Text,
			SourceID: m.Metadata.Source,
			Score:    m.Score,
		})
	}

	c.logger.Debug("index query completed",
		zap.Int("top_k", topK),
		zap.Int("matches", len(candidates)),
	)

	return candidates, nil
}

type upsertVector struct {
	ID       string        `json:"id"`
	Values   []float32     `json:"values"`
	Metadata matchMetadata `json:"metadata"`
}

type upsertRequest struct {
	Vectors []upsertVector `json:"vectors"`
}

// Upsert writes embedded chunks into the index. Re-upserting the same
// IDs overwrites in place, which keeps ingestion idempotent.
func (c *Client) Upsert(parentCtx context.Context, entries []retrieval.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	vectors := make([]upsertVector, 0, len(entries))
	for _, e := range entries {
		vectors = append(vectors, upsertVector{
			ID:     e.ID,
			Values: e.Vector,
			Metadata: matchMetadata{
				Text:   e.Content,
				Source: e.SourceID,
			},
		})
	}

	bodyBytes, err := json.Marshal(upsertRequest{Vectors: vectors})
	if err != nil {
		return fmt.Errorf("vecindex: marshal upsert: %w", err)
	}

	resp, err := c.post(ctx, "/vectors/upsert", bodyBytes)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vecindex: upstream %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Info("index upsert completed",
		zap.Int("vectors", len(vectors)),
	)

	return nil
}

func (c *Client) post(ctx context.Context, path string, bodyBytes []byte) (*http.Response, error) {
	url := c.cfg.BaseURL + path

	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("vecindex: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Api-Key", c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	return upstream.DoWithRetry(ctx, c.logger, upstream.RetryConfig{
		MaxRetries:  c.cfg.MaxRetries,
		BaseBackoff: c.cfg.BaseBackoff,
	}, bodyBytes, doOnce)
}
