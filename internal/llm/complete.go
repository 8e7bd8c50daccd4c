package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"newsrag-gateway/internal/upstream"
)

const maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload

// promptTemplate wraps the retrieved documents and the question before
// handing them to the model.
const promptTemplate = `You are a helpful assistant. Based on the provided documents, try to give an exact answer with facts from the documents. Answer the following question:

Documents:
%s

Question:
%s

Answer:`

// BuildPrompt formats the context block and query into the final user
// prompt. Exported so tests can assert on the exact shape.
func BuildPrompt(contextBlock, query string) string {
	return fmt.Sprintf(promptTemplate, contextBlock, query)
}

func (c *client) Complete(parentCtx context.Context, contextBlock, query string) (string, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("llmclient: query is empty")
	}

	c.logger.Debug("completion request starting",
		zap.String("model", c.cfg.Model),
		zap.Int("context_bytes", len(contextBlock)),
	)

	// Per-request timeout (0 = only use parentCtx)
	var ctx context.Context
	var cancel context.CancelFunc
	if c.cfg.UpstreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	} else {
		ctx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	pReq := providerChatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []ChatMessage{
			{Role: RoleUser, Content: BuildPrompt(contextBlock, query)},
		},
	}

	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal request: %w", err)
	}

	if len(bodyBytes) > maxRequestSize {
		return "", fmt.Errorf(
			"llmclient: request too large (%d bytes, max %d)",
			len(bodyBytes), maxRequestSize,
		)
	}

	url := c.cfg.BaseURL + "/v1/chat/completions"

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
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
		c.logger.Error("completion request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)

		var perr providerErrorResponse
		if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("completion provider error",
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return "", fmt.Errorf("llmclient: upstream %d: %s (%s)",
				resp.StatusCode, perr.Error.Message, perr.Error.Type)
		}

		c.logger.Error("completion upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return "", fmt.Errorf("llmclient: upstream %d: %s",
			resp.StatusCode, truncate(string(body), 200))
	}

	var pResp providerChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return "", fmt.Errorf("llmclient: decode upstream response: %w", err)
	}

	if len(pResp.Choices) == 0 {
		c.logger.Error("completion provider returned no choices",
			zap.String("model", c.cfg.Model),
		)
		return "", fmt.Errorf("llmclient: provider returned no choices")
	}

	answer := pResp.Choices[0].Message.Content

	c.logger.Info("completion request completed",
		zap.String("model", pResp.Model),
		zap.Int("answer_bytes", len(answer)),
		zap.Duration("duration", time.Since(start)),
	)

	return answer, nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
