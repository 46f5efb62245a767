package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/config"
	"github.com/gitlify/gitlify/internal/observability"
)

const defaultGatewayTimeout = 120 * time.Second

// OpenAIGateway talks to an OpenAI-compatible chat completions endpoint.
type OpenAIGateway struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewOpenAIGateway creates a gateway for the given endpoint config. The API
// key is resolved from the environment variable named in the config; an
// empty key is allowed for proxies that do their own auth.
func NewOpenAIGateway(cfg config.LLMEndpointConfig, logger *zap.Logger, metrics *observability.Metrics) *OpenAIGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &OpenAIGateway{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// Provider implements Gateway.
func (g *OpenAIGateway) Provider() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements Gateway.
func (g *OpenAIGateway) Complete(ctx context.Context, req CompletionRequest) (completion *Completion, err error) {
	start := time.Now()
	defer func() {
		tokens := 0
		if completion != nil {
			tokens = completion.Usage.TotalTokens
		}
		recordRequest(g.metrics, g.Provider(), start, tokens, err)
	}()

	body, err := json.Marshal(chatCompletionRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("openai: status %d", resp.StatusCode)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	g.logger.Debug("llm completion",
		zap.String("provider", g.Provider()),
		zap.String("model", g.model),
		zap.Int("total_tokens", parsed.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return &Completion{
		Text:  parsed.Choices[0].Message.Content,
		Usage: parsed.Usage,
	}, nil
}
