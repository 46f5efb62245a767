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

	"github.com/gitlify/gitlify/internal/config"
	"github.com/gitlify/gitlify/internal/observability"
)

// LocalGateway talks to an Ollama-style generate endpoint running on the
// same network, typically without authentication.
type LocalGateway struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewLocalGateway creates a gateway for a local generate endpoint.
func NewLocalGateway(cfg config.LLMEndpointConfig, logger *zap.Logger, metrics *observability.Metrics) *LocalGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &LocalGateway{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// Provider implements Gateway.
func (g *LocalGateway) Provider() string { return "local" }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete implements Gateway.
func (g *LocalGateway) Complete(ctx context.Context, req CompletionRequest) (completion *Completion, err error) {
	start := time.Now()
	defer func() {
		tokens := 0
		if completion != nil {
			tokens = completion.Usage.TotalTokens
		}
		recordRequest(g.metrics, g.Provider(), start, tokens, err)
	}()

	body, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("local: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("local: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("local: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("local: decode response: %w", err)
	}

	usage := Usage{
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
	}

	g.logger.Debug("llm completion",
		zap.String("provider", g.Provider()),
		zap.String("model", g.model),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return &Completion{Text: parsed.Response, Usage: usage}, nil
}
