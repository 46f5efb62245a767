// Package llm provides gateways to LLM completion endpoints. Each
// configured endpoint is addressable by its config id, and a workflow run
// binds to exactly one config for its whole lifetime.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/config"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/model"
)

// CompletionRequest is a single-turn completion call.
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the text produced by a gateway plus its token usage.
type Completion struct {
	Text  string
	Usage Usage
}

// Gateway sends completion requests to one LLM endpoint.
type Gateway interface {
	// Provider returns the wire-format name, "openai" or "local".
	Provider() string

	// Complete sends a single prompt and returns the completion text.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Registry resolves LLM config ids to gateways. Construction validates
// every configured endpoint, so a resolved gateway is always usable.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds a gateway per configured endpoint.
func NewRegistry(cfg config.LLMConfig, logger *zap.Logger, metrics *observability.Metrics) (*Registry, error) {
	gateways := make(map[string]Gateway, len(cfg.Configs))
	for _, ec := range cfg.Configs {
		var gw Gateway
		switch ec.Provider {
		case "openai":
			gw = NewOpenAIGateway(ec, logger, metrics)
		case "local":
			gw = NewLocalGateway(ec, logger, metrics)
		default:
			return nil, fmt.Errorf("llm: config %q has unsupported provider %q", ec.ID, ec.Provider)
		}
		gateways[ec.ID] = gw
	}
	return &Registry{gateways: gateways}, nil
}

// NewStaticRegistry builds a registry from pre-constructed gateways.
func NewStaticRegistry(gateways map[string]Gateway) *Registry {
	return &Registry{gateways: gateways}
}

// Get returns the gateway for the given config id. Unknown ids yield an
// LLM_CONFIG_INVALID error envelope.
func (r *Registry) Get(configID string) (Gateway, error) {
	gw, ok := r.gateways[configID]
	if !ok {
		return nil, model.NewLLMConfigInvalidError(configID)
	}
	return gw, nil
}

// IDs returns the configured gateway ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	return ids
}

// recordRequest emits request metrics for one gateway call. Metrics may be
// nil in tests.
func recordRequest(metrics *observability.Metrics, provider string, start time.Time, totalTokens int, err error) {
	if metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordLLMRequest(provider, status, time.Since(start), totalTokens)
}
