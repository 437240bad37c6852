// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/config"
)

// NewClient is a factory that builds the tiered LLM router from the agent
// configuration. Both tiers share one rate limiter sized from
// requests_per_minute.
func NewClient(cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.LLM.RequestsPerMinute/60.0), 1)

	fastClient, err := newProviderClient(cfg, cfg.LLM.DefaultFastModel, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast-tier client: %w", err)
	}
	powerfulClient, err := newProviderClient(cfg, cfg.LLM.DefaultPowerfulModel, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("building powerful-tier client: %w", err)
	}

	return NewLLMRouter(logger, fastClient, powerfulClient)
}

// newProviderClient resolves the per-model configuration and dispatches on
// the provider. An explicit entry in agent.llm.models wins; otherwise the
// "default" entry is used with the model name substituted in.
func newProviderClient(cfg config.AgentConfig, model string, limiter *rate.Limiter, logger *zap.Logger) (schemas.LLMClient, error) {
	modelCfg, ok := cfg.LLM.Models[model]
	if !ok {
		modelCfg, ok = cfg.LLM.Models["default"]
		if !ok {
			return nil, fmt.Errorf("no configuration found for model %q and no default entry", model)
		}
		modelCfg.Model = model
	}
	if modelCfg.Model == "" {
		modelCfg.Model = model
	}
	if modelCfg.Provider == "" {
		modelCfg.Provider = config.ProviderGemini
	}

	switch modelCfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(modelCfg, limiter, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", modelCfg.Provider, config.ProviderGemini)
	}
}
