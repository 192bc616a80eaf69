package provider

import (
	"fmt"
	"strings"

	"github.com/MadnessEngineering/whispermind-conduit/internal/config"
)

// providerAliases maps common aliases to canonical provider IDs.
var providerAliases = map[string]string{
	"claude":     "anthropic",
	"vllm":       "openai",
	"openrouter": "openai",
	"local":      "ollama",
}

// NormalizeProviderID resolves aliases and normalizes the provider ID.
func NormalizeProviderID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := providerAliases[lower]; ok {
		return canonical
	}
	return lower
}

// Resolve creates the LLMProvider selected by model.provider.
func Resolve(cfg config.ModelConfig) (LLMProvider, error) {
	switch NormalizeProviderID(cfg.Provider) {
	case "openai", "":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Name), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Name), nil
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
