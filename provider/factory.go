package provider

import (
	"fmt"

	"nlsql/config"
	"nlsql/model"
)

// NewProvider creates a provider based on configuration.
func NewProvider(cfg Config) (model.Provider, error) {
	switch cfg.Type {
	case ProviderTypeOllama, "":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	case ProviderTypeOpenRouter:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenRouterBaseURL
		}
		return NewOpenAIProvider(baseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// ConfigFrom maps the application configuration onto a provider Config. For
// Ollama the [ollama] host is used unless [provider] base_url overrides it.
func ConfigFrom(cfg *config.Config) Config {
	pc := Config{
		Type:    ProviderType(cfg.Provider.Type),
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.ProviderModel(),
		APIKey:  cfg.APIKey(),
	}
	if pc.Type == "" {
		pc.Type = ProviderTypeOllama
	}
	if pc.Type == ProviderTypeOllama && pc.BaseURL == "" {
		pc.BaseURL = cfg.Ollama.Host
	}
	return pc
}

// FromConfig builds the configured provider.
func FromConfig(cfg *config.Config) (model.Provider, error) {
	p, err := NewProvider(ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	if config.DebugLog != nil {
		config.DebugLog.Debugf("[Provider] Using %s provider with model %s", ConfigFrom(cfg).Type, p.GetModel())
	}
	return p, nil
}
