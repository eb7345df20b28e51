// Package provider implements model.Provider for the supported reasoning
// engines: a local Ollama server (the default), OpenAI and OpenAI-compatible
// endpoints such as OpenRouter, and Anthropic.
//
// The Provider interface itself lives in the model package so that the agent
// loop and the query rewriter depend on it without importing this package.
// All conversions between transcript turns and provider wire types live in
// conversions.go.
package provider

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // unused for Ollama
}
