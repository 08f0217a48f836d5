package config

import "time"

// Wire protocols an upstream provider can speak.
const (
	ProtocolOpenAI    = "openai"
	ProtocolAnthropic = "anthropic"
)

const defaultProviderConns = 50

// ProvidersConfig is the content of providers.yaml, keyed by provider name.
// Model mappings in models.yaml refer to these names.
type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one upstream. Groq, xAI and other OpenAI-compatible
// vendors are configured with type openai and their own base_url.
type ProviderConfig struct {
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	APIVersion    string            `yaml:"api_version,omitempty"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

// Protocol returns the wire protocol, defaulting to OpenAI-compatible.
func (p ProviderConfig) Protocol() string {
	if p.Type == "" {
		return ProtocolOpenAI
	}
	return p.Type
}

// Conns is the connection pool size for the provider's HTTP client.
func (p ProviderConfig) Conns() int {
	if p.MaxConcurrent <= 0 {
		return defaultProviderConns
	}
	return p.MaxConcurrent
}
