package config

// ModelsConfig maps the opaque model identifiers clients send to concrete
// provider models.
type ModelsConfig struct {
	Models map[string]ModelMapping `yaml:"models"`
}

type ModelMapping struct {
	DisplayName  string `yaml:"display_name"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	Middleware   string `yaml:"middleware,omitempty"`
	ReasoningTag string `yaml:"reasoning_tag,omitempty"`
	// Tools defaults to true when omitted.
	Tools *bool `yaml:"tools,omitempty"`
}

// SupportsTools reports whether the model may be offered tool definitions.
func (m ModelMapping) SupportsTools() bool {
	return m.Tools == nil || *m.Tools
}
