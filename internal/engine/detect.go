package engine

import "fmt"

// Backend names accepted by Detect.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend string
	BaseURL string
	APIKey  string
}

// Detect returns the Engine for the configured backend. An empty backend
// name selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "", BackendOllama:
		return NewOllamaEngine(cfg.BaseURL), nil
	case BackendOpenAI:
		return NewOpenAIEngine(cfg.BaseURL, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}
