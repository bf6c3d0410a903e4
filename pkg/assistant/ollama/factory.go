package ollama

import (
	"github.com/PhillHH/chat-agent/pkg/assistant"
	"github.com/PhillHH/chat-agent/pkg/config"
)

type factory struct{}

func init() {
	assistant.RegisterBackend("ollama", factory{})
}

// Create implements assistant.BackendFactory.
func (factory) Create(cfg assistant.BackendConfig, _ *config.SystemConfig) (assistant.Backend, error) {
	return NewClient(cfg.Model, cfg.BaseURL)
}
