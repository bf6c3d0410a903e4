package openailm

import (
	"github.com/PhillHH/chat-agent/pkg/assistant"
	"github.com/PhillHH/chat-agent/pkg/config"
)

type factory struct{}

func init() {
	assistant.RegisterBackend("openai", factory{})
}

// Create implements assistant.BackendFactory.
func (factory) Create(cfg assistant.BackendConfig, _ *config.SystemConfig) (assistant.Backend, error) {
	return NewClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
}
