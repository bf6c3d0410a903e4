package gemini

import (
	"context"

	"github.com/PhillHH/chat-agent/pkg/assistant"
	"github.com/PhillHH/chat-agent/pkg/config"
)

type factory struct{}

func init() {
	assistant.RegisterBackend("gemini", factory{})
}

// Create implements assistant.BackendFactory.
func (factory) Create(cfg assistant.BackendConfig, _ *config.SystemConfig) (assistant.Backend, error) {
	return NewClient(context.Background(), cfg.APIKey, cfg.Model)
}
