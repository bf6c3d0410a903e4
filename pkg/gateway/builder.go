package gateway

import (
	"fmt"

	"github.com/PhillHH/chat-agent/pkg/api"
	"github.com/PhillHH/chat-agent/pkg/config"
)

// GatewayBuilder provides a fluent interface for constructing and starting a
// GatewayManager with all its dependencies. Channels and operator adapters
// are pre-built instances — the builder assembles and starts them.
type GatewayBuilder struct {
	gw             *GatewayManager
	systemConfig   *config.SystemConfig
	handlerBuilder func(api.MessageResponder) api.MessageHandler
	channels       []api.Channel
	operators      []api.OperatorChannel
	operatorCtx    api.OperatorContext
}

// NewGatewayBuilder creates a fresh builder with an internal GatewayManager.
func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{
		gw: NewGatewayManager(),
	}
}

// WithSystemConfig provides engine-level technical parameters.
func (b *GatewayBuilder) WithSystemConfig(cfg *config.SystemConfig) *GatewayBuilder {
	b.systemConfig = cfg
	return b
}

// WithChannel adds pre-built user transport channels.
func (b *GatewayBuilder) WithChannel(channels ...api.Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithOperatorChannel adds pre-built operator channel adapters.
func (b *GatewayBuilder) WithOperatorChannel(channels ...api.OperatorChannel) *GatewayBuilder {
	b.operators = append(b.operators, channels...)
	return b
}

// WithOperatorContext injects the operator bridge that receives inbound
// operator messages.
func (b *GatewayBuilder) WithOperatorContext(ctx api.OperatorContext) *GatewayBuilder {
	b.operatorCtx = ctx
	return b
}

// WithHandler registers a strategy that builds the message handler once the
// manager (the responder) exists.
func (b *GatewayBuilder) WithHandler(build func(api.MessageResponder) api.MessageHandler) *GatewayBuilder {
	b.handlerBuilder = build
	return b
}

// Build finalizes the configuration, registers all channels, wires the
// handler, and starts everything. Returns the operational manager.
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	if b.systemConfig != nil {
		b.gw.WithSystemConfig(b.systemConfig)
	}

	for _, c := range b.channels {
		b.gw.Register(c)
	}
	for _, c := range b.operators {
		b.gw.RegisterOperator(c)
	}

	if b.handlerBuilder != nil {
		b.gw.SetMessageHandler(b.handlerBuilder(b.gw))
	}

	if len(b.operators) > 0 && b.operatorCtx == nil {
		return nil, fmt.Errorf("operator channels registered without an operator context")
	}

	if err := b.gw.StartAll(b.operatorCtx); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return b.gw, nil
}
