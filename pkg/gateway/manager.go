package gateway

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/PhillHH/chat-agent/pkg/api"
	"github.com/PhillHH/chat-agent/pkg/config"
)

// GatewayManager is the central orchestration hub that manages the user
// transport channels and the operator channel adapters, and unifies message
// routing for both directions. It implements api.ChannelContext for user
// channels; operator channels talk to the bridge directly.
type GatewayManager struct {
	channels   map[string]api.Channel
	operators  map[string]api.OperatorChannel
	msgHandler api.MessageHandler
	sysCfg     *config.SystemConfig
	mu         sync.RWMutex
}

// NewGatewayManager initializes a new GatewayManager instance.
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels:  make(map[string]api.Channel),
		operators: make(map[string]api.OperatorChannel),
	}
}

// WithSystemConfig injects engine-level technical parameters.
func (g *GatewayManager) WithSystemConfig(cfg *config.SystemConfig) *GatewayManager {
	g.sysCfg = cfg
	return g
}

// SetMessageHandler injects the core logic callback invoked for every
// standardized message received from any registered user channel.
func (g *GatewayManager) SetMessageHandler(handler api.MessageHandler) {
	g.msgHandler = handler
}

// Register adds a user transport channel to the manager's registry.
func (g *GatewayManager) Register(c api.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// RegisterOperator adds an operator channel adapter to the registry.
func (g *GatewayManager) RegisterOperator(c api.OperatorChannel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.operators[c.ID()] = c
}

// GetChannel retrieves a registered user channel by its ID.
func (g *GatewayManager) GetChannel(id string) (api.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll starts every registered user channel (passing the manager as
// ChannelContext) and every operator channel (passing the given operator
// context, i.e. the bridge).
func (g *GatewayManager) StartAll(opCtx api.OperatorContext) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "id", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	for id, c := range g.operators {
		slog.Info("Starting operator channel", "id", id)
		if err := c.Start(opCtx); err != nil {
			return fmt.Errorf("failed to start operator channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll gracefully shuts down all registered channels.
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "id", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "id", id, "error", err)
		}
	}
	for id, c := range g.operators {
		slog.Info("Stopping operator channel", "id", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping operator channel", "id", id, "error", err)
		}
	}
}

// SendFrame delivers a single frame to the session's channel.
func (g *GatewayManager) SendFrame(session api.SessionContext, frame api.Frame) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, frame)
}

// StreamFrames delivers a frame sequence to the session's channel in order.
func (g *GatewayManager) StreamFrames(session api.SessionContext, frames <-chan api.Frame) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Stream(session, frames)
}

// OnMessage implements api.ChannelContext. It receives standardized messages
// from user channels and forwards them to the handler. The call is
// synchronous; per-connection read loops therefore process one turn at a
// time per session. The handler's rejection error is passed back to the
// transport so it can answer with its 500-class surface.
func (g *GatewayManager) OnMessage(channelID string, msg *api.UnifiedMessage) error {
	slog.Debug("Message received", "channel", channelID, "session", msg.Session.SessionID, "content", msg.Content)

	if g.msgHandler == nil {
		slog.Warn("No message handler set")
		return nil
	}
	return g.msgHandler(msg)
}
