// Package bridge links user sessions to human-operator conversations once
// escalation fires, and forwards traffic in both directions.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/PhillHH/chat-agent/pkg/api"
)

// ErrUnbound is returned when a session has no operator conversation bound.
var ErrUnbound = errors.New("bridge: session not bound")

// connectPattern recognizes the takeover command issued by an operator.
// The session token is an opaque sess_ value; the command is case-insensitive.
var connectPattern = regexp.MustCompile(`(?i)connect\s+(sess_[A-Za-z0-9]+)`)

// Operator-facing reply texts.
const (
	helpText      = "⚠️ Nicht verbunden. Bitte antworten Sie mit 'connect <session-id>', um einen Chat zu übernehmen."
	connectedText = "✅ Verbunden mit Session: %s. Sie können jetzt chatten."
)

// UserGateway is the outbound surface the bridge uses to reach end users.
// Implemented by the gateway manager.
type UserGateway interface {
	SendFrame(session api.SessionContext, frame api.Frame) error
}

// Bridge holds the session↔operator-conversation bindings and routes
// operator traffic. It implements api.OperatorContext.
type Bridge struct {
	users         UserGateway
	userChannelID string

	mu        sync.RWMutex
	bySession map[string]api.ConversationRef
	byConv    map[string]string // convKey → session id
	channels  map[string]api.OperatorChannel
}

// New creates a Bridge. userChannelID names the user transport channel the
// bridge addresses when notifying end users. The user gateway is attached
// later, once the gateway manager exists (SetUserGateway), but always before
// any operator channel starts.
func New(userChannelID string) *Bridge {
	return &Bridge{
		userChannelID: userChannelID,
		bySession:     make(map[string]api.ConversationRef),
		byConv:        make(map[string]string),
		channels:      make(map[string]api.OperatorChannel),
	}
}

// SetUserGateway attaches the outbound user transport surface.
func (b *Bridge) SetUserGateway(users UserGateway) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = users
}

func (b *Bridge) sendToUser(sessionID string, frame api.Frame) error {
	b.mu.RLock()
	users := b.users
	b.mu.RUnlock()
	if users == nil {
		return errors.New("bridge: user gateway not attached")
	}
	return users.SendFrame(api.SessionContext{ChannelID: b.userChannelID, SessionID: sessionID}, frame)
}

// RegisterChannel adds an operator channel adapter the bridge can reply
// through.
func (b *Bridge) RegisterChannel(ch api.OperatorChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[ch.ID()] = ch
}

// Bind associates a session with an operator conversation. A later bind for
// the same session replaces the previous one (operator handover).
func (b *Bridge) Bind(sessionID string, ref api.ConversationRef) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.bySession[sessionID]; ok {
		delete(b.byConv, convKey(old))
	}
	b.bySession[sessionID] = ref
	b.byConv[convKey(ref)] = sessionID
	slog.Info("Operator bound", "session", sessionID, "channel", ref.ChannelID, "conversation", ref.ConversationID)
}

// Binding returns the operator conversation bound to a session.
func (b *Bridge) Binding(sessionID string) (api.ConversationRef, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ref, ok := b.bySession[sessionID]
	return ref, ok
}

// SessionFor returns the session bound to an operator conversation.
func (b *Bridge) SessionFor(ref api.ConversationRef) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sid, ok := b.byConv[convKey(ref)]
	return sid, ok
}

// OnOperatorMessage implements api.OperatorContext. It handles the connect
// command, forwards bound messages to the user transport, and answers
// unbound conversations with the takeover instructions.
func (b *Bridge) OnOperatorMessage(ref api.ConversationRef, text string) {
	if m := connectPattern.FindStringSubmatch(text); m != nil {
		sessionID := m[1]
		b.Bind(sessionID, ref)

		b.replyToOperator(ref, fmt.Sprintf(connectedText, sessionID))

		if err := b.sendToUser(sessionID, api.Frame{
			Type: api.FrameSystem,
			Text: "Ein Mitarbeiter ist dem Chat beigetreten.",
		}); err != nil {
			slog.Warn("Could not notify user about operator join", "session", sessionID, "error", err)
		}
		return
	}

	sessionID, ok := b.SessionFor(ref)
	if !ok {
		b.replyToOperator(ref, helpText)
		return
	}

	slog.Info("Operator message", "session", sessionID, "channel", ref.ChannelID)
	if err := b.sendToUser(sessionID, api.Frame{
		Type:   api.FrameAgentMessage,
		Text:   text,
		Sender: "Agent",
	}); err != nil {
		slog.Error("Failed to deliver operator message to user", "session", sessionID, "error", err)
	}
}

// ForwardToOperator delivers one tagged line into the conversation bound to
// the session. role selects the [USER]/[BOT] tag used when mirroring.
func (b *Bridge) ForwardToOperator(sessionID, role, text string) error {
	ref, ok := b.Binding(sessionID)
	if !ok {
		return ErrUnbound
	}

	prefix := "[BOT]"
	if role == "user" {
		prefix = "[USER]"
	}

	b.mu.RLock()
	ch, ok := b.channels[ref.ChannelID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bridge: operator channel %s not registered", ref.ChannelID)
	}

	return ch.SendToConversation(ref, fmt.Sprintf("%s %s", prefix, text))
}

// Mirror forwards a conversation turn to a bound operator, if any. Delivery
// failures never affect the user-facing flow; they are logged and dropped.
func (b *Bridge) Mirror(sessionID, role, text string) {
	if err := b.ForwardToOperator(sessionID, role, text); err != nil {
		if !errors.Is(err, ErrUnbound) {
			slog.Warn("Operator mirror failed", "session", sessionID, "error", err)
		}
	}
}

func (b *Bridge) replyToOperator(ref api.ConversationRef, text string) {
	b.mu.RLock()
	ch, ok := b.channels[ref.ChannelID]
	b.mu.RUnlock()
	if !ok {
		slog.Error("Operator channel not registered", "channel", ref.ChannelID)
		return
	}
	if err := ch.SendToConversation(ref, text); err != nil {
		slog.Error("Operator reply failed", "channel", ref.ChannelID, "error", err)
	}
}

func convKey(ref api.ConversationRef) string {
	return ref.ChannelID + "/" + ref.ConversationID
}
