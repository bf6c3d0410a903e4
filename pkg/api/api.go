package api

// Frame type identifiers used on the user transport. The WebSocket surface
// sends them as JSON objects; the request/stream surface flattens them into
// a text/plain body.
const (
	FrameChunk        = "chunk"
	FrameDone         = "done"
	FrameSystem       = "system"
	FrameAgentMessage = "agent_message"
	FrameError        = "error"
)

// Status markers carried on system frames.
const (
	StatusHumanMode  = "HUMAN_MODE"
	StatusEscalation = "ESKALATION"
)

// Frame is a single message unit delivered to the end user.
type Frame struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Status string `json:"status,omitempty"`
	Sender string `json:"sender,omitempty"`
}

// SessionContext encapsulates identity and routing information for a specific
// user conversation on a specific communication channel.
type SessionContext struct {
	ChannelID string // Identifier of the channel that originated the session (e.g., "web")
	SessionID string // Opaque session token supplied by the client (sess_…)
}

// UnifiedMessage defines the standardized internal data structure for all
// incoming user messages, independent of the transport they arrived on.
type UnifiedMessage struct {
	Session SessionContext // Contextual information about the source
	Content string         // Text content of the message
	Raw     any            // Optional storage for the original platform-specific payload
}

// MessageHandler is the business-logic callback invoked for every inbound
// user message. A non-nil error means the turn was rejected before any
// reply content was produced (de-identification failed); transports map it
// to their 500-class surface. Failures after streaming has begun are
// reported in-band through frames instead.
type MessageHandler func(msg *UnifiedMessage) error

// Channel defines the standardized lifecycle interface for user-facing
// communication platforms. Every transport adaptation must implement this
// interface to integrate into the gateway's message routing.
type Channel interface {
	// ID returns a unique string identifier for this channel instance.
	ID() string
	// Start initiates the message receiving loop or listener. Must be
	// non-blocking so the manager can start multiple channels in sequence.
	Start(ctx ChannelContext) error
	// Stop gracefully shuts down the channel and releases held resources.
	Stop() error
	// Send transmits a single frame proactively to a specific session.
	Send(session SessionContext, frame Frame) error
	// Stream delivers a sequence of frames to a specific session in order.
	Stream(session SessionContext, frames <-chan Frame) error
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the gateway core.
type ChannelContext interface {
	MessageResponder
	// OnMessage is the callback invoked when a channel receives an external
	// message. The call is synchronous: it returns once the turn is handled,
	// which gives each connection natural per-session turn ordering. The
	// error carries the MessageHandler rejection semantics.
	OnMessage(channelID string, msg *UnifiedMessage) error
}

// MessageResponder defines the capabilities for sending responses back to a
// user session through its channel.
type MessageResponder interface {
	SendFrame(session SessionContext, frame Frame) error
	StreamFrames(session SessionContext, frames <-chan Frame) error
}

// ConversationRef identifies one operator conversation on one operator
// channel. ServiceURL is only populated by transports that require a
// callback base URL for proactive replies (bot-framework connector).
type ConversationRef struct {
	ChannelID      string `json:"channel_id"`
	ConversationID string `json:"conversation_id"`
	ServiceURL     string `json:"service_url,omitempty"`
}

// OperatorChannel is the adapter contract for human-operator chat surfaces.
type OperatorChannel interface {
	ID() string
	Start(ctx OperatorContext) error
	Stop() error
	// SendToConversation delivers a plain text message into the referenced
	// operator conversation.
	SendToConversation(ref ConversationRef, text string) error
}

// OperatorContext is implemented by the operator bridge; channels hand every
// inbound operator message to it.
type OperatorContext interface {
	OnOperatorMessage(ref ConversationRef, text string)
}
