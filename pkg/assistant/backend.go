package assistant

import (
	"context"

	"github.com/PhillHH/chat-agent/pkg/config"
)

// Message is one conversation entry as seen by the model backend. Content is
// always the anonymized form; originals never cross this boundary.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Chunk is one increment of a streaming model response.
type Chunk struct {
	Text  string // delta text, may be empty on control chunks
	Err   error  // non-nil when the stream ended abnormally
	Final bool   // true on the terminating chunk
}

// Metadata is attached to every backend call so the request can be
// correlated in the provider's audit surface.
type Metadata map[string]string

// Backend is the streaming LLM client contract. Implementations live in the
// provider subpackages and register themselves through RegisterBackend.
type Backend interface {
	// Provider returns the backend identifier ("openai", "ollama", "gemini").
	Provider() string
	// StreamChat posts the conversation and yields text deltas as they
	// arrive. The channel is closed after the final chunk. Aborting ctx
	// cancels or detaches the underlying run.
	StreamChat(ctx context.Context, messages []Message, meta Metadata) (<-chan Chunk, error)
	// IsTransientError classifies errors for retry decisions.
	IsTransientError(err error) bool
}

// BackendConfig carries the provider selection and credentials.
type BackendConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// BackendFactory instantiates a concrete Backend from configuration.
type BackendFactory interface {
	Create(cfg BackendConfig, system *config.SystemConfig) (Backend, error)
}

// backendRegistry maps provider names to their factory implementations.
// Populated from the provider packages' init() functions.
var backendRegistry = make(map[string]BackendFactory)

// RegisterBackend adds a BackendFactory to the global registry.
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// GetBackendFactory returns a registered BackendFactory by provider name.
func GetBackendFactory(name string) (BackendFactory, bool) {
	f, ok := backendRegistry[name]
	return f, ok
}
