// Package assistant maintains per-session conversations on a streaming LLM
// backend. Conversation handles are process-local and are not persisted
// across restarts — an acknowledged limitation shared with the upstream
// design; DESIGN.md records the open question.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/PhillHH/chat-agent/pkg/utils"
)

// appName tags every backend call alongside the session id.
const appName = "SecureGateway"

// conversation is the per-session message log behind one backend thread.
type conversation struct {
	id       string
	mu       sync.Mutex
	messages []Message
}

// Client maintains one conversation per session and streams model turns.
type Client struct {
	backend      Backend
	assistantID  string
	systemPrompt string
	buffer       int

	mu    sync.Mutex
	convs map[string]*conversation
}

// NewClient creates an assistant client on the given backend. assistantID is
// forwarded as call metadata; systemPrompt seeds each new conversation.
func NewClient(backend Backend, assistantID, systemPrompt string, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		backend:      backend,
		assistantID:  assistantID,
		systemPrompt: systemPrompt,
		buffer:       buffer,
		convs:        make(map[string]*conversation),
	}
}

// getOrCreate returns the conversation for a session, creating it lazily.
// The map lock is held across lookup and insert, which makes the
// create-if-absent step mutually exclusive so no duplicate conversations are
// minted.
func (c *Client) getOrCreate(sessionID string) *conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conv, ok := c.convs[sessionID]; ok {
		return conv
	}

	conv := &conversation{id: utils.NewConversationID()}
	if c.systemPrompt != "" {
		conv.messages = append(conv.messages, Message{Role: "system", Content: c.systemPrompt})
	}
	c.convs[sessionID] = conv
	slog.Debug("Conversation created", "session", sessionID, "conversation", conv.id)
	return conv
}

// Stream posts the (already anonymized) prompt into the session conversation
// and returns the model's chunk stream. The completed assistant text is
// appended to the conversation once the stream drains, so the log always
// mirrors exactly what the backend saw and produced.
func (c *Client) Stream(ctx context.Context, sessionID, prompt string) (<-chan Chunk, error) {
	conv := c.getOrCreate(sessionID)

	conv.mu.Lock()
	conv.messages = append(conv.messages, Message{Role: "user", Content: prompt})
	history := make([]Message, len(conv.messages))
	copy(history, conv.messages)
	conv.mu.Unlock()

	meta := Metadata{
		"session_id": sessionID,
		"app":        appName,
	}
	if c.assistantID != "" {
		meta["assistant_id"] = c.assistantID
	}

	slog.Info("Assistant request", "session", sessionID, "conversation", conv.id, "provider", c.backend.Provider())

	chunks, err := c.backend.StreamChat(ctx, history, meta)
	if err != nil {
		return nil, fmt.Errorf("assistant: stream start: %w", err)
	}

	out := make(chan Chunk, c.buffer)
	go func() {
		defer close(out)

		var full strings.Builder
		for chunk := range chunks {
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
			}
			out <- chunk
		}

		if full.Len() > 0 {
			conv.mu.Lock()
			conv.messages = append(conv.messages, Message{Role: "assistant", Content: full.String()})
			conv.mu.Unlock()
		}
	}()

	return out, nil
}

// History returns the ordered conversation as labeled lines for escalation
// payloads. Unknown sessions yield an empty slice — history retrieval is
// never fatal.
func (c *Client) History(ctx context.Context, sessionID string) []string {
	c.mu.Lock()
	conv, ok := c.convs[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	lines := make([]string, 0, len(conv.messages))
	for _, m := range conv.messages {
		if m.Role == "system" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", capitalize(m.Role), m.Content))
	}
	return lines
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
