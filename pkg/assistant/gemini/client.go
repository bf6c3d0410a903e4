// Package gemini implements the assistant backend on the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/PhillHH/chat-agent/pkg/assistant"
)

// Client wraps the Google GenAI client.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini backend client.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Client{
		client: client,
		model:  model,
	}, nil
}

func (c *Client) Provider() string {
	return "gemini"
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "503") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused")
}

// StreamChat implements assistant.Backend. Gemini has no per-call metadata
// surface; correlation data stays gateway-side.
func (c *Client) StreamChat(ctx context.Context, messages []assistant.Message, _ assistant.Metadata) (<-chan assistant.Chunk, error) {
	contents, systemInstruction := convertMessages(messages)

	chunkCh := make(chan assistant.Chunk, 100)

	go func() {
		defer close(chunkCh)

		cfg := &genai.GenerateContentConfig{
			SystemInstruction: systemInstruction,
		}

		iter := c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg)

		for resp, err := range iter {
			if err != nil {
				chunkCh <- assistant.Chunk{Err: err, Final: true}
				return
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part.Text != "" && !part.Thought {
						chunkCh <- assistant.Chunk{Text: part.Text}
					}
				}
			}
		}

		chunkCh <- assistant.Chunk{Final: true}
	}()

	return chunkCh, nil
}

// convertMessages maps the conversation into GenAI contents; the system
// message becomes the SystemInstruction.
func convertMessages(messages []assistant.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	return contents, systemInstruction
}
