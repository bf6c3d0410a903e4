// Package openailm implements the assistant backend on the official OpenAI
// Go SDK (chat completions streaming).
package openailm

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/PhillHH/chat-agent/pkg/assistant"
)

// Client is a thin wrapper around the official OpenAI Go SDK.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates an OpenAI backend client.
func NewClient(apiKey, model, baseURL string) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client: &client,
		model:  model,
	}
}

func (c *Client) Provider() string {
	return "openai"
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout")
}

// StreamChat implements assistant.Backend.
func (c *Client) StreamChat(ctx context.Context, messages []assistant.Message, meta assistant.Metadata) (<-chan assistant.Chunk, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: convertMessages(messages),
	}

	if len(meta) > 0 {
		md := shared.Metadata{}
		for k, v := range meta {
			md[k] = v
		}
		params.Metadata = md
	}

	chunkCh := make(chan assistant.Chunk, 100)

	go func() {
		defer close(chunkCh)

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)

		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			if delta := event.Choices[0].Delta.Content; delta != "" {
				chunkCh <- assistant.Chunk{Text: delta}
			}
		}

		if err := stream.Err(); err != nil {
			chunkCh <- assistant.Chunk{Err: err, Final: true}
			return
		}
		chunkCh <- assistant.Chunk{Final: true}
	}()

	return chunkCh, nil
}

func convertMessages(messages []assistant.Message) []openai.ChatCompletionMessageParamUnion {
	var items []openai.ChatCompletionMessageParamUnion

	for _, m := range messages {
		switch m.Role {
		case "assistant":
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role: "assistant",
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		case "system":
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Role: "system",
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		default:
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Role: "user",
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		}
	}

	return items
}
