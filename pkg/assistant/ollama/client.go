// Package ollama implements the assistant backend against a self-hosted
// Ollama instance.
package ollama

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/PhillHH/chat-agent/pkg/assistant"
)

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates an Ollama backend client. Model loads can take minutes
// on cold starts, so the underlying HTTP client carries no response timeout;
// cancellation comes from the turn context.
func NewClient(model, baseURL string) (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   0,
	}

	var client *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base URL: %w", err)
		}
		client = api.NewClient(u, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		client: client,
		model:  model,
	}, nil
}

func (c *Client) Provider() string {
	return "ollama"
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF")
}

// StreamChat implements assistant.Backend. Ollama has no metadata surface;
// correlation data stays gateway-side.
func (c *Client) StreamChat(ctx context.Context, messages []assistant.Message, _ assistant.Metadata) (<-chan assistant.Chunk, error) {
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chunkCh := make(chan assistant.Chunk, 100)

	go func() {
		defer close(chunkCh)

		streamVal := true
		req := &api.ChatRequest{
			Model:    c.model,
			Messages: apiMessages,
			Stream:   &streamVal,
		}

		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				chunkCh <- assistant.Chunk{Text: resp.Message.Content}
			}
			if resp.Done {
				chunkCh <- assistant.Chunk{Final: true}
			}
			return nil
		})
		if err != nil {
			chunkCh <- assistant.Chunk{Err: err, Final: true}
		}
	}()

	return chunkCh, nil
}
