package bridge

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Notifier posts escalation notices to a one-way operator webhook. This is
// the pre-binding path: no operator conversation exists yet, so the notice
// carries the session id, the anonymized transcript, and the takeover
// instructions.
type Notifier struct {
	webhookURL string
	hc         *http.Client
}

// NewNotifier creates a Notifier. An empty webhook URL disables delivery;
// NotifyEscalation becomes a no-op.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		hc:         &http.Client{Timeout: 15 * time.Second},
	}
}

// adaptiveCard is the webhook payload shape expected by the operator chat
// surface (message wrapping a single Adaptive Card attachment).
type adaptiveCard struct {
	Type        string           `json:"type"`
	Attachments []cardAttachment `json:"attachments"`
}

type cardAttachment struct {
	ContentType string      `json:"contentType"`
	ContentURL  interface{} `json:"contentUrl"`
	Content     cardContent `json:"content"`
}

type cardContent struct {
	Schema  string      `json:"$schema"`
	Type    string      `json:"type"`
	Version string      `json:"version"`
	Body    []cardBlock `json:"body"`
}

type cardBlock struct {
	Type   string `json:"type"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Text   string `json:"text"`
	Wrap   bool   `json:"wrap,omitempty"`
}

// NotifyEscalation sends an Adaptive Card with the session id and the
// anonymized chat history to the configured webhook.
func (n *Notifier) NotifyEscalation(ctx context.Context, sessionID string, chatHistory []string) error {
	if n.webhookURL == "" {
		return nil
	}

	card := adaptiveCard{
		Type: "message",
		Attachments: []cardAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: cardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body: []cardBlock{
					{Type: "TextBlock", Size: "Large", Weight: "Bolder", Text: "Eskalation erforderlich"},
					{Type: "TextBlock", Text: fmt.Sprintf("Session ID: %s", sessionID), Wrap: true},
					{Type: "TextBlock", Text: "Verlauf:", Wrap: true},
					{Type: "TextBlock", Text: strings.Join(chatHistory, "\n"), Wrap: true},
				},
			},
		}},
	}

	payload, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("notifier: encode card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notifier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.hc.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: webhook status %d", resp.StatusCode)
	}
	return nil
}
