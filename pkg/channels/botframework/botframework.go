// Package botframework implements the operator transport against a
// bot-framework connector: inbound activities arrive on POST /api/messages,
// proactive replies go out through the connector's conversations API.
package botframework

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/PhillHH/chat-agent/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	activityTypeMessage = "message"
	loginURL            = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	tokenScope          = "https://api.botframework.com/.default"
)

// Config carries the bot registration credentials. Empty credentials run the
// adapter in unauthenticated mode (local emulator).
type Config struct {
	AppID       string
	AppPassword string
}

// Activity is the subset of the bot-framework activity envelope the gateway
// consumes and produces.
type Activity struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Text         string          `json:"text,omitempty"`
	From         ChannelAccount  `json:"from,omitempty"`
	Recipient    ChannelAccount  `json:"recipient,omitempty"`
	Conversation ConversationRef `json:"conversation,omitempty"`
	ServiceURL   string          `json:"serviceUrl,omitempty"`
	ChannelID    string          `json:"channelId,omitempty"`
}

// ChannelAccount identifies a bot or operator account.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ConversationRef identifies the operator conversation inside an activity.
type ConversationRef struct {
	ID string `json:"id"`
}

// Channel is the bot-framework operator adapter. It shares the gateway's
// HTTP mux instead of opening its own listener.
type Channel struct {
	config Config
	mux    *http.ServeMux
	hc     *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewChannel creates the adapter and mounts nothing yet; routes are
// registered on Start.
func NewChannel(cfg Config, mux *http.ServeMux) *Channel {
	return &Channel{
		config: cfg,
		mux:    mux,
		hc:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Channel) ID() string {
	return "botframework"
}

func (c *Channel) Start(ctx api.OperatorContext) error {
	c.mux.HandleFunc("POST /api/messages", func(w http.ResponseWriter, r *http.Request) {
		c.handleActivity(w, r, ctx)
	})
	slog.Info("Operator transport mounted", "route", "/api/messages")
	return nil
}

func (c *Channel) Stop() error {
	return nil
}

func (c *Channel) handleActivity(w http.ResponseWriter, r *http.Request, ctx api.OperatorContext) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	// Credentialed deployments require a connector bearer token. Full JWT
	// validation is the connector's concern; presence is enforced here.
	if c.config.AppPassword != "" && !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var activity Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		slog.Error("Failed to decode operator activity", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if activity.Type == activityTypeMessage && strings.TrimSpace(activity.Text) != "" {
		ref := api.ConversationRef{
			ChannelID:      c.ID(),
			ConversationID: activity.Conversation.ID,
			ServiceURL:     activity.ServiceURL,
		}
		ctx.OnOperatorMessage(ref, strings.TrimSpace(activity.Text))
	}
	// Other activity types (conversationUpdate, typing) are acknowledged
	// without side effects.

	w.WriteHeader(http.StatusOK)
}

// SendToConversation implements api.OperatorChannel. The reply is posted to
// the connector endpoint recorded when the conversation last spoke.
func (c *Channel) SendToConversation(ref api.ConversationRef, text string) error {
	if ref.ServiceURL == "" {
		return fmt.Errorf("botframework: conversation %s has no service URL", ref.ConversationID)
	}

	activity := Activity{
		Type: activityTypeMessage,
		From: ChannelAccount{ID: c.config.AppID},
		Text: text,
	}
	payload, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("botframework: encode activity: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimRight(ref.ServiceURL, "/"), url.PathEscape(ref.ConversationID))

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("botframework: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.AppPassword != "" {
		token, err := c.connectorToken()
		if err != nil {
			return fmt.Errorf("botframework: token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("botframework: send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("botframework: connector status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// connectorToken returns a cached client-credentials token for the
// connector, refreshing it shortly before expiry.
func (c *Channel) connectorToken() (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.config.AppID},
		"client_secret": {c.config.AppPassword},
		"scope":         {tokenScope},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("login status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	c.accessToken = parsed.AccessToken
	// Refresh one minute early.
	c.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}
