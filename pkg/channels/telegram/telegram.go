// Package telegram implements an alternative operator transport: operators
// talk to the gateway through a Telegram bot instead of the bot-framework
// connector. The takeover protocol (connect <session-id>) is identical.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PhillHH/chat-agent/pkg/api"
)

// Config encapsulates the credentials required to authenticate with the
// Telegram Bot API.
type Config struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// Channel is the Telegram operator adapter. It long-polls for updates and
// forwards every direct message into the operator bridge.
type Channel struct {
	config       Config
	bot          *tgbotapi.BotAPI
	messageLimit int
	stopCtx      context.Context
	stopCancel   context.CancelFunc
}

// NewChannel authenticates the bot. A dedicated HTTP client is tied to the
// stop context so an active long-poll request aborts immediately on Stop,
// preventing a 409 Conflict when the gateway reloads.
func NewChannel(cfg Config, msgLimit int) (*Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	botHTTPClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram operator bot authorized", "username", bot.Self.UserName)

	if msgLimit < 1 {
		msgLimit = 4000
	}

	return &Channel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		stopCtx:      ctx,
		stopCancel:   cancel,
	}, nil
}

func (t *Channel) ID() string {
	return "telegram"
}

// Start launches the long-polling update loop in a background goroutine.
func (t *Channel) Start(ctx api.OperatorContext) error {
	offset := 0

	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1
				}
				if update.Message == nil || update.Message.Text == "" {
					continue
				}

				ref := api.ConversationRef{
					ChannelID:      t.ID(),
					ConversationID: strconv.FormatInt(update.Message.Chat.ID, 10),
				}
				ctx.OnOperatorMessage(ref, update.Message.Text)
			}
		}
	}()

	return nil
}

func (t *Channel) Stop() error {
	t.stopCancel()

	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}

	return nil
}

// SendToConversation implements api.OperatorChannel. Long texts (escalation
// transcripts) are split to respect Telegram's message size limit.
func (t *Channel) SendToConversation(ref api.ConversationRef, text string) error {
	chatID, err := strconv.ParseInt(ref.ConversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id: %s", ref.ConversationID)
	}

	msgRunes := []rune(text)
	totalLen := len(msgRunes)

	if totalLen <= t.messageLimit {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}

	for i := 0; i < totalLen; i += t.messageLimit {
		end := i + t.messageLimit
		if end > totalLen {
			end = totalLen
		}
		msg := tgbotapi.NewMessage(chatID, string(msgRunes[i:end]))
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}

	return nil
}
