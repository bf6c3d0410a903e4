package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/PhillHH/chat-agent/pkg/api"
	"github.com/PhillHH/chat-agent/pkg/assistant"
	_ "github.com/PhillHH/chat-agent/pkg/assistant/gemini"  // Register gemini backend
	_ "github.com/PhillHH/chat-agent/pkg/assistant/ollama"  // Register ollama backend
	_ "github.com/PhillHH/chat-agent/pkg/assistant/openailm" // Register openai backend
	"github.com/PhillHH/chat-agent/pkg/audit"
	"github.com/PhillHH/chat-agent/pkg/bridge"
	"github.com/PhillHH/chat-agent/pkg/channels/botframework"
	"github.com/PhillHH/chat-agent/pkg/channels/telegram"
	"github.com/PhillHH/chat-agent/pkg/channels/web"
	"github.com/PhillHH/chat-agent/pkg/config"
	"github.com/PhillHH/chat-agent/pkg/detector"
	"github.com/PhillHH/chat-agent/pkg/gateway"
	"github.com/PhillHH/chat-agent/pkg/handler"
	"github.com/PhillHH/chat-agent/pkg/monitor"
	"github.com/PhillHH/chat-agent/pkg/scanner"
	"github.com/PhillHH/chat-agent/pkg/vault"
)

// crashBackoff paces restart attempts after a failed gateway lifecycle.
const crashBackoff = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A first parse fixes the log level before anything else prints; a
	// broken environment is reported inside the serve loop.
	if _, sysCfg, err := config.Load(); err == nil {
		monitor.SetupSlog(sysCfg.LogLevel)
	}

	reloadCh := config.WatchConfig(ctx, "system.json")

	// Serve until the signal context ends. A clean return means the
	// override file changed and the gateway should be rebuilt; an error
	// means a dependency was unreachable and we retry after a pause.
	for ctx.Err() == nil {
		err := runGateway(ctx, reloadCh)
		if err != nil {
			slog.Error("Gateway stopped", "error", err, "retry_in", crashBackoff.String())
			select {
			case <-ctx.Done():
			case <-reloadCh:
				slog.Info("Override file changed, restarting immediately")
			case <-time.After(crashBackoff):
			}
			continue
		}
		if ctx.Err() == nil {
			slog.Info("Engine settings reloaded, rebuilding gateway")
		}
	}
}

// runGateway executes a single lifecycle of the gateway: construct all
// collaborators, serve until shutdown or reload, tear down.
func runGateway(ctx context.Context, reloadCh <-chan struct{}) error {
	cfg, sysCfg, err := config.Load()
	if err != nil {
		monitor.PrintBanner()
		return err
	}

	monitor.SetupSlog(sysCfg.LogLevel)
	monitor.PrintBanner()

	// --- 1. PII vault store ---
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("vault store unreachable at %s:%d: %w", cfg.RedisHost, cfg.RedisPort, err)
	}

	piiVault := vault.New(rdb,
		vault.WithTTL(time.Duration(sysCfg.PIITTLSeconds)*time.Second),
		vault.WithStatusTTL(time.Duration(sysCfg.StatusTTLHours)*time.Hour),
	)

	// --- 2. PII pipeline ---
	det := detector.NewHTTPDetector(cfg.DetectorURL, time.Duration(sysCfg.DetectorTimeoutMs)*time.Millisecond)
	piiScanner := scanner.New(piiVault, det, sysCfg.EntityScoreThreshold)
	restorer := scanner.NewRestorer(piiVault, sysCfg.InternalChannelBuffer)

	// --- 3. Assistant backend ---
	factory, ok := assistant.GetBackendFactory(cfg.LLMProvider)
	if !ok {
		return fmt.Errorf("no backend registered for provider %q", cfg.LLMProvider)
	}
	backend, err := factory.Create(assistant.BackendConfig{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   backendAPIKey(cfg),
		BaseURL:  cfg.OllamaBaseURL,
	}, sysCfg)
	if err != nil {
		return fmt.Errorf("failed to create %s backend: %w", cfg.LLMProvider, err)
	}
	assistantClient := assistant.NewClient(backend, cfg.AssistantID, cfg.SystemPrompt, sysCfg.InternalChannelBuffer)

	// --- 4. Audit archive ---
	auditStore, err := audit.Open(cfg.AuditDBPath, sysCfg.AuditQueueSize)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer auditStore.Close()

	// --- 5. Operator bridge and channels ---
	opBridge := bridge.New("web")
	notifier := bridge.NewNotifier(cfg.OperatorWebhookURL)

	webChannel := web.NewWebChannel(web.WebConfig{
		Port:         cfg.ServicePort,
		AdminEnabled: cfg.AdminEnabled,
	}, auditStore)

	operatorChannels := []api.OperatorChannel{
		botframework.NewChannel(botframework.Config{
			AppID:       cfg.OperatorAppID,
			AppPassword: cfg.OperatorAppPassword,
		}, webChannel.Mux()),
	}
	if cfg.TelegramBotToken != "" {
		tg, err := telegram.NewChannel(telegram.Config{Token: cfg.TelegramBotToken}, sysCfg.TelegramMessageLimit)
		if err != nil {
			return fmt.Errorf("failed to create telegram operator channel: %w", err)
		}
		operatorChannels = append(operatorChannels, tg)
	}
	for _, op := range operatorChannels {
		opBridge.RegisterChannel(op)
	}

	// --- 6. Assemble and start ---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithChannel(webChannel).
		WithOperatorChannel(operatorChannels...).
		WithOperatorContext(opBridge).
		WithHandler(func(responder api.MessageResponder) api.MessageHandler {
			opBridge.SetUserGateway(responder)
			router := handler.NewRouter(
				piiScanner,
				restorer,
				assistantClient,
				piiVault,
				auditStore,
				opBridge,
				notifier,
				responder,
				sysCfg,
			)
			return router.OnMessage
		}).
		Build()
	if err != nil {
		return err
	}
	defer gw.StopAll()

	slog.Info("Gateway initialized",
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
		"port", cfg.ServicePort,
		"admin", cfg.AdminEnabled,
	)

	select {
	case <-ctx.Done():
		return nil
	case <-reloadCh:
		return nil
	}
}

// backendAPIKey picks the credential matching the configured provider.
func backendAPIKey(cfg *config.Config) string {
	switch cfg.LLMProvider {
	case "gemini":
		return cfg.GeminiAPIKey
	default:
		return cfg.OpenAIAPIKey
	}
}
