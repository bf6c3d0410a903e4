package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// All values are environment-variable keyed so the gateway can be deployed
// without any config file; see the env constants below for the key names.
type Config struct {
	// RedisHost / RedisPort locate the PII vault store.
	RedisHost string
	RedisPort int

	// LLMProvider selects the assistant backend ("openai", "ollama", "gemini").
	LLMProvider string
	// LLMModel is the model identifier passed to the selected backend.
	LLMModel string
	// OpenAIAPIKey authenticates the openai backend.
	OpenAIAPIKey string
	// GeminiAPIKey authenticates the gemini backend.
	GeminiAPIKey string
	// OllamaBaseURL points the ollama backend at a self-hosted instance.
	OllamaBaseURL string
	// AssistantID is the conversation-template identifier attached to every
	// backend call for correlation in the provider's audit surface.
	AssistantID string
	// SystemPrompt is the instruction template seeded into every conversation.
	// It is expected to embed the escalation sentinel contract.
	SystemPrompt string

	// DetectorURL is the base URL of the external entity classifier service.
	DetectorURL string

	// OperatorWebhookURL receives one-way escalation notifications.
	OperatorWebhookURL string
	// OperatorAppID / OperatorAppPassword authenticate the bot-framework
	// operator transport.
	OperatorAppID       string
	OperatorAppPassword string
	// TelegramBotToken enables the Telegram operator channel when set.
	TelegramBotToken string

	// ServicePort is the HTTP listen port for the user and operator surfaces.
	ServicePort int
	// AdminEnabled toggles the review backend endpoints.
	AdminEnabled bool
	// AuditDBPath is the SQLite file holding the conversation archive.
	AuditDBPath string
}

// Environment keys recognized by Load.
const (
	envRedisHost     = "REDIS_HOST"
	envRedisPort     = "REDIS_PORT"
	envLLMProvider   = "LLM_PROVIDER"
	envLLMModel      = "LLM_MODEL"
	envOpenAIKey     = "OPENAI_API_KEY"
	envGeminiKey     = "GEMINI_API_KEY"
	envOllamaBaseURL = "OLLAMA_BASE_URL"
	envAssistantID   = "ASSISTANT_ID"
	envSystemPrompt  = "SYSTEM_PROMPT"
	envDetectorURL   = "PII_DETECTOR_URL"
	envWebhookURL    = "OPERATOR_WEBHOOK_URL"
	envAppID         = "OPERATOR_APP_ID"
	envAppPassword   = "OPERATOR_APP_PASSWORD"
	envTelegramToken = "TELEGRAM_BOT_TOKEN"
	envServicePort   = "SERVICE_PORT"
	envAdminEnabled  = "ENABLE_ADMIN_BACKEND"
	envAuditDBPath   = "AUDIT_DB_PATH"
)

// Validate ensures the configuration contains a usable backend selection.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "openai", "ollama", "gemini":
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLMProvider)
	}
	if c.DetectorURL == "" {
		return fmt.Errorf("mandatory %s is missing", envDetectorURL)
	}
	return nil
}

// SystemConfig defines engine-level technical parameters. These settings have
// safe hardcoded defaults and can be overridden via system.json.
type SystemConfig struct {
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for one model
	// turn. The turn context is cancelled when exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// DetectorTimeoutMs bounds a single classifier inference call.
	DetectorTimeoutMs int `json:"detector_timeout_ms"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream fragments.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// PIITTLSeconds is the lifetime of a vault placeholder entry.
	PIITTLSeconds int `json:"pii_ttl_seconds"`
	// StatusTTLHours is the lifetime of a HUMAN session-status entry.
	StatusTTLHours int `json:"status_ttl_hours"`
	// EntityScoreThreshold drops classifier entities below this confidence.
	EntityScoreThreshold float64 `json:"entity_score_threshold"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message sent to an operator conversation.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// AuditQueueSize bounds the in-flight audit write queue.
	AuditQueueSize int `json:"audit_queue_size"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DeepCopy creates a full copy of SystemConfig.
func (s *SystemConfig) DeepCopy() *SystemConfig {
	newSys := *s
	return &newSys
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with
// hardcoded safe defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		LLMTimeoutMs:          600000,
		DetectorTimeoutMs:     10000,
		InternalChannelBuffer: 100,
		PIITTLSeconds:         3600,
		StatusTTLHours:        24,
		EntityScoreThreshold:  0.7,
		TelegramMessageLimit:  4000,
		AuditQueueSize:        256,
		LogLevel:              "info",
	}
}

// Load reads the environment-keyed configuration and the optional system.json
// override, returning both configuration objects.
func Load() (*Config, *SystemConfig, error) {
	cfg := &Config{
		RedisHost:           getEnv(envRedisHost, "redis"),
		RedisPort:           getEnvInt(envRedisPort, 6379),
		LLMProvider:         getEnv(envLLMProvider, "openai"),
		LLMModel:            getEnv(envLLMModel, "gpt-4o-mini"),
		OpenAIAPIKey:        os.Getenv(envOpenAIKey),
		GeminiAPIKey:        os.Getenv(envGeminiKey),
		OllamaBaseURL:       os.Getenv(envOllamaBaseURL),
		AssistantID:         os.Getenv(envAssistantID),
		SystemPrompt:        os.Getenv(envSystemPrompt),
		DetectorURL:         os.Getenv(envDetectorURL),
		OperatorWebhookURL:  os.Getenv(envWebhookURL),
		OperatorAppID:       os.Getenv(envAppID),
		OperatorAppPassword: os.Getenv(envAppPassword),
		TelegramBotToken:    os.Getenv(envTelegramToken),
		ServicePort:         getEnvInt(envServicePort, 1985),
		AdminEnabled:        getEnvBool(envAdminEnabled, false),
		AuditDBPath:         getEnv(envAuditDBPath, "training_hub.db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load engine settings from the given path,
// returning the defaults if the file is missing or unparseable.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
