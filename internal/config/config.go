// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken     = "TELEGRAM_TOKEN"
	KeyDiscordToken      = "DISCORD_TOKEN"
	KeyDiscordAppID      = "DISCORD_APP_ID"
	KeyDiscordGuildID    = "DISCORD_GUILD_ID"
	KeyBotOwner          = "BOT_OWNER"
	KeyCompletionAPIKey  = "COMPLETION_API_KEY"
	KeyCompletionModel   = "COMPLETION_MODEL"
	KeyCompletionBaseURL = "COMPLETION_BASE_URL"
	KeyCompletionTimeout = "COMPLETION_TIMEOUT"
	KeyStorageBackend    = "STORAGE_BACKEND"
	KeyDataDir           = "DATA_DIR"
	KeyMongoURI          = "MONGO_URI"
	KeyMongoDB           = "MONGO_DB"
	KeyHistoryLimit      = "HISTORY_LIMIT"
	KeyContextTurns      = "CONTEXT_TURNS"
	KeyChatRate          = "CHAT_RATE_PER_MINUTE"
	KeyAppEnv            = "APP_ENV"
	KeyLogLevel          = "LOG_LEVEL"
	KeyHTTPPort          = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Allowed storage backends.
	StorageFile  = "file"
	StorageMongo = "mongo"

	// Defaults for optional settings.
	DefaultAppEnv            = EnvProduction
	DefaultLogLevel          = "info"
	DefaultHTTPPort          = 8080
	DefaultCompletionBaseURL = "https://openrouter.ai/api/v1"
	DefaultCompletionTimeout = 60 * time.Second
	DefaultStorageBackend    = StorageFile
	DefaultDataDir           = "data"
	DefaultHistoryLimit      = 50
	DefaultContextTurns      = 5
	DefaultChatRate          = 10
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Description: "Telegram Bot Token issued by BotFather.",
		Notes:       "At least one of " + KeyTelegramToken + " and " + KeyDiscordToken + " is required.",
	},
	{
		Key:         KeyDiscordToken,
		Example:     "MTA4...",
		Description: "Discord bot token.",
		Notes:       "Requires " + KeyDiscordAppID + ".",
	},
	{
		Key:         KeyDiscordAppID,
		Example:     "1084000000000000000",
		Description: "Discord application id used to register slash commands.",
	},
	{
		Key:         KeyDiscordGuildID,
		Example:     "1084000000000000001",
		Description: "Register slash commands to a single guild instead of globally.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Description: "Platform user id treated as administrator everywhere.",
	},
	{
		Key:         KeyCompletionAPIKey,
		Example:     "sk-or-v1-...",
		Required:    true,
		Description: "Bearer token for the chat completions API.",
	},
	{
		Key:         KeyCompletionModel,
		Example:     "openai/gpt-4o-mini",
		Required:    true,
		Description: "Model name sent with every completion request.",
	},
	{
		Key:         KeyCompletionBaseURL,
		Example:     DefaultCompletionBaseURL,
		Default:     DefaultCompletionBaseURL,
		Description: "Base URL of the OpenAI-compatible API; /chat/completions is appended.",
	},
	{
		Key:         KeyCompletionTimeout,
		Example:     "60s",
		Default:     DefaultCompletionTimeout.String(),
		Description: "Upper bound for a single completion request.",
	},
	{
		Key:         KeyStorageBackend,
		Example:     StorageFile + " / " + StorageMongo,
		Default:     DefaultStorageBackend,
		Description: "Where users, prompts, authorizations and memory are persisted.",
	},
	{
		Key:         KeyDataDir,
		Example:     DefaultDataDir,
		Default:     DefaultDataDir,
		Description: "Root directory of the JSON files for the file backend.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when " + KeyStorageBackend + "=" + StorageMongo + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     "relay_bot",
		Description: "MongoDB database name.",
		Notes:       "Required when " + KeyStorageBackend + "=" + StorageMongo + ".",
	},
	{
		Key:         KeyHistoryLimit,
		Example:     strconv.Itoa(DefaultHistoryLimit),
		Default:     strconv.Itoa(DefaultHistoryLimit),
		Description: "Maximum stored conversation turns per user and server.",
	},
	{
		Key:         KeyContextTurns,
		Example:     strconv.Itoa(DefaultContextTurns),
		Default:     strconv.Itoa(DefaultContextTurns),
		Description: "Recent turns sent as context with each request.",
	},
	{
		Key:         KeyChatRate,
		Example:     strconv.Itoa(DefaultChatRate),
		Default:     strconv.Itoa(DefaultChatRate),
		Description: "Chat requests allowed per user per minute; 0 disables limiting.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken     string
	DiscordToken      string
	DiscordAppID      string
	DiscordGuildID    string
	BotOwnerID        string
	CompletionAPIKey  string
	CompletionModel   string
	CompletionBaseURL string
	CompletionTimeout time.Duration
	StorageBackend    string
	DataDir           string
	MongoURI          string
	MongoDB           string
	HistoryLimit      int
	ContextTurns      int
	ChatRatePerMinute int
	AppEnv            string
	LogLevel          string
	HTTPPort          int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:            firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:     strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		DiscordToken:      strings.TrimSpace(os.Getenv(KeyDiscordToken)),
		DiscordAppID:      strings.TrimSpace(os.Getenv(KeyDiscordAppID)),
		DiscordGuildID:    strings.TrimSpace(os.Getenv(KeyDiscordGuildID)),
		BotOwnerID:        strings.TrimSpace(os.Getenv(KeyBotOwner)),
		CompletionAPIKey:  strings.TrimSpace(os.Getenv(KeyCompletionAPIKey)),
		CompletionModel:   strings.TrimSpace(os.Getenv(KeyCompletionModel)),
		CompletionBaseURL: strings.TrimRight(firstNonEmpty(os.Getenv(KeyCompletionBaseURL), DefaultCompletionBaseURL), "/"),
		CompletionTimeout: DefaultCompletionTimeout,
		StorageBackend:    strings.ToLower(firstNonEmpty(os.Getenv(KeyStorageBackend), DefaultStorageBackend)),
		DataDir:           firstNonEmpty(os.Getenv(KeyDataDir), DefaultDataDir),
		MongoURI:          strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:           strings.TrimSpace(os.Getenv(KeyMongoDB)),
		HistoryLimit:      DefaultHistoryLimit,
		ContextTurns:      DefaultContextTurns,
		ChatRatePerMinute: DefaultChatRate,
		LogLevel:          firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:          DefaultHTTPPort,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" && cfg.DiscordToken == "" {
		missing = append(missing, KeyTelegramToken+" or "+KeyDiscordToken)
	}
	if cfg.DiscordToken != "" && cfg.DiscordAppID == "" {
		missing = append(missing, KeyDiscordAppID)
	}
	if cfg.CompletionAPIKey == "" {
		missing = append(missing, KeyCompletionAPIKey)
	}
	if cfg.CompletionModel == "" {
		missing = append(missing, KeyCompletionModel)
	}

	switch cfg.StorageBackend {
	case StorageFile:
	case StorageMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	default:
		return Config{}, fmt.Errorf("invalid %s: must be %q or %q", KeyStorageBackend, StorageFile, StorageMongo)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.MongoURI != "" && !validMongoURI(cfg.MongoURI) {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if raw := strings.TrimSpace(os.Getenv(KeyCompletionTimeout)); raw != "" {
		timeout, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyCompletionTimeout, parseErr)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyCompletionTimeout)
		}
		cfg.CompletionTimeout = timeout
	}

	if cfg.HTTPPort, err = intFromEnv(KeyHTTPPort, DefaultHTTPPort, 1); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = intFromEnv(KeyHistoryLimit, DefaultHistoryLimit, 1); err != nil {
		return Config{}, err
	}
	if cfg.ContextTurns, err = intFromEnv(KeyContextTurns, DefaultContextTurns, 0); err != nil {
		return Config{}, err
	}
	if cfg.ChatRatePerMinute, err = intFromEnv(KeyChatRate, DefaultChatRate, 0); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration with secrets masked, one key per line.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"telegram_token: " + redactSecret(cfg.TelegramToken),
		"discord_token: " + redactSecret(cfg.DiscordToken),
		"discord_app_id: " + cfg.DiscordAppID,
		"discord_guild_id: " + cfg.DiscordGuildID,
		"bot_owner: " + cfg.BotOwnerID,
		"completion_api_key: " + redactSecret(cfg.CompletionAPIKey),
		"completion_model: " + cfg.CompletionModel,
		"completion_base_url: " + cfg.CompletionBaseURL,
		"completion_timeout: " + cfg.CompletionTimeout.String(),
		"storage_backend: " + cfg.StorageBackend,
		"data_dir: " + cfg.DataDir,
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"history_limit: " + strconv.Itoa(cfg.HistoryLimit),
		"context_turns: " + strconv.Itoa(cfg.ContextTurns),
		"chat_rate_per_minute: " + strconv.Itoa(cfg.ChatRatePerMinute),
	}

	return strings.Join(lines, "\n")
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func intFromEnv(key string, fallback, minimum int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value < minimum {
		return 0, fmt.Errorf("%s must be at least %d", key, minimum)
	}

	return value, nil
}

func validMongoURI(uri string) bool {
	return strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://")
}

func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "...redacted"
	}
	return secret[:4] + "...redacted"
}

// redactURI drops the userinfo section of a connection string.
func redactURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd < 0 {
		return uri
	}

	rest := uri[schemeEnd+3:]
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}

	return uri[:schemeEnd+3] + rest
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
