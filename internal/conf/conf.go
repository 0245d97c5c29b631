package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devricklin/feishu-persona-bot/internal/biz/usecase"
)

// Config represents application configuration
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig

	// Generation backend configuration
	OpenAI OpenAIConfig

	// Persona identity and first-contact policy
	Persona PersonaIdentity

	// Store configuration
	Store StoreConfig

	// Wake sweep configuration
	Wake WakeConfig

	// Locale configuration
	Locale LocaleConfig

	// Admin API configuration
	Admin AdminConfig

	// Persona tuning (loaded from YAML)
	PersonaFile *PersonaConfig

	// Debug mode
	Debug bool
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
}

// OpenAIConfig contains backend configuration
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	CompletionModel string
	Temperature     float32
	Timeout         time.Duration
}

// PersonaIdentity contains who the persona is and who may start it
type PersonaIdentity struct {
	Handle   string   // mention handle without "@"
	Name     string   // informal name
	OwnerIDs []string // empty means anyone may start the bot
}

// StoreConfig contains store configuration
type StoreConfig struct {
	DBPath string
}

// WakeConfig contains wake sweep configuration
type WakeConfig struct {
	Schedule string // cron spec with a seconds field
	IdleDays int
}

// LocaleConfig contains localization configuration
type LocaleConfig struct {
	Locale string
	Dir    string // optional override catalogs
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Port int // 0 disables the admin API
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	// Store DB path
	dbPath := os.Getenv("STORE_DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".persona-bot", "store.db")
	}

	temperature := float32(0.7)
	if val := os.Getenv("OPENAI_TEMPERATURE"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 32); err == nil {
			temperature = float32(parsed)
		}
	}

	// Wake schedule, daily at 17:00 by default
	wakeSchedule := os.Getenv("WAKE_SCHEDULE")
	if wakeSchedule == "" {
		wakeSchedule = "0 0 17 * * *"
	}

	handle := os.Getenv("PERSONA_HANDLE")
	if handle == "" {
		handle = os.Getenv("FEISHU_BOT_NAME")
	}

	locale := os.Getenv("LOCALE")
	if locale == "" {
		locale = "en"
	}

	personaFile, err := LoadPersonaConfig(os.Getenv("PERSONA_CONFIG_PATH"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
		},
		OpenAI: OpenAIConfig{
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			BaseURL:         os.Getenv("OPENAI_BASE_URL"),
			ChatModel:       envOr("OPENAI_CHAT_MODEL", "gpt-4o"),
			CompletionModel: envOr("OPENAI_COMPLETION_MODEL", "gpt-3.5-turbo-instruct"),
			Temperature:     temperature,
			Timeout:         time.Duration(envInt("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Persona: PersonaIdentity{
			Handle:   handle,
			Name:     envOr("PERSONA_NAME", usecase.DefaultPipelineConfig.PersonaName),
			OwnerIDs: splitList(os.Getenv("OWNER_IDS")),
		},
		Store: StoreConfig{
			DBPath: dbPath,
		},
		Wake: WakeConfig{
			Schedule: wakeSchedule,
			IdleDays: envInt("WAKE_IDLE_DAYS", 3),
		},
		Locale: LocaleConfig{
			Locale: locale,
			Dir:    os.Getenv("LOCALE_DIR"),
		},
		Admin: AdminConfig{
			Port: envInt("ADMIN_API_PORT", 9876),
		},
		PersonaFile: personaFile,
		Debug:       os.Getenv("DEBUG") == "true",
	}, nil
}

func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// WakeIdle returns the idle threshold of the wake sweep
func (c *Config) WakeIdle() time.Duration {
	return time.Duration(c.Wake.IdleDays) * 24 * time.Hour
}

// ToPipelineConfig converts to the reply pipeline configuration. The persona
// is identified by the Feishu app id, the sender id of its own messages.
func (c *Config) ToPipelineConfig() usecase.PipelineConfig {
	p := c.PersonaFile
	if p == nil {
		p = DefaultPersonaConfig()
	}
	return usecase.PipelineConfig{
		PersonaID:        c.Feishu.AppID,
		PersonaName:      c.Persona.Name,
		PersonaHandle:    c.Persona.Handle,
		FormalMentions:   p.FormalMentions(c.Persona.Handle),
		InformalMentions: p.Mentions.Informal,
		MinusMinutes:     p.Window.MinusMinutes,
		MessagesLimit:    p.Window.Limit,
		AmbientEveryNth:  p.Window.AmbientEveryNth,
		AmbientMinLength: p.Window.AmbientMinLength,
		MessageCharLimit: p.Prompt.MessageCharLimit,
		MaxTokens:        p.Prompt.MaxTokens,
		MinReplyTokens:   p.Prompt.MinReplyTokens,
	}.WithDefaults()
}

// IsOwner reports whether userID may start the bot in a new conversation
func (c *Config) IsOwner(userID string) bool {
	if len(c.Persona.OwnerIDs) == 0 {
		return true
	}
	for _, id := range c.Persona.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	if c.OpenAI.APIKey == "" {
		return &ConfigError{Field: "OPENAI_API_KEY", Message: "required"}
	}
	// Bot mentions are rendered as @handle, formal mention matching needs it
	if strings.TrimSpace(c.Persona.Handle) == "" {
		return &ConfigError{Field: "PERSONA_HANDLE/FEISHU_BOT_NAME", Message: "required"}
	}
	if c.Wake.IdleDays <= 0 {
		return &ConfigError{Field: "WAKE_IDLE_DAYS", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
