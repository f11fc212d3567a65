// ABOUTME: Configuration loading and parsing for wagateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete wagateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Admin     AdminConfig     `yaml:"admin"`
	Limits    LimitsConfig    `yaml:"limits"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WebhookConfig holds inbound webhook verification configuration.
// AppSecret signs payloads (X-Hub-Signature-256); leaving it empty disables
// signature verification entirely, a development convenience that the
// server logs loudly at startup.
type WebhookConfig struct {
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret"`
}

// WhatsAppConfig holds the outbound transport configuration
type WhatsAppConfig struct {
	Token      string `yaml:"token"`
	APIBaseURL string `yaml:"api_base_url"`

	SendTimeout time.Duration `yaml:"-"`
	ChunkDelay  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SendTimeoutRaw string `yaml:"send_timeout"`
	ChunkDelayRaw  string `yaml:"chunk_delay"`
}

// OpenAIConfig holds the AI collaborator configuration
type OpenAIConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`

	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// AdminConfig holds operator access configuration. Token gates the HTTP
// admin endpoints; Users lists sender IDs allowed to run /admin commands.
type AdminConfig struct {
	Token string   `yaml:"token"`
	Users []string `yaml:"users"`
}

// LimitsConfig holds message and admission control limits
type LimitsConfig struct {
	ConversationWindow int `yaml:"conversation_window"`
	MaxMessageLength   int `yaml:"max_message_length"`
	RatePerMinute      int `yaml:"rate_per_minute"`
}

// RetentionConfig holds conversation retention configuration
type RetentionConfig struct {
	Timeout         time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`

	TimeoutRaw         string `yaml:"timeout"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" (colorized) or "json"
}

const defaultSystemPrompt = "You are a helpful AI assistant integrated with WhatsApp. " +
	"Provide clear, concise and friendly responses, and keep them short when possible " +
	"so they read well on a phone."

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the file may omit
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = "https://graph.facebook.com/v18.0"
	}
	if c.WhatsApp.SendTimeout == 0 {
		c.WhatsApp.SendTimeout = 30 * time.Second
	}
	if c.WhatsApp.ChunkDelay == 0 {
		c.WhatsApp.ChunkDelay = 500 * time.Millisecond
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-3.5-turbo"
	}
	if c.OpenAI.SystemPrompt == "" {
		c.OpenAI.SystemPrompt = defaultSystemPrompt
	}
	if c.OpenAI.MaxTokens == 0 {
		c.OpenAI.MaxTokens = 1000
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = 0.7
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 30 * time.Second
	}
	if c.Limits.ConversationWindow == 0 {
		c.Limits.ConversationWindow = 10
	}
	if c.Limits.MaxMessageLength == 0 {
		c.Limits.MaxMessageLength = 4000
	}
	if c.Limits.RatePerMinute == 0 {
		c.Limits.RatePerMinute = 30
	}
	if c.Retention.Timeout == 0 {
		c.Retention.Timeout = 24 * time.Hour
	}
	if c.Retention.CleanupInterval == 0 {
		c.Retention.CleanupInterval = time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// A failure here is fatal: the process must not start serving traffic.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Webhook.VerifyToken == "" {
		return fmt.Errorf("webhook.verify_token is required")
	}
	if c.WhatsApp.Token == "" {
		return fmt.Errorf("whatsapp.token is required")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.WhatsApp.SendTimeoutRaw, &cfg.WhatsApp.SendTimeout, "whatsapp.send_timeout"},
		{cfg.WhatsApp.ChunkDelayRaw, &cfg.WhatsApp.ChunkDelay, "whatsapp.chunk_delay"},
		{cfg.OpenAI.TimeoutRaw, &cfg.OpenAI.Timeout, "openai.timeout"},
		{cfg.Retention.TimeoutRaw, &cfg.Retention.Timeout, "retention.timeout"},
		{cfg.Retention.CleanupIntervalRaw, &cfg.Retention.CleanupInterval, "retention.cleanup_interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
