package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	SecretKey   string `env:"SECRET_KEY" envDefault:"dev-secret-key-change-in-production"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"chat.db"`
	Addr        string `env:"ADDR" envDefault:":5000"`

	// DeepSeek API settings
	DeepSeekAPIKey  string `env:"DEEPSEEK_API_KEY,required"`
	DeepSeekBaseURL string `env:"DEEPSEEK_BASE_URL" envDefault:"https://api.deepseek.com"`
	DeepSeekModel   string `env:"DEEPSEEK_MODEL" envDefault:"deepseek-chat"`

	// Optional completion tracing backend. Key, project and workspace
	// must all be set for tracing to be enabled; the endpoint falls
	// back to the exporter's default when empty.
	TraceAPIKey    string `env:"TRACE_API_KEY"`
	TraceProject   string `env:"TRACE_PROJECT"`
	TraceWorkspace string `env:"TRACE_WORKSPACE"`
	TraceEndpoint  string `env:"TRACE_ENDPOINT"`

	// Chat limits
	MaxMessageLength        int `env:"MAX_MESSAGE_LENGTH" envDefault:"2000"`
	MaxConversationMessages int `env:"MAX_CONVERSATION_MESSAGES" envDefault:"100"`
}

// Load reads configuration from the environment, after loading a .env
// file when one is present. A missing DEEPSEEK_API_KEY is an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// TracingEnabled reports whether completion tracing credentials are
// fully configured.
func (c *Config) TracingEnabled() bool {
	return c.TraceAPIKey != "" && c.TraceProject != "" && c.TraceWorkspace != ""
}
