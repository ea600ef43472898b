package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "BITBOT"

// Overrides are the settings most often supplied per machine rather than per file.
type Overrides struct {
	APIKey       string `envconfig:"API_KEY"`
	ChatCount    int    `envconfig:"CHAT_COUNT"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	MetricsAddr  string `envconfig:"METRICS_ADDR"`
	KeysFile     string `envconfig:"KEYS_FILE"`
	MessagesFile string `envconfig:"MESSAGES_FILE"`
	ProxiesFile  string `envconfig:"PROXIES_FILE"`
	EventsFile   string `envconfig:"EVENTS_FILE"`
}

// ApplyEnv loads .env when present and applies BITBOT_* variables over cfg.
func ApplyEnv(cfg *Config) error {
	_ = godotenv.Load() // best-effort

	var o Overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	o.apply(cfg)
	return nil
}

func (o Overrides) apply(cfg *Config) {
	setString(&cfg.API.Key, o.APIKey)
	setString(&cfg.App.LogLevel, o.LogLevel)
	setString(&cfg.App.MetricsAddr, o.MetricsAddr)
	setString(&cfg.Inputs.KeysFile, o.KeysFile)
	setString(&cfg.Inputs.MessagesFile, o.MessagesFile)
	setString(&cfg.Inputs.ProxiesFile, o.ProxiesFile)
	setString(&cfg.Inputs.EventsFile, o.EventsFile)
	if o.ChatCount > 0 {
		cfg.Run.ExchangesPerAccount = o.ChatCount
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
