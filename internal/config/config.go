// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DailyLimit is the service-side cap on exchanges per identity per day.
const DailyLimit = 20

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	Pretty      bool   `yaml:"pretty"`
}

// API describes the remote endpoints and the static headers they expect.
type API struct {
	Key               string            `yaml:"key"`
	VerifyURL         string            `yaml:"verify_url"`
	SignInURL         string            `yaml:"sign_in_url"`
	RefreshURL        string            `yaml:"refresh_url"`
	ExchangeURL       string            `yaml:"exchange_url"`
	StatsURL          string            `yaml:"stats_url"`
	Origin            string            `yaml:"origin"`
	Referer           string            `yaml:"referer"`
	TokenHeaders      map[string]string `yaml:"token_headers"`
	RequestTimeoutMs  int               `yaml:"request_timeout_ms"`
	ExchangeTimeoutMs int               `yaml:"exchange_timeout_ms"`
}

// Challenge holds the fixed parts of the sign-in message.
type Challenge struct {
	Domain  string `yaml:"domain"`
	URI     string `yaml:"uri"`
	Version string `yaml:"version"`
	ChainID string `yaml:"chain_id"`
}

// Proxy configures health probing.
type Proxy struct {
	ProbeURL         string `yaml:"probe_url"`
	ProbeTimeoutMs   int    `yaml:"probe_timeout_ms"`
	ProbeConcurrency int    `yaml:"probe_concurrency"`
}

// Run holds the pacing and retry knobs of the account loop.
type Run struct {
	ExchangesPerAccount int    `yaml:"exchanges_per_account"`
	DailyMax            int    `yaml:"daily_max"`
	RetryDelayMs        int    `yaml:"retry_delay_ms"`
	ForbiddenCooldownMs int    `yaml:"forbidden_cooldown_ms"`
	ForbiddenLimit      int    `yaml:"forbidden_limit"`
	PacingMinMs         int    `yaml:"pacing_min_ms"`
	PacingMaxMs         int    `yaml:"pacing_max_ms"`
	AccountPauseMs      int    `yaml:"account_pause_ms"`
	Schedule            string `yaml:"schedule"`
}

// Inputs points at the line-oriented input files.
type Inputs struct {
	KeysFile     string `yaml:"keys_file"`
	MessagesFile string `yaml:"messages_file"`
	ProxiesFile  string `yaml:"proxies_file"`
	EventsFile   string `yaml:"events_file"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App       `yaml:"app"`
	API        API       `yaml:"api"`
	Challenge  Challenge `yaml:"challenge"`
	Proxy      Proxy     `yaml:"proxy"`
	Run        Run       `yaml:"run"`
	Inputs     Inputs    `yaml:"inputs"`
	UserAgents []string  `yaml:"user_agents"`
}

// Default returns a configuration that works against the production service
// once an API key is supplied.
func Default() *Config {
	return &Config{
		App: App{Name: "bitbot", Env: "development", LogLevel: "info", Pretty: true},
		API: API{
			VerifyURL:   "https://quant-api.opengradient.ai/api/verify/solana",
			SignInURL:   "https://identitytoolkit.googleapis.com/v1/accounts:signInWithCustomToken",
			RefreshURL:  "https://securetoken.googleapis.com/v1/token",
			ExchangeURL: "https://quant-api.opengradient.ai/api/agent/run",
			StatsURL:    "https://quant-api.opengradient.ai/api/activity/stats",
			Origin:      "https://www.bitquant.io",
			Referer:     "https://www.bitquant.io/",
			TokenHeaders: map[string]string{
				"X-Client-Version": "Opera/JsCore/11.6.0/FirebaseCore-web",
			},
			RequestTimeoutMs:  30_000,
			ExchangeTimeoutMs: 60_000,
		},
		Challenge: Challenge{
			Domain:  "bitquant.io",
			URI:     "https://bitquant.io",
			Version: "1",
			ChainID: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		},
		Proxy: Proxy{ProbeURL: "http://www.google.com", ProbeTimeoutMs: 5_000, ProbeConcurrency: 16},
		Run: Run{
			DailyMax:            DailyLimit,
			RetryDelayMs:        3_000,
			ForbiddenCooldownMs: 5_000,
			ForbiddenLimit:      3,
			PacingMinMs:         8_000,
			PacingMaxMs:         12_000,
			AccountPauseMs:      2_000,
			Schedule:            "@every 24h",
		},
		Inputs: Inputs{KeysFile: "pk.txt", MessagesFile: "pesan.txt", ProxiesFile: "proxy.txt"},
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:116.0) Gecko/20100101 Firefox/116.0",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
		},
	}
}

// Load reads a YAML file from disk over the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks required fields and repairs out-of-range pacing values.
func (c *Config) Validate() error {
	if c.API.VerifyURL == "" || c.API.SignInURL == "" || c.API.RefreshURL == "" ||
		c.API.ExchangeURL == "" || c.API.StatsURL == "" {
		return errors.New("all api urls are required")
	}
	if c.Run.DailyMax <= 0 {
		c.Run.DailyMax = DailyLimit
	}
	if c.Run.ForbiddenLimit <= 0 {
		c.Run.ForbiddenLimit = 3
	}
	if c.Run.PacingMaxMs < c.Run.PacingMinMs {
		c.Run.PacingMinMs, c.Run.PacingMaxMs = c.Run.PacingMaxMs, c.Run.PacingMinMs
	}
	if c.Run.PacingMinMs < 0 {
		c.Run.PacingMinMs = 0
	}
	if c.Run.ExchangesPerAccount < 0 {
		return fmt.Errorf("exchanges_per_account must not be negative, got %d", c.Run.ExchangesPerAccount)
	}
	return nil
}

// ClampCount bounds an exchange count to the daily maximum. The second result
// reports whether n was lowered.
func (r Run) ClampCount(n int) (int, bool) {
	max := r.DailyMax
	if max <= 0 {
		max = DailyLimit
	}
	if n > max {
		return max, true
	}
	return n, false
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// RetryDelay is the pause between retry attempts.
func (r Run) RetryDelay() time.Duration { return ms(r.RetryDelayMs) }

// ForbiddenCooldown is the wait before re-authenticating after a 403.
func (r Run) ForbiddenCooldown() time.Duration { return ms(r.ForbiddenCooldownMs) }

// Pacing returns the bounds of the randomized sleep between exchanges.
func (r Run) Pacing() (min, max time.Duration) { return ms(r.PacingMinMs), ms(r.PacingMaxMs) }

// AccountPause is the gap between two accounts.
func (r Run) AccountPause() time.Duration { return ms(r.AccountPauseMs) }

// RequestTimeout bounds auth, refresh and stats calls.
func (a API) RequestTimeout() time.Duration { return ms(a.RequestTimeoutMs) }

// ExchangeTimeout bounds exchange calls.
func (a API) ExchangeTimeout() time.Duration { return ms(a.ExchangeTimeoutMs) }

// ProbeTimeout bounds a proxy health probe.
func (p Proxy) ProbeTimeout() time.Duration { return ms(p.ProbeTimeoutMs) }
