package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrNoProvider = errors.New("no enabled provider found in config")

// providerOrder decides which enabled provider wins when several are on.
var providerOrder = []string{"openai", "openrouter", "gemini"}

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Server    ServerConfig              `json:"server" yaml:"server"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Browser   BrowserConfig             `json:"browser" yaml:"browser"`
	Analysis  AnalysisConfig            `json:"analysis" yaml:"analysis"`
	Logging   LoggingConfig             `json:"logging" yaml:"logging"`
	Policy    PolicyConfig              `json:"policy" yaml:"policy"`
}

type AppConfig struct {
	Name string `json:"name" yaml:"name"`
}

type ServerConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	Metrics    bool   `json:"metrics" yaml:"metrics"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// BrowserConfig durations are in milliseconds.
type BrowserConfig struct {
	Headless          bool   `json:"headless" yaml:"headless"`
	Width             int    `json:"width" yaml:"width"`
	Height            int    `json:"height" yaml:"height"`
	UserAgent         string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	ExecPath          string `json:"exec_path,omitempty" yaml:"exec_path,omitempty"`
	NavigationTimeout int    `json:"navigation_timeout_ms" yaml:"navigation_timeout_ms"`
	ProbeTimeout      int    `json:"probe_timeout_ms" yaml:"probe_timeout_ms"`
	DismissProbe      int    `json:"dismiss_probe_ms" yaml:"dismiss_probe_ms"`
	ScrollSettle      int    `json:"scroll_settle_ms" yaml:"scroll_settle_ms"`
	AddToCartSettle   int    `json:"add_to_cart_settle_ms" yaml:"add_to_cart_settle_ms"`
}

type AnalysisConfig struct {
	PromptsDir       string `json:"prompts_dir" yaml:"prompts_dir"`
	CommentaryTokens int    `json:"commentary_max_tokens" yaml:"commentary_max_tokens"`
	ReportTokens     int    `json:"report_max_tokens" yaml:"report_max_tokens"`
	HTMLExcerpt      int    `json:"html_excerpt_chars" yaml:"html_excerpt_chars"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Transcript string `json:"transcript" yaml:"transcript"`
}

type PolicyConfig struct {
	DeniedHosts    []string `json:"denied_hosts" yaml:"denied_hosts"`
	DeniedPatterns []string `json:"denied_patterns" yaml:"denied_patterns"`
	AllowPrivate   bool     `json:"allow_private" yaml:"allow_private"`
}

// Default is the configuration used when no file is present.
func Default() *Config {
	return &Config{
		App:       AppConfig{Name: "storescout"},
		Server:    ServerConfig{ListenAddr: ":8080", Metrics: true},
		Gateways:  map[string]GatewayConfig{},
		Providers: map[string]ProviderConfig{},
		Browser: BrowserConfig{
			Headless:          true,
			Width:             1440,
			Height:            900,
			NavigationTimeout: 15000,
			ProbeTimeout:      1000,
			DismissProbe:      250,
			ScrollSettle:      500,
			AddToCartSettle:   2000,
		},
		Analysis: AnalysisConfig{
			PromptsDir:       "./prompts",
			CommentaryTokens: 1000,
			ReportTokens:     8000,
			HTMLExcerpt:      8000,
		},
		Logging: LoggingConfig{Level: "info", Transcript: "logs/llm.jsonl"},
	}
}

// Load reads a JSON or YAML config file, chosen by extension, over the
// defaults and then applies environment overrides. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if c.Gateways == nil {
		c.Gateways = map[string]GatewayConfig{}
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}

	if v := getenv("STORESCOUT_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := getenv("STORESCOUT_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}

	keys := map[string]string{
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
		"gemini":     "GEMINI_API_KEY",
	}
	for name, env := range keys {
		if v := getenv(env); v != "" {
			p := c.Providers[name]
			p.APIKey = v
			p.Enabled = true
			c.Providers[name] = p
		}
	}

	tokens := map[string]string{
		"telegram": "TELEGRAM_BOT_TOKEN",
		"discord":  "DISCORD_BOT_TOKEN",
	}
	for name, env := range tokens {
		if v := getenv(env); v != "" {
			g := c.Gateways[name]
			g.Token = v
			g.Enabled = true
			c.Gateways[name] = g
		}
	}
}

// GetDefaultProvider returns the first enabled provider with a key.
func (c *Config) GetDefaultProvider() (string, ProviderConfig, error) {
	for _, name := range providerOrder {
		if p, ok := c.Providers[name]; ok && p.Enabled && p.APIKey != "" {
			return name, p, nil
		}
	}
	return "", ProviderConfig{}, ErrNoProvider
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
