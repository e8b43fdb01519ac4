package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const appName = "stockanalyzer"

var validate = validator.New()

type Config struct {
	Watchlist    Watchlist    `yaml:"watchlist"`
	Analysis     Analysis     `yaml:"analysis"`
	Market       Market       `yaml:"market"`
	Search       Search       `yaml:"search"`
	LLM          LLM          `yaml:"llm"`
	Notification Notification `yaml:"notification"`
	Schedule     Schedule     `yaml:"schedule"`
	Output       Output       `yaml:"output"`
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
}

// Watchlist is the ordered set of symbols analyzed by default. When the
// environment variable named by Env is set, it replaces Symbols.
type Watchlist struct {
	Symbols []string `yaml:"symbols"`
	Env     string   `yaml:"env" default:"STOCK_LIST"`
}

type Analysis struct {
	BatchSize           int           `yaml:"batch_size" default:"5" validate:"min=1"`
	MaxWorkers          int           `yaml:"max_workers" default:"3" validate:"min=1"`
	LLMBatchSize        int           `yaml:"llm_batch_size" default:"5" validate:"min=1"`
	BatchDelay          time.Duration `yaml:"batch_delay" default:"0s"`
	ReportType          string        `yaml:"report_type" default:"simple" validate:"oneof=simple full"`
	SaveContextSnapshot bool          `yaml:"save_context_snapshot" default:"true"`
	EnableChip          bool          `yaml:"enable_chip_distribution" default:"true"`
	MaxSearchesSingle   int           `yaml:"max_searches_single" default:"5" validate:"min=0,max=5"`
	MaxSearchesBatch    int           `yaml:"max_searches_batch" default:"3" validate:"min=0,max=5"`
}

type Market struct {
	Sources           []string      `yaml:"sources" default:"[\"yahoo\"]" validate:"min=1,dive,oneof=yahoo"`
	YahooBaseURL      string        `yaml:"yahoo_base_url" default:"https://query1.finance.yahoo.com" validate:"url"`
	RequestTimeout    time.Duration `yaml:"request_timeout" default:"15s"`
	QuoteCacheTTL     time.Duration `yaml:"quote_cache_ttl" default:"60s"`
	RetryAttempts     int           `yaml:"retry_attempts" default:"3" validate:"min=1"`
	PrefetchThreshold int           `yaml:"prefetch_threshold" default:"5" validate:"min=1"`
}

type Search struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	MaxResults      int           `yaml:"max_results" default:"5" validate:"min=1"`
	DaysBack        int           `yaml:"days_back" default:"7" validate:"min=1"`
	FeedURLTemplate string        `yaml:"feed_url_template" default:"https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en"`
	FetchContent    bool          `yaml:"fetch_content" default:"false"`
	NewsAPI         NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled" default:"true"`
	APIKeyEnv string `yaml:"api_key_env" default:"NEWSAPI_KEY"`
}

type LLM struct {
	Provider    string `yaml:"provider" default:"ollama" validate:"oneof=ollama openai"`
	Model       string `yaml:"model" default:"qwen2.5:7b"`
	OllamaURL   string `yaml:"ollama_url" default:"http://localhost:11434"`
	OpenAIModel string `yaml:"openai_model" default:"gpt-4o-mini"`
	APIKeyEnv   string `yaml:"api_key_env" default:"OPENAI_API_KEY"`
	MaxTokens   int    `yaml:"max_tokens" default:"1024" validate:"min=64"`
}

type Notification struct {
	Channels          []string       `yaml:"channels"`
	SingleStockNotify bool           `yaml:"single_stock_notify"`
	Telegram          TelegramConfig `yaml:"telegram"`
	Webhook           WebhookConfig  `yaml:"webhook"`
	Email             EmailConfig    `yaml:"email"`
	WeChat            WeChatConfig   `yaml:"wechat"`
	Discord           WebhookConfig  `yaml:"discord"`
	ReplyTimeout      time.Duration  `yaml:"reply_timeout" default:"10s"`
}

type TelegramConfig struct {
	BotTokenEnv string `yaml:"bot_token_env" default:"TELEGRAM_BOT_TOKEN"`
	ChatID      string `yaml:"chat_id"`
}

type WebhookConfig struct {
	URL string `yaml:"url"`
}

type EmailConfig struct {
	SMTPHost    string `yaml:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port" default:"587"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env" default:"SMTP_PASSWORD"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
}

type WeChatConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	MaxBytes   int    `yaml:"max_bytes" default:"4000" validate:"min=200"`
}

type Schedule struct {
	Time       string `yaml:"time" default:"18:00" validate:"datetime=15:04"`
	Timezone   string `yaml:"timezone" default:"Local"`
	RunOnStart bool   `yaml:"run_on_start"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port" default:"8000" validate:"min=1,max=65535"`
}

type Logging struct {
	Level string `yaml:"level" default:"info"`
	File  bool   `yaml:"file" default:"true"`
}

// ConfigDir returns the XDG config directory.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", appName)
}

// DataDir returns the XDG data directory.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", appName)
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/stockanalyzer/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'stockanalyzer init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse populates defaults, overlays the YAML document and validates.
func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", e.Namespace(), e.Tag(), e.Value()))
			}
			return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// ReportDir is where rendered reports are saved.
func (c *Config) ReportDir() string {
	return filepath.Join(c.GetDataDir(), "reports")
}

// DBPath is the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), appName+".db")
}

// Location returns the configured schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" || c.Schedule.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

// List returns the current watchlist. The environment override is re-read on
// every call so long-running schedules pick up edits.
func (w Watchlist) List() []string {
	raw := w.Symbols
	if w.Env != "" {
		if env := strings.TrimSpace(os.Getenv(w.Env)); env != "" {
			raw = strings.Split(env, ",")
		}
	}
	return NormalizeSymbols(raw)
}

// NormalizeSymbols trims, upper-cases and de-duplicates symbols, keeping
// first-seen order.
func NormalizeSymbols(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
