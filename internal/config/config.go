package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	REST     RESTConfig     `yaml:"rest"`
	WS       WSConfig       `yaml:"ws"`
	State    StateConfig    `yaml:"state"`
	Pairs    PairsConfig    `yaml:"pairs"`
	Engine   EngineConfig   `yaml:"engine"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	History  HistoryConfig  `yaml:"history"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitCalls  int           `yaml:"rate_limit_calls"`
	RateLimitPeriod time.Duration `yaml:"rate_limit_period"`

	// Credentials come from the environment only, never from the file.
	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	Subaccount string `yaml:"-"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type PairsConfig struct {
	QuoteCurrency  string        `yaml:"quote_currency"`
	DenyList       []string      `yaml:"deny_list"`
	AllowList      []string      `yaml:"allow_list"`
	FundingWindow  time.Duration `yaml:"funding_window"`
	FundingRefresh time.Duration `yaml:"funding_refresh"`
}

type EngineConfig struct {
	ExecuteInterval time.Duration `yaml:"execute_interval"`
	GCInterval      time.Duration `yaml:"gc_interval"`
	AlarmInterval   time.Duration `yaml:"alarm_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	BufferSize int    `yaml:"buffer_size"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://ftx.com/api"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RateLimitCalls == 0 {
		cfg.REST.RateLimitCalls = 30
	}
	if cfg.REST.RateLimitPeriod == 0 {
		cfg.REST.RateLimitPeriod = time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://ftx.com/ws/"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 15 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/ftx-arb-bot.db"
	}
	if cfg.Pairs.QuoteCurrency == "" {
		cfg.Pairs.QuoteCurrency = "USD"
	}
	if cfg.Pairs.FundingWindow == 0 {
		cfg.Pairs.FundingWindow = 6 * time.Hour
	}
	if cfg.Pairs.FundingRefresh == 0 {
		cfg.Pairs.FundingRefresh = time.Hour
	}
	if cfg.Engine.ExecuteInterval == 0 {
		cfg.Engine.ExecuteInterval = 30 * time.Second
	}
	if cfg.Engine.GCInterval == 0 {
		cfg.Engine.GCInterval = 10 * time.Minute
	}
	if cfg.Engine.AlarmInterval == 0 {
		cfg.Engine.AlarmInterval = time.Minute
	}
	if cfg.History.Table == "" {
		cfg.History.Table = "pair_observations"
	}
	if cfg.History.BufferSize == 0 {
		cfg.History.BufferSize = 1024
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FTX_API_KEY"); v != "" {
		cfg.REST.APIKey = v
	}
	if v := os.Getenv("FTX_API_SECRET"); v != "" {
		cfg.REST.APISecret = v
	}
	if v := os.Getenv("FTX_SUBACCOUNT"); v != "" {
		cfg.REST.Subaccount = v
	}
}

func validate(cfg *Config) error {
	if cfg.REST.RateLimitCalls < 0 {
		return errors.New("rest.rate_limit_calls must be >= 0")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}
