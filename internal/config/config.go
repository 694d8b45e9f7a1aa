package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv       = "KIDNEY_ALLOCATOR_CONFIG"
	databaseDSNEnv      = "DATABASE_DSN"
	logLevelEnv         = "LOG_LEVEL"
	telegramTokenEnv    = "TELEGRAM_BOT_TOKEN"
	transportURLEnv     = "TRANSPORT_DISPATCH_URL"
	transportAPIKeyEnv  = "TRANSPORT_API_KEY"
	defaultSweepEvery   = time.Minute
	defaultParallelism  = 4
	defaultTopMatches   = 10
	defaultRosterSource = "html"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Roster        RosterConfig       `yaml:"roster"`
	Ranking       RankingConfig      `yaml:"ranking"`
	Offers        OffersConfig       `yaml:"offers"`
	Notifications NotificationConfig `yaml:"notifications"`
	Transport     TransportConfig    `yaml:"transport"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes Postgres connection details.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RosterConfig picks the snapshot source ("html" or "postgres").
type RosterConfig struct {
	Source string `yaml:"source"`
	// Location is a file path or http(s) URL of the HTML roster export.
	Location string `yaml:"location"`
}

// RankingConfig tunes the match ranker.
type RankingConfig struct {
	Parallelism int `yaml:"parallelism"`
	TopMatches  int `yaml:"topMatches"`
}

// OffersConfig controls the background expiry sweep (zero disables it) and
// whether each available donor is offered to its best free candidate on start.
type OffersConfig struct {
	SweepInterval time.Duration `yaml:"sweepInterval"`
	AutoOffer     bool          `yaml:"autoOffer"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig maps clinician usernames to Telegram chats.
type TelegramConfig struct {
	BotToken string            `yaml:"botToken"`
	Chats    map[string]string `yaml:"chats"`
}

// TransportConfig points at the organ transport coordination service.
type TransportConfig struct {
	DispatchURL string `yaml:"dispatchUrl"`
	APIKey      string `yaml:"apiKey"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(transportURLEnv); v != "" {
		c.Transport.DispatchURL = v
	}

	if v := os.Getenv(transportAPIKeyEnv); v != "" {
		c.Transport.APIKey = v
	}
}

func (c *Config) normalize() {
	if c.Ranking.Parallelism <= 0 {
		c.Ranking.Parallelism = defaultParallelism
	}
	if c.Ranking.TopMatches <= 0 {
		c.Ranking.TopMatches = defaultTopMatches
	}
	if c.Offers.SweepInterval < 0 {
		c.Offers.SweepInterval = 0
	}
	if c.Roster.Source == "" {
		c.Roster.Source = defaultRosterSource
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Roster.Source != "" {
		base.Roster.Source = override.Roster.Source
	}
	if override.Roster.Location != "" {
		base.Roster.Location = override.Roster.Location
	}

	if override.Ranking.Parallelism != 0 {
		base.Ranking.Parallelism = override.Ranking.Parallelism
	}
	if override.Ranking.TopMatches != 0 {
		base.Ranking.TopMatches = override.Ranking.TopMatches
	}

	if override.Offers.SweepInterval != 0 {
		base.Offers.SweepInterval = override.Offers.SweepInterval
	}
	if override.Offers.AutoOffer {
		base.Offers.AutoOffer = true
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if len(override.Notifications.Telegram.Chats) > 0 {
		base.Notifications.Telegram.Chats = override.Notifications.Telegram.Chats
	}

	if override.Transport.DispatchURL != "" {
		base.Transport.DispatchURL = override.Transport.DispatchURL
	}
	if override.Transport.APIKey != "" {
		base.Transport.APIKey = override.Transport.APIKey
	}

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{DSN: ""},
		Roster:   RosterConfig{Source: defaultRosterSource, Location: "roster.html"},
		Ranking:  RankingConfig{Parallelism: defaultParallelism, TopMatches: defaultTopMatches},
		Offers:   OffersConfig{SweepInterval: defaultSweepEvery},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", Chats: map[string]string{}},
		},
		Transport: TransportConfig{DispatchURL: "", APIKey: ""},
		Metrics:   MetricsConfig{Addr: ""},
	}
}
