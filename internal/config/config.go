package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "WORKITEMS_ETL_CONFIG"
	organizationEnv   = "AZURE_DEVOPS_ORG"
	projectEnv        = "AZURE_DEVOPS_PROJECT"
	patEnv            = "AZURE_DEVOPS_PAT"
	datasetPathEnv    = "DATASET_PATH"
	journalDSNEnv     = "DATABASE_DSN"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Source        SourceConfig       `yaml:"source"`
	Dataset       DatasetConfig      `yaml:"dataset"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Journal       JournalConfig      `yaml:"journal"`
	Notifications NotificationConfig `yaml:"notifications"`
	Normalize     NormalizeConfig    `yaml:"normalize"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// SourceConfig describes the tracking API to enumerate.
type SourceConfig struct {
	BaseURL         string `yaml:"baseUrl"`
	Organization    string `yaml:"organization"`
	Project         string `yaml:"project"`
	PAT             string `yaml:"-"`
	PageSize        int    `yaml:"pageSize"`
	CommentPageSize int    `yaml:"commentPageSize"`
	MaxRetries      int    `yaml:"maxRetries"`
}

// DatasetConfig describes where and under what collection name to publish.
type DatasetConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// PipelineConfig bounds the internal parallelism of a run.
type PipelineConfig struct {
	FetchConcurrency     int `yaml:"fetchConcurrency"`
	NormalizeConcurrency int `yaml:"normalizeConcurrency"`
}

// JournalConfig enables the optional Postgres run journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// NormalizeConfig carries the normalization tables that are configuration
// inputs rather than code: the author alias map (mention GUIDs and
// display-name variants to one canonical name) and extra noise patterns.
type NormalizeConfig struct {
	Authors       map[string]string `yaml:"authors"`
	NoisePatterns []string          `yaml:"noisePatterns"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(organizationEnv); v != "" {
		c.Source.Organization = v
	}

	if v := os.Getenv(projectEnv); v != "" {
		c.Source.Project = v
	}

	if v := os.Getenv(patEnv); v != "" {
		c.Source.PAT = v
	}

	if v := os.Getenv(datasetPathEnv); v != "" {
		c.Dataset.Path = v
	}

	if v := os.Getenv(journalDSNEnv); v != "" {
		c.Journal.DSN = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Source.BaseURL != "" {
		base.Source.BaseURL = override.Source.BaseURL
	}
	if override.Source.Organization != "" {
		base.Source.Organization = override.Source.Organization
	}
	if override.Source.Project != "" {
		base.Source.Project = override.Source.Project
	}
	if override.Source.PageSize > 0 {
		base.Source.PageSize = override.Source.PageSize
	}
	if override.Source.CommentPageSize > 0 {
		base.Source.CommentPageSize = override.Source.CommentPageSize
	}
	if override.Source.MaxRetries > 0 {
		base.Source.MaxRetries = override.Source.MaxRetries
	}

	if override.Dataset.Path != "" {
		base.Dataset.Path = override.Dataset.Path
	}
	if override.Dataset.Collection != "" {
		base.Dataset.Collection = override.Dataset.Collection
	}

	if override.Pipeline.FetchConcurrency > 0 {
		base.Pipeline.FetchConcurrency = override.Pipeline.FetchConcurrency
	}
	if override.Pipeline.NormalizeConcurrency > 0 {
		base.Pipeline.NormalizeConcurrency = override.Pipeline.NormalizeConcurrency
	}

	if override.Journal.DSN != "" {
		base.Journal.DSN = override.Journal.DSN
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if len(override.Normalize.Authors) > 0 {
		base.Normalize.Authors = override.Normalize.Authors
	}
	if len(override.Normalize.NoisePatterns) > 0 {
		base.Normalize.NoisePatterns = override.Normalize.NoisePatterns
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Source: SourceConfig{
			BaseURL:         "https://dev.azure.com",
			PageSize:        200,
			CommentPageSize: 100,
			MaxRetries:      4,
		},
		Dataset: DatasetConfig{
			Path:       "./dataset",
			Collection: "workitems",
		},
		Pipeline: PipelineConfig{
			FetchConcurrency:     8,
			NormalizeConcurrency: 4,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
