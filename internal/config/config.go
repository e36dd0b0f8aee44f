package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Slack     SlackConfig     `yaml:"slack"`
	Dify      DifyConfig      `yaml:"dify"`
	Bot       BotConfig       `yaml:"bot"`
	Store     StoreConfig     `yaml:"store"`
	S3        S3Config        `yaml:"s3"`
	Notion    NotionConfig    `yaml:"notion"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Storage   StorageConfig   `yaml:"storage"`
	Health    HealthConfig    `yaml:"health"`
}

// SlackConfig holds Slack credentials
type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
	Debug         bool   `yaml:"debug"`
}

// DifyConfig defines Dify API settings
type DifyConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	DatasetAPIKey string        `yaml:"dataset_api_key"`
	ResponseMode  string        `yaml:"response_mode"`
	UserPrefix    string        `yaml:"user_prefix"`
	Timeout       time.Duration `yaml:"timeout"`
}

// BotConfig holds the relay bot profile
type BotConfig struct {
	Profile ProfileConfig `yaml:"profile"`
}

// ProfileConfig selects how the bot reacts to messages. Every bot variant is a
// different profile of the same handler.
type ProfileConfig struct {
	Name              string        `yaml:"name"`
	Trigger           string        `yaml:"trigger"`            // mention, dm or both
	ConversationScope string        `yaml:"conversation_scope"` // thread or user
	Categories        []string      `yaml:"categories"`
	AmbiguousKeywords []string      `yaml:"ambiguous_keywords"`
	PromptTemplate    string        `yaml:"prompt_template"`
	FileUpload        bool          `yaml:"file_upload"`
	ShowThoughts      bool          `yaml:"show_thoughts"`
	UpdateInterval    time.Duration `yaml:"update_interval"`
	MaxMessageBytes   int           `yaml:"max_message_bytes"`
	PlaceholderText   string        `yaml:"placeholder_text"`
	ApologyText       string        `yaml:"apology_text"`
	DedupWindow       time.Duration `yaml:"dedup_window"`
	ConversationTTL   time.Duration `yaml:"conversation_ttl"`
}

// StoreConfig selects the key-value backend for transient bot state
type StoreConfig struct {
	Type          string `yaml:"type"` // memory, redis or postgres
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// S3Config defines where shared Slack files are mirrored
type S3Config struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// NotionConfig defines Notion API settings
type NotionConfig struct {
	Token                 string `yaml:"token"`
	BaseURL               string `yaml:"base_url"`
	KnowledgeTypeProperty string `yaml:"knowledge_type_property"`
}

// KnowledgeConfig defines the knowledge sync
type KnowledgeConfig struct {
	Enabled         bool                    `yaml:"enabled"`
	Interval        time.Duration           `yaml:"interval"`
	ChunkBytes      int                     `yaml:"chunk_bytes"`
	RowsPerFile     int                     `yaml:"rows_per_file"`
	ReplaceExisting bool                    `yaml:"replace_existing"`
	SlackChannels   []SlackChannelMapping   `yaml:"slack_channels"`
	NotionDatabases []NotionDatabaseMapping `yaml:"notion_databases"`
	LocalFolders    []LocalFolderMapping    `yaml:"local_folders"`
	MessageLimit    int                     `yaml:"message_limit"`
}

// SlackChannelMapping maps a Slack channel to a Dify dataset
type SlackChannelMapping struct {
	ChannelID   string `yaml:"channel_id"`
	ChannelName string `yaml:"channel_name"`
	DatasetID   string `yaml:"dataset_id"`
}

// NotionDatabaseMapping maps a Notion database to a Dify dataset
type NotionDatabaseMapping struct {
	DatabaseID    string `yaml:"database_id"`
	KnowledgeType string `yaml:"knowledge_type"`
	DatasetID     string `yaml:"dataset_id"`
}

// LocalFolderMapping maps a local folder of CSV files to a Dify dataset
type LocalFolderMapping struct {
	FolderPath string `yaml:"folder_path"`
	DatasetID  string `yaml:"dataset_id"`
}

// StorageConfig defines local storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HealthConfig defines the health server
type HealthConfig struct {
	Port int `yaml:"port"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Dify: DifyConfig{
			BaseURL:      "https://api.dify.ai",
			ResponseMode: "streaming",
			UserPrefix:   "slack-",
			Timeout:      5 * time.Minute,
		},
		Bot: BotConfig{
			Profile: ProfileConfig{
				Name:              "default",
				Trigger:           "both",
				ConversationScope: "thread",
				AmbiguousKeywords: []string{"相談", "質問", "help"},
				UpdateInterval:    1500 * time.Millisecond,
				MaxMessageBytes:   3900,
				PlaceholderText:   "考え中です...",
				ApologyText:       "申し訳ありません。エラーが発生しました。しばらくしてから再度お試しください。",
				DedupWindow:       time.Minute,
			},
		},
		Store: StoreConfig{
			Type:      "memory",
			RedisAddr: "localhost:6379",
		},
		S3: S3Config{
			Region: "ap-northeast-1",
			Prefix: "slack-files",
		},
		Notion: NotionConfig{
			BaseURL:               "https://api.notion.com",
			KnowledgeTypeProperty: "ナレッジ種別",
		},
		Knowledge: KnowledgeConfig{
			Interval:     time.Hour,
			ChunkBytes:   15 * 1024 * 1024,
			RowsPerFile:  30,
			MessageLimit: 1000,
		},
		Storage: StorageConfig{
			Path: "/data",
		},
		Health: HealthConfig{
			Port: 8080,
		},
	}
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			logrus.Debugf("Loading configuration from: %s", path)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else {
			logrus.Debugf("Config file does not exist at: %s, using defaults and environment", path)
		}
	}

	// Override with environment variables
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Slack.BotToken = getEnv("SLACK_BOT_TOKEN", cfg.Slack.BotToken)
	cfg.Slack.AppToken = getEnv("SLACK_APP_TOKEN", cfg.Slack.AppToken)
	cfg.Slack.SigningSecret = getEnv("SLACK_SIGNING_SECRET", cfg.Slack.SigningSecret)
	cfg.Dify.BaseURL = strings.TrimRight(getEnv("DIFY_BASE_URL", cfg.Dify.BaseURL), "/")
	cfg.Dify.APIKey = getEnv("DIFY_API_KEY", cfg.Dify.APIKey)
	cfg.Dify.DatasetAPIKey = getEnv("DIFY_DATASET_API_KEY", cfg.Dify.DatasetAPIKey)
	cfg.Notion.Token = getEnv("NOTION_TOKEN", cfg.Notion.Token)
	cfg.Store.RedisAddr = getEnv("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.PostgresDSN = getEnv("POSTGRES_DSN", cfg.Store.PostgresDSN)
	cfg.S3.Bucket = getEnv("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnv("AWS_REGION", cfg.S3.Region)
	cfg.Storage.Path = getEnv("STORAGE_PATH", cfg.Storage.Path)
	cfg.Health.Port = getEnvInt("HEALTH_PORT", cfg.Health.Port)

	return cfg, nil
}

// ValidateBot reports every setting the relay bot cannot start without.
func (c *Config) ValidateBot() error {
	var missing []string
	if c.Slack.BotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}
	if c.Slack.AppToken == "" {
		missing = append(missing, "SLACK_APP_TOKEN")
	}
	if c.Dify.APIKey == "" {
		missing = append(missing, "DIFY_API_KEY")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if err := missingError(missing); err != nil {
		return err
	}

	switch c.Bot.Profile.Trigger {
	case "mention", "dm", "both":
	default:
		return fmt.Errorf("invalid bot trigger %q: must be mention, dm or both", c.Bot.Profile.Trigger)
	}
	switch c.Bot.Profile.ConversationScope {
	case "thread", "user":
	default:
		return fmt.Errorf("invalid conversation scope %q: must be thread or user", c.Bot.Profile.ConversationScope)
	}
	return nil
}

// ValidateKnowledge reports every setting the knowledge upload cannot run without.
func (c *Config) ValidateKnowledge() error {
	var missing []string
	if c.Dify.DatasetAPIKey == "" {
		missing = append(missing, "DIFY_DATASET_API_KEY")
	}
	if len(c.Knowledge.SlackChannels) > 0 && c.Slack.BotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}
	if len(c.Knowledge.NotionDatabases) > 0 && c.Notion.Token == "" {
		missing = append(missing, "NOTION_TOKEN")
	}
	return missingError(missing)
}

func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return errors.New("missing required configuration: " + strings.Join(missing, ", "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Ignoring %s=%q: not an integer", key, value)
		return defaultValue
	}
	return n
}
