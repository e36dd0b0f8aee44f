package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"LOG_LEVEL", "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN", "SLACK_SIGNING_SECRET",
	"DIFY_BASE_URL", "DIFY_API_KEY", "DIFY_DATASET_API_KEY", "NOTION_TOKEN",
	"REDIS_ADDR", "POSTGRES_DSN", "S3_BUCKET", "AWS_REGION", "STORAGE_PATH", "HEALTH_PORT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("non-existent-config.yaml")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.Storage.Path != "/data" {
		t.Errorf("Expected storage path '/data', got '%s'", cfg.Storage.Path)
	}
	if cfg.Dify.BaseURL != "https://api.dify.ai" {
		t.Errorf("Expected Dify base URL 'https://api.dify.ai', got '%s'", cfg.Dify.BaseURL)
	}
	if cfg.Bot.Profile.UpdateInterval != 1500*time.Millisecond {
		t.Errorf("Expected update interval 1.5s, got %v", cfg.Bot.Profile.UpdateInterval)
	}
	if cfg.Bot.Profile.MaxMessageBytes != 3900 {
		t.Errorf("Expected max message bytes 3900, got %d", cfg.Bot.Profile.MaxMessageBytes)
	}
	if cfg.Notion.KnowledgeTypeProperty != "ナレッジ種別" {
		t.Errorf("Unexpected knowledge type property %q", cfg.Notion.KnowledgeTypeProperty)
	}
	if cfg.Knowledge.RowsPerFile != 30 {
		t.Errorf("Expected 30 rows per file, got %d", cfg.Knowledge.RowsPerFile)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Expected memory store, got %q", cfg.Store.Type)
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
log_level: debug
storage:
  path: /custom/data
dify:
  base_url: "https://dify.internal"
  api_key: "app-key"
  timeout: 30s
bot:
  profile:
    name: consult
    trigger: mention
    conversation_scope: user
    categories: ["勤怠", "経費", "IT"]
    update_interval: 2s
    file_upload: true
store:
  type: redis
  redis_addr: "redis:6379"
  redis_db: 2
knowledge:
  enabled: true
  interval: 2h
  slack_channels:
    - channel_id: C123
      channel_name: general
      dataset_id: ds-1
  notion_databases:
    - database_id: db-1
      knowledge_type: FAQ
      dataset_id: ds-2
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config from file: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.Storage.Path != "/custom/data" {
		t.Errorf("Expected storage path '/custom/data', got '%s'", cfg.Storage.Path)
	}
	if cfg.Dify.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", cfg.Dify.Timeout)
	}
	// untouched defaults survive a partial file
	if cfg.Dify.ResponseMode != "streaming" {
		t.Errorf("Expected response mode 'streaming', got %q", cfg.Dify.ResponseMode)
	}
	p := cfg.Bot.Profile
	if p.Name != "consult" || p.Trigger != "mention" || p.ConversationScope != "user" {
		t.Errorf("Unexpected profile: %+v", p)
	}
	if len(p.Categories) != 3 || p.Categories[0] != "勤怠" {
		t.Errorf("Unexpected categories: %v", p.Categories)
	}
	if p.UpdateInterval != 2*time.Second {
		t.Errorf("Expected update interval 2s, got %v", p.UpdateInterval)
	}
	if !p.FileUpload {
		t.Error("Expected file upload to be enabled")
	}
	if cfg.Store.Type != "redis" || cfg.Store.RedisAddr != "redis:6379" || cfg.Store.RedisDB != 2 {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if cfg.Knowledge.Interval != 2*time.Hour {
		t.Errorf("Expected knowledge interval 2h, got %v", cfg.Knowledge.Interval)
	}
	if len(cfg.Knowledge.SlackChannels) != 1 || cfg.Knowledge.SlackChannels[0].DatasetID != "ds-1" {
		t.Errorf("Unexpected slack channels: %+v", cfg.Knowledge.SlackChannels)
	}
	if len(cfg.Knowledge.NotionDatabases) != 1 || cfg.Knowledge.NotionDatabases[0].KnowledgeType != "FAQ" {
		t.Errorf("Unexpected notion databases: %+v", cfg.Knowledge.NotionDatabases)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	configContent := `
dify:
  base_url: "https://from-file"
  api_key: "file-key"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("DIFY_BASE_URL", "https://from-env/")
	t.Setenv("DIFY_API_KEY", "env-key")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("STORAGE_PATH", "/env/data")
	t.Setenv("HEALTH_PORT", "9090")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Dify.BaseURL != "https://from-env" {
		t.Errorf("Expected env base URL without trailing slash, got %q", cfg.Dify.BaseURL)
	}
	if cfg.Dify.APIKey != "env-key" {
		t.Errorf("Expected env api key, got %q", cfg.Dify.APIKey)
	}
	if cfg.Slack.BotToken != "xoxb-env" {
		t.Errorf("Expected env bot token, got %q", cfg.Slack.BotToken)
	}
	if cfg.Storage.Path != "/env/data" {
		t.Errorf("Expected env storage path, got %q", cfg.Storage.Path)
	}
	if cfg.Health.Port != 9090 {
		t.Errorf("Expected health port 9090, got %d", cfg.Health.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("bot: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestValidateBot(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name: "all set",
			mutate: func(c *Config) {
				c.Slack.BotToken, c.Slack.AppToken, c.Dify.APIKey = "b", "a", "k"
			},
		},
		{
			name:    "everything missing",
			mutate:  func(c *Config) {},
			wantErr: []string{"SLACK_BOT_TOKEN", "SLACK_APP_TOKEN", "DIFY_API_KEY"},
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.Slack.BotToken, c.Slack.AppToken, c.Dify.APIKey = "b", "a", "k"
				c.S3.Enabled = true
			},
			wantErr: []string{"S3_BUCKET"},
		},
		{
			name: "bad trigger",
			mutate: func(c *Config) {
				c.Slack.BotToken, c.Slack.AppToken, c.Dify.APIKey = "b", "a", "k"
				c.Bot.Profile.Trigger = "always"
			},
			wantErr: []string{"invalid bot trigger"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateBot()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Expected error to mention %q, got %v", want, err)
				}
			}
		})
	}
}

func TestValidateKnowledge(t *testing.T) {
	cfg := Default()
	cfg.Knowledge.NotionDatabases = []NotionDatabaseMapping{{DatabaseID: "db"}}

	err := cfg.ValidateKnowledge()
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "DIFY_DATASET_API_KEY") || !strings.Contains(err.Error(), "NOTION_TOKEN") {
		t.Errorf("Expected both missing keys in error, got %v", err)
	}

	cfg.Dify.DatasetAPIKey = "ds"
	cfg.Notion.Token = "secret"
	if err := cfg.ValidateKnowledge(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
