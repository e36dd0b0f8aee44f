// Command knowledge exports Slack and Notion content as CSV, reshapes it for
// Dify and uploads it into datasets.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/dify"
)

// Clients are created through these so tests can swap them out.
var (
	newSlackClient = func(cfg *config.Config) *slack.Client {
		return slack.New(cfg.Slack.BotToken, slack.OptionDebug(cfg.Slack.Debug))
	}
	newNotionClient = func(cfg *config.Config) *adapter.NotionClient {
		return adapter.NewNotionClient(cfg.Notion.BaseURL, cfg.Notion.Token)
	}
	newDatasetClient = func(cfg *config.Config) dify.DatasetClient {
		return dify.NewClient(cfg.Dify.BaseURL, cfg.Dify.APIKey, dify.WithDatasetAPIKey(cfg.Dify.DatasetAPIKey))
	}
)

type options struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "knowledge",
		Short: "Build and upload Dify knowledge from Slack and Notion",
		Long: `knowledge turns Slack channels and Notion databases into Dify-ready CSV
documents (parent_timestamp, parent_text, child_text) and uploads them.

Credentials are read from the environment or a .env file:
  SLACK_BOT_TOKEN, NOTION_TOKEN, DIFY_BASE_URL, DIFY_DATASET_API_KEY`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newExportSlackCmd(opts),
		newExportNotionCmd(opts),
		newExportNotionPageCmd(opts),
		newTransformCmd(),
		newSplitCmd(),
		newUploadCmd(opts),
		newSyncCmd(opts),
		newInviteCmd(opts),
	)
	return root
}

// load reads the configuration and applies the log level.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	levelName := cfg.LogLevel
	if o.logLevel != "" {
		levelName = o.logLevel
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	return cfg, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
