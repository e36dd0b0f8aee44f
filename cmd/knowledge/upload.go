package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/bot"
	"github.com/ops-euc-admin/ops-app-repo/internal/sync"
)

func newUploadCmd(opts *options) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "upload <dataset-id> <file.csv>...",
		Short: "Upload CSV files as documents into a dataset",
		Long: `Create one dataset document per file, named after the file. With
--replace, documents of the same name are deleted first and their removal is
awaited before the upload.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Dify.DatasetAPIKey == "" {
				return errors.New("DIFY_DATASET_API_KEY is not set")
			}

			manager, err := sync.NewManager(newDatasetClient(cfg), cfg.Knowledge, cfg.Storage)
			if err != nil {
				return err
			}

			datasetID := args[0]
			var failed int
			for _, path := range args[1:] {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				doc, err := manager.UploadDocument(cmd.Context(), datasetID, filepath.Base(path), content, replace)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Failed to upload %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as document %s\n", path, doc.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args)-1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Delete documents with the same name before uploading")
	return cmd
}

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync of every configured knowledge source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateKnowledge(); err != nil {
				return err
			}

			var slackClient adapter.SlackHistoryClient
			if len(cfg.Knowledge.SlackChannels) > 0 {
				slackClient = newSlackClient(cfg)
			}
			adapters, err := adapter.FromConfig(cfg, slackClient)
			if err != nil {
				return err
			}
			if len(adapters) == 0 {
				return errors.New("no knowledge sources configured")
			}

			manager, err := sync.NewManager(newDatasetClient(cfg), cfg.Knowledge, cfg.Storage)
			if err != nil {
				return err
			}
			if err := manager.SyncFiles(cmd.Context(), adapters); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d sources\n", len(adapters))
			return nil
		},
	}
}

func newInviteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invite <channel-id> <user-id>...",
		Short: "Invite users into a channel the bot is a member of",
		Long: `Invite users (for example the knowledge maintainers) into a channel
through the bot, so a private channel can be shared before it is exported.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Slack.BotToken == "" {
				return errors.New("SLACK_BOT_TOKEN is not set")
			}

			client := bot.NewSlackClient(newSlackClient(cfg), 0)
			if err := client.InviteUsers(cmd.Context(), args[0], args[1:]...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invited %d users to %s\n", len(args)-1, args[0])
			return nil
		},
	}
}
