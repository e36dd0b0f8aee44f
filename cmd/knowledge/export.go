package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/csvdoc"
)

func newExportSlackCmd(opts *options) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "export-slack <channel-id> <out.csv>",
		Short: "Export a channel's messages and thread replies",
		Long: `Export every message of a channel, thread replies included, as
user,text,ts,thread_ts,thread_url,source. The bot joins public channels it
is not a member of.

Example:
  knowledge export-slack C0123456789 general.csv --raw`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Slack.BotToken == "" {
				return errors.New("SLACK_BOT_TOKEN is not set")
			}

			exporter := adapter.NewSlackAdapter(newSlackClient(cfg), cfg.Knowledge)
			records, err := exporter.ExportChannel(cmd.Context(), args[0], raw)
			if err != nil {
				return err
			}
			data, err := csvdoc.MarshalSlackRecords(records, raw)
			if err != nil {
				return err
			}
			if err := writeFile(args[1], data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(records), args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Include the raw message JSON as a raw_data column")
	return cmd
}

func newExportNotionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export-notion <database-id> <out.csv> [knowledge-type]",
		Short: "Export the pages of a Notion database as Dify rows",
		Long: `Export each page of a database as one row: the page title as parent_text
and the text of its blocks, sub-pages included, as child_text. With a
knowledge type only pages whose select property matches are exported.

Example:
  knowledge export-notion 0f1e2d3c4b5a69788796a5b4c3d2e1f0 faq.csv FAQ`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Notion.Token == "" {
				return errors.New("NOTION_TOKEN is not set")
			}

			knowledgeType := ""
			if len(args) == 3 {
				knowledgeType = args[2]
			}

			exporter := adapter.NewNotionAdapter(newNotionClient(cfg), cfg.Notion, cfg.Knowledge)
			rows, err := exporter.ExportDatabase(cmd.Context(), args[0], knowledgeType)
			if err != nil {
				return err
			}
			return writeRows(cmd, args[1], rows)
		},
	}
}

func newExportNotionPageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export-notion-page <page-id> <out.csv>",
		Short: "Export a single Notion page and its sub-pages as one Dify row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Notion.Token == "" {
				return errors.New("NOTION_TOKEN is not set")
			}

			exporter := adapter.NewNotionAdapter(newNotionClient(cfg), cfg.Notion, cfg.Knowledge)
			rows, err := exporter.ExportPage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeRows(cmd, args[1], rows)
		},
	}
}

func writeRows(cmd *cobra.Command, path string, rows []csvdoc.DifyRow) error {
	data, err := csvdoc.MarshalDifyRows(rows)
	if err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(rows), path)
	return nil
}
