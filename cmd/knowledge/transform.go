package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/csvdoc"
)

func newTransformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transform <in.csv> <out.csv>",
		Short: "Turn a Slack export into parent/child rows",
		Long: `Group a Slack export by thread: one row per parent message with its
replies joined by newlines. Replies whose parent is not in the export are
dropped and counted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			records, err := csvdoc.UnmarshalSlackRecords(data)
			if err != nil {
				return err
			}

			rows, orphans := csvdoc.ToDifyRows(records)
			out, err := csvdoc.MarshalDifyRows(rows)
			if err != nil {
				return err
			}
			if err := writeFile(args[1], out); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(rows), args[1])
			if orphans > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Dropped %d replies without a parent\n", orphans)
			}
			return nil
		},
	}
}

func newSplitCmd() *cobra.Command {
	var maxBytes, rows int

	cmd := &cobra.Command{
		Use:   "split <in.csv> <out-prefix>",
		Short: "Split a CSV into parts with the header repeated",
		Long: `Split a CSV into <out-prefix>_1.csv, <out-prefix>_2.csv, ... Parts are
limited by encoded size (--bytes, default 15 MiB) or by row count (--rows).
Rows are never split.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("bytes") && cmd.Flags().Changed("rows") {
				return errors.New("--bytes and --rows cannot be combined")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			table, err := csvdoc.ReadTable(bytes.NewReader(data))
			if err != nil {
				return err
			}

			var parts []*csvdoc.Table
			if rows > 0 {
				parts = csvdoc.ChunkByRows(table, rows)
			} else {
				parts, err = csvdoc.ChunkBySize(table, maxBytes)
				if err != nil {
					return err
				}
			}

			for i, part := range parts {
				out, err := part.Bytes()
				if err != nil {
					return err
				}
				path := fmt.Sprintf("%s_%d.csv", args[1], i+1)
				if err := writeFile(path, out); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Split %d rows into %d parts\n", len(table.Rows), len(parts))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxBytes, "bytes", config.Default().Knowledge.ChunkBytes, "Maximum size of a part in bytes")
	cmd.Flags().IntVar(&rows, "rows", 0, "Maximum number of rows per part")
	return cmd
}
