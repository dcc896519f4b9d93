package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/observability"
	"github.com/xkilldash9x/headline-cli/internal/workitem"
)

// newProduceCmd creates the `produce` command, which turns CSV rows into queued work items.
func newProduceCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Enqueue the rows of a CSV file as work items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.Named(nil, "produce")
			path := appCfg.Input.CSVPath
			if cmd.Flags().Changed("input") {
				path = input
			}

			items, err := workitem.LoadCSV(path, time.Now(), logger)
			if err != nil {
				return err
			}
			q, err := workitem.Dial(ctx, appCfg.Queue, logger)
			if err != nil {
				return err
			}
			defer q.Close()

			if err := q.Push(ctx, items...); err != nil {
				return err
			}
			logger.Info("Work items produced.", zap.String("path", path), zap.Int("count", len(items)))
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d work item(s) on %s\n", len(items), q.Key())
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV file of work items (default from input.csv_path)")
	return cmd
}
