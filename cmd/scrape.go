package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/config"
	"github.com/xkilldash9x/headline-cli/internal/engine"
	"github.com/xkilldash9x/headline-cli/internal/export"
	"github.com/xkilldash9x/headline-cli/internal/observability"
	"github.com/xkilldash9x/headline-cli/internal/workitem"
)

// newScrapeCmd creates and configures the `scrape` command.
func newScrapeCmd() *cobra.Command {
	var (
		input     string
		fromQueue bool
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run work items through the site search and export the articles",
		Long: `Reads work items (phrase, section, sort_by, results) from a CSV file or the Redis
queue, runs each one in its own browser page and writes every collected article to the
configured spreadsheet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *appCfg
			if cmd.Flags().Changed("input") {
				cfg.Input.CSVPath = input
			}
			return runScrape(cmd.Context(), cmd.OutOrStdout(), &cfg, fromQueue, observability.Named(nil, "scrape"))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV file of work items (default from input.csv_path)")
	cmd.Flags().BoolVar(&fromQueue, "queue", false, "consume work items from the Redis queue")
	cmd.MarkFlagsMutuallyExclusive("input", "queue")
	return cmd
}

func runScrape(ctx context.Context, out io.Writer, cfg *config.Config, fromQueue bool, logger *zap.Logger) error {
	var (
		src  workitem.Source
		opts []engine.Option
	)
	if fromQueue {
		q, err := workitem.Dial(ctx, cfg.Queue, logger)
		if err != nil {
			return err
		}
		defer q.Close()
		src = q
		opts = append(opts, engine.WithFailureReporter(q))
	} else {
		items, err := workitem.LoadCSV(cfg.Input.CSVPath, time.Now(), logger)
		if err != nil {
			return err
		}
		logger.Info("Loaded work items.", zap.String("path", cfg.Input.CSVPath), zap.Int("count", len(items)))
		src = workitem.NewSliceSource(items)
	}

	launcher, err := engine.NewLauncher(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := launcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown incomplete.", zap.Error(err))
		}
	}()

	if cfg.Output.DownloadImages {
		opts = append(opts, engine.WithDownloader(export.NewDownloader(cfg.Output, nil, logger)))
	}
	eng, err := engine.New(cfg, launcher, logger, opts...)
	if err != nil {
		return err
	}

	report, err := eng.Run(ctx, src)
	printReport(out, report, cfg.Output.Spreadsheet)
	return err
}

func printReport(out io.Writer, r engine.Report, spreadsheet string) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ITEM\tPHRASE\tSTATE\tARTICLES\tOUTCOME\n")
	for _, it := range r.Items {
		outcome := it.Outcome.String()
		if it.Err != nil {
			outcome = it.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", it.Item.ID, it.Item.Payload.Phrase, it.State, len(it.Articles), outcome)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "run %s: %d item(s), %d article(s), %d failure(s) -> %s\n",
		r.RunID, len(r.Items), r.Articles, r.Failures, spreadsheet)
}
