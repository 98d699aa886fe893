package cli

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/listpush/internal/collect"
	"github.com/ppiankov/listpush/internal/pipeline"
	"github.com/ppiankov/listpush/internal/record"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var collectPretty bool

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Scrape the list and print the batch without delivering it",
	Long: "Run the scraper and print the bounded, newest-first batch as ingestion JSON " +
		"on stdout. The output can be delivered later with `listpush push`.",
	Args: cobra.NoArgs,
	RunE: collectAction,
}

func init() {
	collectCmd.Flags().BoolVar(&collectPretty, "pretty", false, "indent the JSON output")
}

func collectAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	collector, err := newCollector(cfg, logger)
	if err != nil {
		return err
	}

	res := collector.Collect(commandContext(cmd))
	if res.Outcome == collect.Failed {
		return &exitError{code: pipeline.ExitFailure, err: res.Err}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	if collectPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(record.NewBatch(res.Records)); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"collected": len(res.Records),
		"skipped":   res.Skipped,
	}).Info("collection finished")
	return nil
}
