package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ppiankov/listpush/internal/pipeline"
	"github.com/ppiankov/listpush/internal/record"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <file|->",
	Short: "Deliver a saved batch to the ingest endpoint",
	Long: "Read a batch written by `listpush collect` (or any {\"tweets\":[...]} document) " +
		"and submit it once. Use - to read from stdin.",
	Args: cobra.ExactArgs(1),
	RunE: pushAction,
}

func pushAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireDelivery(); err != nil {
		return &exitError{code: pipeline.ExitConfigError, err: err}
	}
	logger := newLogger(cfg)

	batch, err := readBatch(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	d, err := newDeliverer(cfg, logger)
	if err != nil {
		return &exitError{code: pipeline.ExitConfigError, err: err}
	}
	receipt, err := d.Deliver(commandContext(cmd), batch.Tweets)
	if err != nil {
		return &exitError{code: pipeline.ExitFailure, err: err}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Success: %d tweets inserted\n", receipt.Inserted)
	return nil
}

func readBatch(stdin io.Reader, path string) (record.Batch, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return record.Batch{}, fmt.Errorf("read batch: %w", err)
	}

	var batch record.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return record.Batch{}, fmt.Errorf("parse batch: %w", err)
	}
	for i, r := range batch.Tweets {
		if err := r.Validate(); err != nil {
			return record.Batch{}, fmt.Errorf("tweet %d: %w", i, err)
		}
	}
	if len(batch.Tweets) > record.MaxRecords {
		return record.Batch{}, fmt.Errorf("batch has %d tweets, at most %d allowed", len(batch.Tweets), record.MaxRecords)
	}
	return record.NewBatch(batch.Tweets), nil
}
