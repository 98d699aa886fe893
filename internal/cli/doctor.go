package cli

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/ppiankov/listpush/internal/pipeline"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and the scraper",
	Args:  cobra.NoArgs,
	RunE:  doctorAction,
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

func doctorAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	ok := true

	cfg, err := loadConfig()
	if err != nil {
		printCheck(out, false, "config: %v", err)
		return &exitError{code: pipeline.ExitConfigError, err: fmt.Errorf("some checks failed")}
	}
	printCheck(out, true, "config (list %s)", cfg.Source.List)

	if cfg.Ingest.URL == "" {
		printCheck(out, false, "%s is not set", cfg.Ingest.URLEnv)
		ok = false
	} else {
		printCheck(out, true, "ingest url %s", cfg.Ingest.URL)
	}
	if cfg.Ingest.Token == "" {
		printCheck(out, false, "%s is not set", cfg.Ingest.TokenEnv)
		ok = false
	} else {
		printCheck(out, true, "ingest token (%s)", cfg.Ingest.TokenEnv)
	}

	scraper := cfg.Scraper.Command[0]
	if path, err := lookPath(scraper); err != nil {
		printCheck(out, false, "%s not found (pip install snscrape)", scraper)
		ok = false
	} else {
		printCheck(out, true, "scraper %s", path)
	}

	if cfg.Metrics.PushgatewayURL != "" {
		printInfo(out, "metrics pushed to %s", cfg.Metrics.PushgatewayURL)
	}
	if cfg.Sentry.DSN != "" {
		printInfo(out, "errors reported to Sentry")
	}

	if !ok {
		return &exitError{code: pipeline.ExitConfigError, err: fmt.Errorf("some checks failed")}
	}
	fmt.Fprintln(out, "\nAll checks passed.")
	return nil
}

func printCheck(w io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
