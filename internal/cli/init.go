package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ppiankov/listpush/internal/config"
	"github.com/spf13/cobra"
)

var initDir string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config and .env template",
	Args:  cobra.NoArgs,
	RunE:  initAction,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory to write the files into")
}

func initAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if err := os.MkdirAll(initDir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	created := 0
	files := []struct {
		name string
		data string
		perm os.FileMode
	}{
		{config.DefaultConfigFile, exampleConfig, 0o644},
		{config.DefaultDotEnvFile + ".example", exampleDotEnv, 0o600},
	}
	for _, f := range files {
		wrote, err := writeIfNotExists(out, filepath.Join(initDir, f.name), []byte(f.data), f.perm)
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Fprintf(out, "%s already initialized.\n", initDir)
	} else {
		fmt.Fprintf(out, "Initialized %s with %d files.\n", initDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(out io.Writer, path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# listpush configuration

source:
  list: "1981892452895117355"   # overridden by TW_LIST

scraper:
  command: ["snscrape", "--jsonl", "twitter-list-posts"]
  timeout: 10m

ingest:
  # url: https://feed.example.org/api/ingest-tweets
  url_env: INGEST_URL
  token_env: INGEST_TOKEN
  timeout: 60s

log:
  level: info    # debug, info, warn, error
  format: text   # text or json

metrics:
  pushgateway_url: ""   # or LISTPUSH_PUSHGATEWAY_URL

sentry:
  dsn_env: LISTPUSH_SENTRY_DSN
  environment: production
`

const exampleDotEnv = `INGEST_URL=https://feed.example.org/api/ingest-tweets
INGEST_TOKEN=
# TW_LIST=1981892452895117355
# LISTPUSH_SENTRY_DSN=
# LISTPUSH_PUSHGATEWAY_URL=
`
