package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/listpush/internal/config"
	"github.com/ppiankov/listpush/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCLI isolates a test from the host: empty env, fresh working
// directory, default flag values and discarded logs. It returns the
// working directory.
func setupCLI(t *testing.T) string {
	t.Helper()
	for _, name := range []string{
		config.DefaultURLEnv, config.DefaultTokenEnv, config.DefaultSentryEnv,
		config.SourceEnv, config.PushgatewayEnv, config.LogLevelEnv,
	} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	{
		oldWD, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		if err := os.Chdir(dir); err != nil {
			t.Fatalf("chdir: %v", err)
		}
		t.Cleanup(func() { _ = os.Chdir(oldWD) })
	}

	oldOutput := logOutput
	oldConfig, oldLevel, oldFormat := configPath, logLevel, logFormat
	oldEvery, oldSchedule, oldPretty := runEvery, runSchedule, collectPretty
	oldCycle, oldLookPath, oldInitDir := newRunCycle, lookPath, initDir
	t.Cleanup(func() {
		logOutput = oldOutput
		configPath, logLevel, logFormat = oldConfig, oldLevel, oldFormat
		runEvery, runSchedule, collectPretty = oldEvery, oldSchedule, oldPretty
		newRunCycle, lookPath, initDir = oldCycle, oldLookPath, oldInitDir
	})

	logOutput = io.Discard
	configPath, logLevel, logFormat = "", "", ""
	runEvery, runSchedule, collectPretty = "", "", false
	initDir = "."
	return dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

// testCommand returns a bare command whose output lands in the returned buffer.
func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetIn(&bytes.Buffer{})
	return cmd, &out
}

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestExecuteVersion(t *testing.T) {
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
}

func TestRootHasCommands(t *testing.T) {
	for _, name := range []string{"run", "collect", "push", "doctor", "init", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, pipeline.ExitOK},
		{"plain error", errors.New("boom"), pipeline.ExitFailure},
		{"exit error", &exitError{code: 2, err: errors.New("bad flag")}, pipeline.ExitConfigError},
		{"missing setting", &config.MissingError{Name: "INGEST_TOKEN"}, pipeline.ExitConfigError},
		{"wrapped exit error", errors.Join(errors.New("ctx"), &exitError{code: 1, err: errors.New("x")}), pipeline.ExitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), tt.name)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	setupCLI(t)
	logLevel = "debug"
	logFormat = "json"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_InvalidOverrideIsConfigError(t *testing.T) {
	setupCLI(t)
	logFormat = "xml"

	_, err := loadConfig()
	require.Error(t, err)
	assert.Equal(t, pipeline.ExitConfigError, ExitCode(err))
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	dir := setupCLI(t)
	configPath = filepath.Join(dir, "nope.yaml")

	_, err := loadConfig()
	require.Error(t, err)
	assert.Equal(t, pipeline.ExitConfigError, ExitCode(err))
}
