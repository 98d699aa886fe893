package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/listpush/internal/config"
	"github.com/ppiankov/listpush/internal/pipeline"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	runEvery    string
	runSchedule string
)

// newRunCycle builds the function that performs one full run. Tests swap it out.
var newRunCycle = func(cfg *config.Config, logger *logrus.Logger) (func(ctx context.Context) pipeline.Report, error) {
	a, err := newApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	return a.cycle, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape the list and deliver the batch",
	Long: "Run one collect-and-deliver cycle. With --every or --schedule, run once " +
		"immediately and then keep running on that schedule until interrupted.",
	Args: cobra.NoArgs,
	RunE: runAction,
}

func init() {
	runCmd.Flags().StringVar(&runEvery, "every", "", "repeat at this interval (e.g. 30m)")
	runCmd.Flags().StringVar(&runSchedule, "schedule", "", "repeat on a cron schedule (e.g. \"*/30 * * * *\")")
}

func runAction(cmd *cobra.Command, _ []string) error {
	interval, err := parseRunEvery(runEvery)
	if err != nil {
		return &exitError{code: pipeline.ExitConfigError, err: err}
	}
	spec, err := scheduleSpec(interval, runSchedule)
	if err != nil {
		return &exitError{code: pipeline.ExitConfigError, err: err}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	flush := initSentry(cfg, logger)
	defer flush()

	cycle, err := newRunCycle(cfg, logger)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	if spec == "" {
		rep := cycle(ctx)
		if code := rep.ExitCode(); code != pipeline.ExitOK {
			return &exitError{code: code, err: fmt.Errorf("run ended in %s: %w", rep.State, rep.Err)}
		}
		return nil
	}

	// A scheduled process without credentials would fail every tick.
	if err := cfg.RequireDelivery(); err != nil {
		return &exitError{code: pipeline.ExitConfigError, err: err}
	}
	logger.WithField("schedule", spec).Info("running on schedule")
	return runScheduled(ctx, spec, logger, func() { cycle(ctx) })
}

// cycle runs the pipeline once and ships its side effects: metrics to the
// pushgateway and failures to Sentry.
func (a *app) cycle(ctx context.Context) pipeline.Report {
	rep := a.runner.Run(ctx)
	if a.recorder.Enabled() {
		if err := a.recorder.Push(); err != nil {
			a.logger.WithError(err).Warn("metrics push failed")
		}
	}
	reportFailure(rep, a.cfg.Source.List)
	return rep
}

func parseRunEvery(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	interval, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --every value %q: %w", value, err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("invalid --every value %q: must be > 0", value)
	}

	return interval, nil
}

// scheduleSpec turns the scheduling flags into a cron spec. An empty result
// means run once.
func scheduleSpec(interval time.Duration, schedule string) (string, error) {
	switch {
	case interval > 0 && schedule != "":
		return "", fmt.Errorf("--every and --schedule are mutually exclusive")
	case interval > 0:
		return "@every " + interval.String(), nil
	case schedule != "":
		if _, err := cron.ParseStandard(schedule); err != nil {
			return "", fmt.Errorf("invalid --schedule value %q: %w", schedule, err)
		}
		return schedule, nil
	}
	return "", nil
}

// runScheduled runs fn immediately, then on spec until ctx is done. A tick
// that fires while the previous run is still going is skipped.
func runScheduled(ctx context.Context, spec string, logger *logrus.Logger, fn func()) error {
	cronLogger := &cronLoggerAdapter{logger: logger}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
		))

	if _, err := c.AddFunc(spec, fn); err != nil {
		return &exitError{code: pipeline.ExitConfigError, err: fmt.Errorf("schedule %q: %w", spec, err)}
	}

	fn()
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	<-ctx.Done()
	logger.Info("shutting down, waiting for the current run")
	<-c.Stop().Done()
	return nil
}

type cronLoggerAdapter struct {
	logger *logrus.Logger
}

func (l *cronLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithField("fields", keysAndValues).Debug(msg)
}

func (l *cronLoggerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).
		WithField("fields", keysAndValues).
		Error(msg)
}
