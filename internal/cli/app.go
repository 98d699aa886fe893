package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/ppiankov/listpush/internal/collect"
	"github.com/ppiankov/listpush/internal/config"
	"github.com/ppiankov/listpush/internal/deliver"
	"github.com/ppiankov/listpush/internal/metrics"
	"github.com/ppiankov/listpush/internal/pipeline"
	"github.com/ppiankov/listpush/internal/privacy"
	"github.com/sirupsen/logrus"
)

// logOutput is where logs go; stdout stays free for command output.
var logOutput io.Writer = os.Stderr

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(logOutput)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	// Validate already rejected unknown levels.
	level, _ := logrus.ParseLevel(cfg.Log.Level)
	logger.SetLevel(level)
	return logger
}

func newCollector(cfg *config.Config, logger logrus.FieldLogger) (*collect.Collector, error) {
	c, err := collect.New(cfg.Scraper.Command, cfg.Source.List, cfg.Scraper.Timeout.Duration, logger)
	if err != nil {
		return nil, &exitError{code: pipeline.ExitConfigError, err: err}
	}
	return c, nil
}

func newDeliverer(cfg *config.Config, logger logrus.FieldLogger) (*deliver.Deliverer, error) {
	return deliver.New(cfg.Ingest.URL, cfg.Ingest.Token,
		deliver.WithTimeout(cfg.Ingest.Timeout.Duration),
		deliver.WithUserAgent("listpush/"+Version),
		deliver.WithLogger(logger),
	)
}

// app bundles what a run needs, built once per process.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	recorder *metrics.Recorder
	runner   *pipeline.Runner
}

func newApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	collector, err := newCollector(cfg, logger)
	if err != nil {
		return nil, err
	}
	recorder := metrics.New(cfg.Metrics.PushgatewayURL)
	factory := func(cfg *config.Config) (pipeline.Deliverer, error) {
		return newDeliverer(cfg, logger)
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		runner:   pipeline.New(cfg, collector, factory, logger, recorder),
	}, nil
}

// initSentry enables error reporting when a DSN is configured. The returned
// func flushes pending events and is safe to call either way.
func initSentry(cfg *config.Config, logger logrus.FieldLogger) func() {
	if cfg.Sentry.DSN == "" {
		return func() {}
	}
	redactor, err := privacy.New([]string{cfg.Ingest.Token}, cfg.Sentry.Redact)
	if err != nil {
		logger.WithError(err).Warn("sentry disabled")
		return func() {}
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     fmt.Sprintf("listpush@%s", Version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event, redactor)
		},
	})
	if err != nil {
		logger.WithError(err).Warn("sentry disabled")
		return func() {}
	}
	return func() { sentry.Flush(2 * time.Second) }
}

// scrubEvent removes the ingest token and configured patterns from every
// part of an event that can carry error text, including the source lines
// attached to stack frames.
func scrubEvent(event *sentry.Event, r *privacy.Redactor) *sentry.Event {
	event.Message = r.Apply(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = r.Apply(event.Exception[i].Value)
		scrubStacktrace(event.Exception[i].Stacktrace, r)
	}
	for i := range event.Threads {
		scrubStacktrace(event.Threads[i].Stacktrace, r)
	}
	for _, b := range event.Breadcrumbs {
		if b != nil {
			b.Message = r.Apply(b.Message)
			scrubMap(b.Data, r)
		}
	}
	scrubMap(event.Extra, r)
	for k, v := range event.Tags {
		event.Tags[k] = r.Apply(v)
	}
	return event
}

func scrubStacktrace(st *sentry.Stacktrace, r *privacy.Redactor) {
	if st == nil {
		return
	}
	for i := range st.Frames {
		f := &st.Frames[i]
		f.ContextLine = r.Apply(f.ContextLine)
		for j := range f.PreContext {
			f.PreContext[j] = r.Apply(f.PreContext[j])
		}
		for j := range f.PostContext {
			f.PostContext[j] = r.Apply(f.PostContext[j])
		}
		scrubMap(f.Vars, r)
	}
}

func scrubMap(m map[string]interface{}, r *privacy.Redactor) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			m[k] = r.Apply(val)
		case error:
			m[k] = r.Apply(val.Error())
		}
	}
}

// reportFailure sends a failed run to Sentry. A failed collection ends the
// run cleanly but is reported too, so a broken scraper is not mistaken for
// a quiet list.
func reportFailure(rep pipeline.Report, source string) {
	if sentry.CurrentHub().Client() == nil {
		return
	}
	err, stage := rep.Err, "deliver"
	switch {
	case err != nil:
		if rep.State == pipeline.ConfigError {
			stage = "config"
		}
	case rep.Collection == collect.Failed && rep.CollectErr != nil:
		err, stage = rep.CollectErr, "collect"
	default:
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("state", rep.State.String())
		scope.SetTag("stage", stage)
		scope.SetTag("source", source)
		scope.SetExtra("collected", rep.Collected)
		sentry.CaptureException(err)
	})
}
