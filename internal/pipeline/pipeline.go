// Package pipeline runs one collect-then-deliver cycle.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/listpush/internal/collect"
	"github.com/ppiankov/listpush/internal/config"
	"github.com/ppiankov/listpush/internal/deliver"
	"github.com/ppiankov/listpush/internal/metrics"
	"github.com/ppiankov/listpush/internal/record"
	"github.com/sirupsen/logrus"
)

// Exit statuses for a finished run.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// State is a step of a run.
type State int

const (
	Idle State = iota
	Collecting
	Empty
	Collected
	Delivering
	Delivered
	DeliveryFailed
	ConfigError
)

var stateNames = map[State]string{
	Idle:           "idle",
	Collecting:     "collecting",
	Empty:          "empty",
	Collected:      "collected",
	Delivering:     "delivering",
	Delivered:      "delivered",
	DeliveryFailed: "delivery_failed",
	ConfigError:    "config_error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether a run stops in s.
func (s State) Terminal() bool {
	switch s {
	case Empty, Delivered, DeliveryFailed, ConfigError:
		return true
	}
	return false
}

// Collector produces the records of one run.
type Collector interface {
	Collect(ctx context.Context) collect.Result
}

// Deliverer submits a batch once.
type Deliverer interface {
	Deliver(ctx context.Context, records []record.Record) (deliver.Receipt, error)
}

// DelivererFactory builds a Deliverer from validated credentials.
type DelivererFactory func(cfg *config.Config) (Deliverer, error)

// Observer receives a summary of every finished run.
type Observer interface {
	Observe(run metrics.Run)
}

// Report is the result of one run.
type Report struct {
	State      State
	Collection collect.Outcome
	Collected  int
	Skipped    int
	Inserted   int
	CollectErr error // why collection failed; the run itself still ends cleanly
	Err        error // configuration or delivery failure
	Duration   time.Duration
}

// ExitCode maps the terminal state to a process exit status.
func (r Report) ExitCode() int {
	switch r.State {
	case ConfigError:
		return ExitConfigError
	case DeliveryFailed:
		return ExitFailure
	default:
		return ExitOK
	}
}

// Runner executes runs sequentially. It is not safe for concurrent use;
// callers serialize runs.
type Runner struct {
	cfg          *config.Config
	collector    Collector
	newDeliverer DelivererFactory
	logger       logrus.FieldLogger
	observer     Observer
	now          func() time.Time
}

// New creates a Runner. observer may be nil.
func New(cfg *config.Config, collector Collector, newDeliverer DelivererFactory, logger logrus.FieldLogger, observer Observer) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		cfg:          cfg,
		collector:    collector,
		newDeliverer: newDeliverer,
		logger:       logger,
		observer:     observer,
		now:          time.Now,
	}
}

// Run performs one collect-deliver cycle and always returns a terminal report.
func (r *Runner) Run(ctx context.Context) Report {
	start := r.now()
	rep := r.run(ctx)
	rep.Duration = r.now().Sub(start)

	if r.observer != nil {
		var outcome string
		if rep.State != ConfigError {
			outcome = rep.Collection.String()
		}
		r.observer.Observe(metrics.Run{
			State:     rep.State.String(),
			Outcome:   outcome,
			Collected: rep.Collected,
			Skipped:   rep.Skipped,
			Inserted:  rep.Inserted,
			Finished:  r.now(),
			Duration:  rep.Duration,
		})
	}
	return rep
}

func (r *Runner) run(ctx context.Context) Report {
	rep := Report{State: Idle}
	log := r.logger.WithField("source", r.cfg.Source.List)

	if err := r.cfg.RequireDelivery(); err != nil {
		return r.enter(log, rep, ConfigError, err)
	}
	deliverer, err := r.newDeliverer(r.cfg)
	if err != nil {
		return r.enter(log, rep, ConfigError, err)
	}

	rep = r.enter(log, rep, Collecting, nil)
	res := r.collector.Collect(ctx)
	rep.Collection = res.Outcome
	rep.Skipped = res.Skipped

	if len(res.Records) == 0 {
		rep.CollectErr = res.Err
		if res.Outcome == collect.Failed {
			log.WithError(res.Err).Error("collection failed, nothing to deliver")
		} else {
			log.Info("no tweets scraped")
		}
		return r.enter(log, rep, Empty, nil)
	}

	rep.Collected = len(res.Records)
	rep = r.enter(log, rep, Collected, nil)

	rep = r.enter(log, rep, Delivering, nil)
	receipt, err := deliverer.Deliver(ctx, res.Records)
	if err != nil {
		return r.enter(log, rep, DeliveryFailed, err)
	}

	rep.Inserted = receipt.Inserted
	log.WithFields(logrus.Fields{
		"collected": rep.Collected,
		"inserted":  rep.Inserted,
	}).Info("tweet scraping and ingestion completed")
	return r.enter(log, rep, Delivered, nil)
}

func (r *Runner) enter(log logrus.FieldLogger, rep Report, next State, err error) Report {
	entry := log.WithFields(logrus.Fields{"from": rep.State.String(), "to": next.String()})
	switch {
	case err != nil:
		entry.WithError(err).Error("run failed")
	case next.Terminal():
		entry.Info("run finished")
	default:
		entry.Debug("state transition")
	}
	rep.State = next
	if err != nil {
		rep.Err = err
	}
	return rep
}
