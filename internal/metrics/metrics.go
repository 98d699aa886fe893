// Package metrics records per-run counters and pushes them to a Prometheus
// Pushgateway, since a batch job is gone before anything could scrape it.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const jobName = "listpush"

// Recorder holds the run metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry
	pushURL  string
	client   *http.Client

	runs        *prometheus.CounterVec
	collections *prometheus.CounterVec
	lastFailed  prometheus.Gauge
	collected   prometheus.Gauge
	skipped     prometheus.Gauge
	inserted    prometheus.Gauge
	lastRun     prometheus.Gauge
	duration    prometheus.Gauge
}

// New creates a Recorder. pushURL may be empty, in which case Push is a no-op.
func New(pushURL string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pushURL:  strings.TrimSpace(pushURL),
		client:   &http.Client{Timeout: 10 * time.Second},
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listpush_runs_total",
				Help: "Runs by terminal state",
			},
			[]string{"state"},
		),
		collections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listpush_collections_total",
				Help: "Scraper invocations by outcome (collected, empty, failed)",
			},
			[]string{"outcome"},
		),
		lastFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listpush_last_collection_failed",
			Help: "1 if the last collection failed, 0 otherwise",
		}),
		collected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listpush_records_collected",
			Help: "Records collected in the last run after truncation",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listpush_records_skipped",
			Help: "Scraper lines dropped as malformed in the last run",
		}),
		inserted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listpush_records_inserted",
			Help: "Records the ingestion service reported as inserted in the last run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listpush_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listpush_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
	}
	r.registry.MustRegister(r.runs, r.collections, r.lastFailed, r.collected, r.skipped, r.inserted, r.lastRun, r.duration)
	return r
}

// Run is the summary of one finished run.
type Run struct {
	State     string
	Outcome   string // collection outcome; empty when the scraper never ran
	Collected int
	Skipped   int
	Inserted  int
	Finished  time.Time
	Duration  time.Duration
}

// Observe records a finished run.
func (r *Recorder) Observe(run Run) {
	r.runs.WithLabelValues(run.State).Inc()
	if run.Outcome != "" {
		r.collections.WithLabelValues(run.Outcome).Inc()
		if run.Outcome == "failed" {
			r.lastFailed.Set(1)
		} else {
			r.lastFailed.Set(0)
		}
	}
	r.collected.Set(float64(run.Collected))
	r.skipped.Set(float64(run.Skipped))
	r.inserted.Set(float64(run.Inserted))
	r.lastRun.Set(float64(run.Finished.Unix()))
	r.duration.Set(run.Duration.Seconds())
}

// Gatherer exposes the registry, mainly for tests and ad-hoc dumps.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Enabled reports whether a Pushgateway is configured.
func (r *Recorder) Enabled() bool {
	return r.pushURL != ""
}

// Push replaces this job's metrics on the Pushgateway.
func (r *Recorder) Push() error {
	if !r.Enabled() {
		return nil
	}
	err := push.New(r.pushURL, jobName).
		Client(r.client).
		Gatherer(r.registry).
		Push()
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
