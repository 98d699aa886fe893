package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	r := New("")
	finished := time.Date(2025, 10, 28, 12, 0, 0, 0, time.UTC)

	r.Observe(Run{State: "delivered", Collected: 120, Skipped: 3, Inserted: 118, Finished: finished, Duration: 1500 * time.Millisecond})
	r.Observe(Run{State: "delivered", Collected: 80, Finished: finished})
	r.Observe(Run{State: "delivery_failed", Collected: 5, Finished: finished})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("delivery_failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.collected))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.inserted))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(r.lastRun))
}

func TestObserve_CollectionOutcome(t *testing.T) {
	r := New("")
	now := time.Now()

	r.Observe(Run{State: "empty", Outcome: "empty", Finished: now})
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lastFailed))

	r.Observe(Run{State: "empty", Outcome: "failed", Finished: now})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.collections.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.collections.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lastFailed))

	// A run that never reached the scraper leaves collection metrics alone.
	r.Observe(Run{State: "config_error", Finished: now})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lastFailed))
	assert.Equal(t, 2, testutil.CollectAndCount(r.collections))

	r.Observe(Run{State: "delivered", Outcome: "collected", Collected: 4, Finished: now})
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lastFailed))
}

func TestGatherer(t *testing.T) {
	r := New("")
	r.Observe(Run{State: "empty", Finished: time.Now()})

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"listpush_runs_total",
		"listpush_records_collected",
		"listpush_records_skipped",
		"listpush_records_inserted",
		"listpush_last_run_timestamp_seconds",
		"listpush_run_duration_seconds",
		"listpush_last_collection_failed",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestPush_Disabled(t *testing.T) {
	r := New("  ")
	assert.False(t, r.Enabled())
	assert.NoError(t, r.Push())
}

func TestPush_SendsToPushgateway(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		method = req.Method
		path = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	r := New(srv.URL)
	r.Observe(Run{State: "delivered", Collected: 3, Inserted: 3, Finished: time.Now()})

	require.NoError(t, r.Push())
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/listpush", path)
	assert.NotEmpty(t, body)
}

func TestPush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New(srv.URL).Push()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "push metrics:"))
}
