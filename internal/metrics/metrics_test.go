package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New("test", reg)
	require.NoError(t, err)

	r.ObserveAssignment("intro", 0, false)
	r.ObserveAssignment("drop", 2, false)
	r.ObserveAssignment("drop", 4, true)
	r.ObservePlan(nil)
	r.ObserveSearch(15*time.Millisecond, nil)
	r.ObserveSearch(time.Second, errors.New("boom"))
	r.ObserveRetry()
	r.ObserveCache(true)
	r.ObserveCache(false)
	r.ObserveCache(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.assignments.WithLabelValues("intro", "exact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.assignments.WithLabelValues("drop", "relaxed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.assignments.WithLabelValues("drop", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.plans.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.searchRetries))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.searchDuration))
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New("test", reg)
	require.NoError(t, err)
	b, err := New("test", reg)
	require.NoError(t, err)

	a.ObserveRetry()
	b.ObserveRetry()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.searchRetries))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveAssignment("intro", 1, false)
		r.ObservePlan(errors.New("x"))
		r.ObserveSearch(time.Millisecond, nil)
		r.ObserveRetry()
		r.ObserveCache(true)
	})
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New("test", reg)
	require.NoError(t, err)
	r.ObservePlan(nil)

	path := filepath.Join(t.TempDir(), "beat2video.prom")
	require.NoError(t, WriteTextfile(path, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `test_plans_total{result="ok"} 1`)
}
