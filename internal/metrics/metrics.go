// Package metrics exports planning and catalog counters to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "beat2video"

// Recorder holds the collectors. A nil *Recorder records nothing.
type Recorder struct {
	assignments    *prometheus.CounterVec
	relaxation     prometheus.Histogram
	fallbacks      prometheus.Counter
	plans          *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchRetries  prometheus.Counter
	cacheLookups   *prometheus.CounterVec
}

// New registers the collectors on reg (the default registerer when nil).
func New(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_assignments_total",
			Help:      "Assigned slots by section type and how the clip was found.",
		}, []string{"section", "outcome"}),
		relaxation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_relaxation_level",
			Help:      "Relaxation level at which each slot was resolved.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_fallbacks_total",
			Help:      "Slots that reused the previous clip after relaxation was exhausted.",
		}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Planning runs by result.",
		}, []string{"result"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_search_duration_seconds",
			Help:      "Latency of clip catalog searches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		searchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_search_retries_total",
			Help:      "Catalog searches retried after a transient failure.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_lookups_total",
			Help:      "Search cache lookups by result.",
		}, []string{"result"}),
	}

	var err error
	if r.assignments, err = register(reg, r.assignments); err != nil {
		return nil, err
	}
	if r.relaxation, err = register(reg, r.relaxation); err != nil {
		return nil, err
	}
	if r.fallbacks, err = register(reg, r.fallbacks); err != nil {
		return nil, err
	}
	if r.plans, err = register(reg, r.plans); err != nil {
		return nil, err
	}
	if r.searchDuration, err = register(reg, r.searchDuration); err != nil {
		return nil, err
	}
	if r.searchRetries, err = register(reg, r.searchRetries); err != nil {
		return nil, err
	}
	if r.cacheLookups, err = register(reg, r.cacheLookups); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveAssignment records one resolved slot.
func (r *Recorder) ObserveAssignment(section string, level int, fallback bool) {
	if r == nil {
		return
	}
	outcome := "exact"
	switch {
	case fallback:
		outcome = "fallback"
		r.fallbacks.Inc()
	case level > 0:
		outcome = "relaxed"
	}
	r.assignments.WithLabelValues(section, outcome).Inc()
	r.relaxation.Observe(float64(level))
}

// ObservePlan records the end of a planning run.
func (r *Recorder) ObservePlan(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	r.plans.WithLabelValues(result).Inc()
}

// ObserveSearch records the latency of one catalog call.
func (r *Recorder) ObserveSearch(d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.searchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveRetry counts a retried catalog call.
func (r *Recorder) ObserveRetry() {
	if r == nil {
		return
	}
	r.searchRetries.Inc()
}

// ObserveCache counts a cache hit or miss.
func (r *Recorder) ObserveCache(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// WriteTextfile dumps every metric gathered by g in the text exposition
// format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}
