// Package metrics exposes Prometheus collectors for the stampsync engine.
//
// Collectors are registered on a caller-supplied registry so that tests and
// multiple engines in one process never collide on the default registerer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stampsync"

// Metrics holds the engine's collectors.
type Metrics struct {
	arrivals   *prometheus.CounterVec
	matches    prometheus.Counter
	drops      *prometheus.CounterVec
	spread     prometheus.Histogram
	queueDepth *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
// Collectors that are already registered on reg are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("metrics: nil registerer")
	}

	var (
		m   Metrics
		err error
	)

	// Labels: stream, disposition (queued, rejected)
	m.arrivals, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arrivals_total",
		Help:      "Samples submitted to the synchronizer",
	}, []string{"stream", "disposition"}))
	if err != nil {
		return nil, err
	}

	m.matches, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Matched sets emitted",
	}))
	if err != nil {
		return nil, err
	}

	// Labels: stream
	m.drops, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drops_total",
		Help:      "Queued samples evicted without being matched",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}

	m.spread, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_spread",
		Help:      "Max minus min stamp of each matched set",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}))
	if err != nil {
		return nil, err
	}

	// Labels: stream
	m.queueDepth, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Samples currently queued per stream",
	}, []string{"stream"}))
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}

// ObserveArrival counts a submitted sample by stream and disposition.
func (m *Metrics) ObserveArrival(stream, disposition string) {
	if m == nil {
		return
	}
	m.arrivals.WithLabelValues(stream, disposition).Inc()
}

// ObserveMatch counts a matched set and records its spread.
func (m *Metrics) ObserveMatch(spread int64) {
	if m == nil {
		return
	}
	m.matches.Inc()
	m.spread.Observe(float64(spread))
}

// ObserveDrop counts an evicted sample.
func (m *Metrics) ObserveDrop(stream string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(stream).Inc()
}

// SetQueueDepth records the current queue length of a stream.
func (m *Metrics) SetQueueDepth(stream string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stream).Set(float64(depth))
}
