// Package telemetry exposes service metrics.
package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by refresh containers and the
// notification hub.
//
// Hooks run inline with refresh completions and broadcasts, so implementations
// must be cheap and must not block.
type Collector interface {
	ObserveRefresh(container, outcome string, d time.Duration)
	IncRefreshSkipped(container, reason string)
	IncBroadcast(action string)
	SetStreamConnections(transport string, n int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveRefresh(string, string, time.Duration) {}
func (noopCollector) IncRefreshSkipped(string, string)             {}
func (noopCollector) IncBroadcast(string)                          {}
func (noopCollector) SetStreamConnections(string, int)             {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	refreshes   *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	skipped     *prometheus.CounterVec
	broadcasts  *prometheus.CounterVec
	connections *prometheus.GaugeVec
}

var registerMu sync.Mutex

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that are already registered there.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerMu.Lock()
	defer registerMu.Unlock()

	refreshes, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "dutnotify_refresh_total",
		Help: "Completed refreshes per container and outcome.",
	}, []string{"container", "outcome"})
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.HistogramOpts{
		Name:    "dutnotify_refresh_duration_seconds",
		Help:    "Duration of upstream fetches per container.",
		Buckets: prometheus.DefBuckets,
	}, []string{"container"})
	if err != nil {
		return nil, err
	}

	skipped, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "dutnotify_refresh_skipped_total",
		Help: "Refresh requests answered without a fetch, per container and reason.",
	}, []string{"container", "reason"})
	if err != nil {
		return nil, err
	}

	broadcasts, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "dutnotify_broadcast_total",
		Help: "Notification messages published per action.",
	}, []string{"action"})
	if err != nil {
		return nil, err
	}

	connections, err := registerGaugeVec(reg, prometheus.GaugeOpts{
		Name: "dutnotify_stream_connections",
		Help: "Connected notification stream clients per transport.",
	}, []string{"transport"})
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		refreshes:   refreshes,
		durations:   durations,
		skipped:     skipped,
		broadcasts:  broadcasts,
		connections: connections,
	}, nil
}

// ObserveRefresh records a completed fetch.
func (p *PrometheusCollector) ObserveRefresh(container, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.refreshes.WithLabelValues(container, outcome).Inc()
	p.durations.WithLabelValues(container).Observe(d.Seconds())
}

// IncRefreshSkipped records a refresh request that did not fetch.
func (p *PrometheusCollector) IncRefreshSkipped(container, reason string) {
	if p == nil {
		return
	}
	p.skipped.WithLabelValues(container, reason).Inc()
}

// IncBroadcast records a published notification message.
func (p *PrometheusCollector) IncBroadcast(action string) {
	if p == nil {
		return
	}
	p.broadcasts.WithLabelValues(action).Inc()
}

// SetStreamConnections records the number of connected stream clients.
func (p *PrometheusCollector) SetStreamConnections(transport string, n int) {
	if p == nil {
		return
	}
	p.connections.WithLabelValues(transport).Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogramVec(reg prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) (*prometheus.HistogramVec, error) {
	hist := prometheus.NewHistogramVec(opts, labels)
	if err := reg.Register(hist); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return hist, nil
}

func registerGaugeVec(reg prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) (*prometheus.GaugeVec, error) {
	gauge := prometheus.NewGaugeVec(opts, labels)
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return gauge, nil
}
