// Package metrics exports receiver counters to Prometheus. A nil *Metrics is
// valid and records nothing, so components can be constructed without one.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "receiver"

// Metrics holds the receiver collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	files          *prometheus.CounterVec
	storedBytes    prometheus.Counter
	plugins        *prometheus.CounterVec
	pluginDuration *prometheus.HistogramVec
	mirrorOutcomes *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatched requests by action and outcome.",
		}, []string{"action", "outcome"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Uploaded files by outcome.",
		}, []string{"outcome"}),
		storedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_bytes_total",
			Help:      "Cumulative size of stored artifacts.",
		}),
		plugins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_invocations_total",
			Help:      "Plugin invocations by event and outcome.",
		}, []string{"event", "outcome"}),
		pluginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_duration_seconds",
			Help:      "Wall time of plugin invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		mirrorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_uploads_total",
			Help:      "Artifact mirror uploads by backend and outcome.",
		}, []string{"backend", "outcome"}),
	}

	collectors := []prometheus.Collector{
		m.requests, m.files, m.storedBytes, m.plugins, m.pluginDuration, m.mirrorOutcomes,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RequestDispatched(action, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) FileStored(size int64) {
	if m == nil {
		return
	}
	m.files.WithLabelValues("stored").Inc()
	m.storedBytes.Add(float64(size))
}

func (m *Metrics) FileFailed(reason string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(reason).Inc()
}

func (m *Metrics) PluginInvoked(event string, succeeded bool, d time.Duration) {
	if m == nil {
		return
	}
	m.plugins.WithLabelValues(event, outcome(succeeded)).Inc()
	m.pluginDuration.WithLabelValues(event).Observe(d.Seconds())
}

func (m *Metrics) Mirrored(backend string, err error) {
	if m == nil {
		return
	}
	m.mirrorOutcomes.WithLabelValues(backend, outcome(err == nil)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
