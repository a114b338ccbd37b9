// Package metrics exposes scheduler events as Prometheus metrics.
package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/warpdl/warpload/pkg/loadsched"
)

const namespace = "warpload"

// Collector is a loadsched.Subscriber that records every run it observes
// into its own registry.
type Collector struct {
	registry *prometheus.Registry

	loaded    *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retries   *prometheus.CounterVec
	attempts  prometheus.Histogram
	eta       prometheus.Gauge
	progress  prometheus.Gauge
	remaining prometheus.Gauge
	runs      prometheus.Histogram
}

// NewCollector creates a Collector with all metrics registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resources_loaded_total",
			Help:      "Resources that loaded successfully.",
		}, []string{"priority"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resources_failed_total",
			Help:      "Resources that exhausted their attempts.",
		}, []string{"priority"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resources_retries_total",
			Help:      "Failed attempts followed by another attempt.",
		}, []string{"priority"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_attempts",
			Help:      "Attempts used by each settled resource.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),
		eta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eta_seconds",
			Help:      "Projected time until the current run completes.",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_ratio",
			Help:      "Share of resources of the current run in a terminal state.",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources_remaining",
			Help:      "Resources of the current run not yet settled.",
		}),
		runs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	c.registry.MustRegister(c.loaded, c.failed, c.retries, c.attempts, c.eta, c.progress, c.remaining, c.runs)
	for _, p := range loadsched.Priorities() {
		// Pre-create series so every class shows up at zero.
		c.loaded.WithLabelValues(p.String())
		c.failed.WithLabelValues(p.String())
		c.retries.WithLabelValues(p.String())
	}
	return c
}

// Registry returns the registry the collector's metrics live in. Callers
// may register additional collectors on it.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// HandleEvent implements loadsched.Subscriber.
func (c *Collector) HandleEvent(ev loadsched.Event) {
	switch ev.Kind {
	case loadsched.EventStart:
		c.eta.Set(0)
		c.progress.Set(0)
	case loadsched.EventLoad:
		c.loaded.WithLabelValues(ev.Resource.Priority.String()).Inc()
		c.attempts.Observe(float64(ev.Attempt))
	case loadsched.EventError:
		c.failed.WithLabelValues(ev.Resource.Priority.String()).Inc()
		c.attempts.Observe(float64(ev.Attempt))
	case loadsched.EventRetry:
		c.retries.WithLabelValues(ev.Resource.Priority.String()).Inc()
	case loadsched.EventProgress:
		p := ev.Progress
		c.eta.Set(p.ETA.Seconds())
		c.progress.Set(p.Percentage / 100)
		c.remaining.Set(float64(p.Remaining))
	case loadsched.EventComplete:
		c.eta.Set(0)
		c.remaining.Set(0)
		c.runs.Observe(ev.Summary.Duration.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// WriteText encodes the current state of the registry in the text
// exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	gatherer := prometheus.ToTransactionalGatherer(c.registry)
	mfs, done, err := gatherer.Gather()
	if err != nil {
		return err
	}
	defer done()

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metrics family %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
