package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

const namespace = "hublink"

var connectionStatuses = []transport.ConnectionStatus{
	transport.Disconnected,
	transport.DisconnectedRetrying,
	transport.Connecting,
	transport.Connected,
}

// Collector records transport events into its own registry.
type Collector struct {
	registry *prometheus.Registry

	queued        *prometheus.CounterVec
	completed     *prometheus.CounterVec
	pending       prometheus.Gauge
	retries       *prometheus.CounterVec
	backoff       prometheus.Histogram
	attempts      prometheus.Histogram
	status        *prometheus.GaugeVec
	statusChanges *prometheus.CounterVec
}

// NewCollector creates a Collector with a fresh registry. When runtime is
// true the Go runtime and process collectors are registered as well.
func NewCollector(runtime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_queued_total",
			Help:      "Messages accepted into the send queue.",
		}, []string{"type"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_completed_total",
			Help:      "Messages whose completion callback has been scheduled, by final status.",
		}, []string{"type", "status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_pending",
			Help:      "Messages queued or in flight.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_retries_total",
			Help:      "Send retries scheduled, by failure kind.",
		}, []string{"type", "kind"}),
		backoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_backoff_seconds",
			Help:      "Delay before each retried send.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_attempts",
			Help:      "Retries used by each completed message.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "1 for the current connection status, 0 otherwise.",
		}, []string{"status"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_changes_total",
			Help:      "Connection status changes, by new status and reason.",
		}, []string{"status", "reason"}),
	}

	c.registry.MustRegister(
		c.queued,
		c.completed,
		c.pending,
		c.retries,
		c.backoff,
		c.attempts,
		c.status,
		c.statusChanges,
	)
	if runtime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c.setStatus(transport.Disconnected)
	return c
}

// Registry returns the registry the Collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MessageQueued implements transport.Observer.
func (c *Collector) MessageQueued(msg *message.Message) {
	c.queued.WithLabelValues(msg.Type.String()).Inc()
	c.pending.Inc()
}

// MessageRetried implements transport.Observer.
func (c *Collector) MessageRetried(msg *message.Message, _ int, after time.Duration, cause error) {
	c.retries.WithLabelValues(msg.Type.String(), transport.KindOf(cause).String()).Inc()
	c.backoff.Observe(after.Seconds())
}

// MessageCompleted implements transport.Observer.
func (c *Collector) MessageCompleted(msg *message.Message, status message.Status, retries int) {
	c.completed.WithLabelValues(msg.Type.String(), status.String()).Inc()
	c.pending.Dec()
	c.attempts.Observe(float64(retries))
}

// StatusChanged implements transport.Observer.
func (c *Collector) StatusChanged(status transport.ConnectionStatus, reason transport.ChangeReason, _ error) {
	c.statusChanges.WithLabelValues(status.String(), reason.String()).Inc()
	c.setStatus(status)
}

func (c *Collector) setStatus(current transport.ConnectionStatus) {
	for _, s := range connectionStatuses {
		v := 0.0
		if s == current {
			v = 1
		}
		c.status.WithLabelValues(s.String()).Set(v)
	}
}
