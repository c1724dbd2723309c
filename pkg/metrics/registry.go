// Package metrics provides the Prometheus metrics registry for reviewflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Config holds registry configuration.
type Config struct {
	Namespace            string
	EnableProcessMetrics bool
	EnableRuntimeMetrics bool
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:            "reviewflow",
		EnableProcessMetrics: true,
		EnableRuntimeMetrics: true,
	}
}

// Registry manages all Prometheus metrics for reviewflow. A nil *Registry is
// valid and records nothing, so components can take it optionally.
type Registry struct {
	config   Config
	registry *prometheus.Registry

	// Queue metrics
	jobsEnqueued       *prometheus.CounterVec
	jobsResolved       *prometheus.CounterVec
	jobsFatal          *prometheus.CounterVec
	pendingCompletions prometheus.Gauge

	// Run metrics
	runsCreated        *prometheus.CounterVec
	runTransitions     *prometheus.CounterVec
	dispatchesTotal    *prometheus.CounterVec

	// Webhook metrics
	webhookEvents  *prometheus.CounterVec
	webhookDropped *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with the given configuration.
func NewRegistry(config Config) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		config:   config,
		registry: reg,
	}

	r.registerQueueMetrics()
	r.registerRunMetrics()
	r.registerWebhookMetrics()

	if config.EnableProcessMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if config.EnableRuntimeMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

func (r *Registry) registerQueueMetrics() {
	ns := r.config.Namespace

	r.jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		},
		[]string{"queue"},
	)

	r.jobsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "queue",
			Name:      "jobs_resolved_total",
			Help:      "Total number of jobs resolved by outcome",
		},
		[]string{"queue", "resolution"},
	)

	r.jobsFatal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "queue",
			Name:      "jobs_retry_exhausted_total",
			Help:      "Total number of jobs that exhausted their retry limit",
		},
		[]string{"queue"},
	)

	r.pendingCompletions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "queue",
			Name:      "pending_completions",
			Help:      "Number of suspended jobs awaiting an external completion signal",
		},
	)

	r.registry.MustRegister(
		r.jobsEnqueued,
		r.jobsResolved,
		r.jobsFatal,
		r.pendingCompletions,
	)
}

func (r *Registry) registerRunMetrics() {
	ns := r.config.Namespace

	r.runsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "run",
			Name:      "created_total",
			Help:      "Total number of workflow runs created",
		},
		[]string{"workflow"},
	)

	r.runTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "run",
			Name:      "transitions_total",
			Help:      "Total number of run status transitions",
		},
		[]string{"status"},
	)

	r.dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "run",
			Name:      "dispatches_total",
			Help:      "Total number of workflow dispatch attempts",
		},
		[]string{"status"},
	)

	r.registry.MustRegister(
		r.runsCreated,
		r.runTransitions,
		r.dispatchesTotal,
	)
}

func (r *Registry) registerWebhookMetrics() {
	ns := r.config.Namespace

	r.webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of workflow job events received",
		},
		[]string{"action"},
	)

	r.webhookDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "webhook",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped without mutating state",
		},
		[]string{"reason"},
	)

	r.registry.MustRegister(
		r.webhookEvents,
		r.webhookDropped,
	)
}

// JobEnqueued records a job enqueue.
func (r *Registry) JobEnqueued(queue string) {
	if r == nil {
		return
	}
	r.jobsEnqueued.WithLabelValues(queue).Inc()
}

// JobResolved records a job resolution.
func (r *Registry) JobResolved(queue, resolution string) {
	if r == nil {
		return
	}
	r.jobsResolved.WithLabelValues(queue, resolution).Inc()
}

// JobRetryExhausted records a fatal retry exhaustion.
func (r *Registry) JobRetryExhausted(queue string) {
	if r == nil {
		return
	}
	r.jobsFatal.WithLabelValues(queue).Inc()
}

// SetPendingCompletions records the size of the completion registry.
func (r *Registry) SetPendingCompletions(n int) {
	if r == nil {
		return
	}
	r.pendingCompletions.Set(float64(n))
}

// RunCreated records a workflow run creation.
func (r *Registry) RunCreated(workflowID string) {
	if r == nil {
		return
	}
	r.runsCreated.WithLabelValues(workflowID).Inc()
}

// RunTransition records a run status transition.
func (r *Registry) RunTransition(status string) {
	if r == nil {
		return
	}
	r.runTransitions.WithLabelValues(status).Inc()
}

// DispatchAttempt records a workflow dispatch attempt outcome.
func (r *Registry) DispatchAttempt(status string) {
	if r == nil {
		return
	}
	r.dispatchesTotal.WithLabelValues(status).Inc()
}

// WebhookEvent records a received workflow job event.
func (r *Registry) WebhookEvent(action string) {
	if r == nil {
		return
	}
	r.webhookEvents.WithLabelValues(action).Inc()
}

// WebhookDropped records an event dropped without mutating state.
func (r *Registry) WebhookDropped(reason string) {
	if r == nil {
		return
	}
	r.webhookDropped.WithLabelValues(reason).Inc()
}
