package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gas"

// Metrics holds the counters and gauges exported by every pipeline process
type Metrics struct {
	// Queue metrics, labelled by queue name
	MessagesReceived  *prometheus.CounterVec
	MessagesAcked     *prometheus.CounterVec
	MessagesRetried   *prometheus.CounterVec
	MessagesMalformed *prometheus.CounterVec
	ReceiveErrors     *prometheus.CounterVec

	// Execution metrics
	JobsLaunched  prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	ActiveJobs    prometheus.Gauge
	StaleJobs     prometheus.Gauge

	// Storage lifecycle outcomes
	Archives   *prometheus.CounterVec
	Retrievals *prometheus.CounterVec
	Thaws      *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	queueLabels := []string{"queue"}

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received from a queue",
		}, queueLabels),
		MessagesAcked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total number of messages deleted after handling",
		}, queueLabels),
		MessagesRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_retried_total",
			Help:      "Total number of messages left for redelivery",
		}, queueLabels),
		MessagesMalformed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Total number of messages whose payload could not be decoded",
		}, queueLabels),
		ReceiveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Total number of failed receive calls",
		}, queueLabels),

		JobsLaunched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_launched_total",
			Help:      "Total number of annotation jobs handed to the execution pool",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of annotation jobs recorded as completed",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of annotation tool runs that failed",
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of annotation jobs currently executing",
		}),
		StaleJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_running_jobs",
			Help:      "Number of jobs RUNNING for longer than the stale threshold",
		}),

		Archives: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_total",
			Help:      "Archive request outcomes",
		}, []string{"outcome"}),
		Retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Cold storage retrievals initiated, by granted tier",
		}, []string{"tier"}),
		Thaws: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thaws_total",
			Help:      "Thaw notification outcomes",
		}, []string{"outcome"}),
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes the default registry on addr until the server fails
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(prometheus.DefaultGatherer))
	return http.ListenAndServe(addr, mux)
}
