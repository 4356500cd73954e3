package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "ucloud_jobmanager_"

var leaderGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "is_leader",
		Help: "1 if this instance currently reconciles jobs, 0 otherwise",
	},
)

var eventsProcessedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "events_processed",
		Help: "Number of events handled by the reconciliation loop",
	},
	[]string{"kind"},
)

var jobsCreatedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_created",
		Help: "Number of jobs submitted to the cluster",
	},
)

var jobCreationFailuresCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "job_creation_failures",
		Help: "Number of job submissions which failed, by the plugin which failed them",
	},
	[]string{"plugin"},
)

var jobsTerminatedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_terminated",
		Help: "Number of jobs deleted by the job manager, by final state",
	},
	[]string{"state"},
)

var iterationDurationHist = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "iteration_duration_seconds",
		Help:    "Time spent handling a single event of the reconciliation loop",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 17),
	},
)

const (
	EventKindJob     = "job"
	EventKindPod     = "pod"
	EventKindMonitor = "monitor"
	EventKindTimeout = "timeout"
)

type Metrics struct{}

var m = &Metrics{}

func Get() *Metrics {
	return m
}

func (m *Metrics) SetLeader(leader bool) {
	if leader {
		leaderGauge.Set(1)
	} else {
		leaderGauge.Set(0)
	}
}

func (m *Metrics) RecordEvent(kind string) {
	eventsProcessedCounter.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordJobCreated() {
	jobsCreatedCounter.Inc()
}

func (m *Metrics) RecordJobCreationFailure(plugin string) {
	jobCreationFailuresCounter.WithLabelValues(plugin).Inc()
}

func (m *Metrics) RecordJobTerminated(state string) {
	jobsTerminatedCounter.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordIteration(duration time.Duration) {
	iterationDurationHist.Observe(duration.Seconds())
}
