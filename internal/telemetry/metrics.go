package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики engine'а. Регистрируются в default registry при импорте пакета.
var (
	// ProviderCalls — вызовы provider API по операциям и исходу.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_provider_calls_total",
		Help: "Provider API calls by operation and outcome",
	}, []string{"provider", "op", "outcome"})

	// RetryDelay — задержки перед повторными попытками.
	RetryDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_retry_delay_seconds",
		Help:    "Delay before retrying a provider call",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"provider", "op"})

	// TaskTransitions — переходы report task между состояниями.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_task_transitions_total",
		Help: "Report task state transitions",
	}, []string{"provider", "state"})

	// UnitsFinished — units по итоговому статусу.
	UnitsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_units_finished_total",
		Help: "Units of work evaluated by status",
	}, []string{"provider", "status"})

	// ArtifactBytes — записанные байты artifacts.
	ArtifactBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_artifact_bytes_total",
		Help: "Bytes written to artifact storage",
	}, []string{"provider", "source"})

	// RunDuration — длительность harvest run.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_run_duration_seconds",
		Help:    "Harvest run duration",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"provider", "status"})
)
