package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "file_intake"

var (
	Registry = prometheus.NewRegistry()

	intakeFilesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Count of submitted files by outcome and rejection reason.",
		},
		[]string{"outcome", "reason"},
	)
	intakeBatchesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Count of intake batches by result.",
		},
		[]string{"result"},
	)
	evictionsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "evictions_total",
			Help:      "Count of records evicted because the registry was at capacity.",
		},
	)
	storageErrorsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "storage_errors_total",
			Help:      "Count of backend operations that failed after all retries.",
		},
		[]string{"op"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		Registry.MustRegister(intakeFilesCounter)
		Registry.MustRegister(intakeBatchesCounter)
		Registry.MustRegister(evictionsCounter)
		Registry.MustRegister(storageErrorsCounter)
	})
}

// Handler serves the metrics in Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordAccepted() {
	intakeFilesCounter.WithLabelValues("accepted", "").Inc()
}

func RecordRejected(reason string) {
	intakeFilesCounter.WithLabelValues("rejected", reason).Inc()
}

// RecordBatch records the result of one intake call: "ok", "empty" or "storage_error".
func RecordBatch(result string) {
	intakeBatchesCounter.WithLabelValues(result).Inc()
}

func RecordEvictions(n int) {
	if n > 0 {
		evictionsCounter.Add(float64(n))
	}
}

func RecordStorageError(op string) {
	storageErrorsCounter.WithLabelValues(op).Inc()
}
