package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	opsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfdispatcher",
			Name:      "operations_submitted_total",
			Help:      "Operations accepted by the API, by type",
		},
		[]string{"type"},
	)

	opsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfdispatcher",
			Name:      "operations_finished_total",
			Help:      "Operations that reached a terminal status, by type and result (completed, failed)",
		},
		[]string{"type", "result"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdfdispatcher",
			Name:      "operation_duration_seconds",
			Help:      "Execution time from processing to terminal status, by type",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	outputFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfdispatcher",
			Name:      "output_files_total",
			Help:      "Output documents produced, by operation type",
		},
		[]string{"type"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdfdispatcher",
			Name:      "queue_depth",
			Help:      "Tasks queued or in flight",
		},
	)

	queueRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfdispatcher",
			Name:      "queue_rejections_total",
			Help:      "Submissions rejected because the task queue was full",
		},
	)

	sweeperDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfdispatcher",
			Name:      "sweeper_deleted_total",
			Help:      "Items removed by the retention sweeper, by kind (upload, output, record, remote)",
		},
		[]string{"kind"},
	)

	sweeperErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfdispatcher",
			Name:      "sweeper_errors_total",
			Help:      "Retention sweeper failures, by kind",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers collectors.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(opsSubmitted, opsFinished, opDuration, outputFiles, queueDepth, queueRejections, sweeperDeleted, sweeperErrors)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncSubmitted(opType string) { opsSubmitted.WithLabelValues(opType).Inc() }

// ObserveFinished records a terminal transition. outputs is ignored for failures.
func ObserveFinished(opType, result string, dur time.Duration, outputs int) {
	opsFinished.WithLabelValues(opType, result).Inc()
	opDuration.WithLabelValues(opType).Observe(dur.Seconds())
	if outputs > 0 {
		outputFiles.WithLabelValues(opType).Add(float64(outputs))
	}
}

func SetQueueDepth(v int64) { queueDepth.Set(float64(v)) }
func IncQueueRejected()     { queueRejections.Inc() }

func AddSwept(kind string, n int) {
	if n > 0 {
		sweeperDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

func IncSweepError(kind string) { sweeperErrors.WithLabelValues(kind).Inc() }
