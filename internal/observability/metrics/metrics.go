package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "aquasense_"

	resultSuccess = "success"
	resultError   = "error"
)

// Result labels shared by ingest and flush observations.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError
	FlushResultSuccess  = resultSuccess
	FlushResultError    = resultError
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	flushTotal     *prometheus.CounterVec
	flushLatency   *prometheus.HistogramVec
	flushBatchSize prometheus.Histogram
	flushRequeued  prometheus.Counter

	presenceTransitions *prometheus.CounterVec

	backupJobsTotal   *prometheus.CounterVec
	backupJobDuration prometheus.Histogram
	backupJobsReaped  prometheus.Counter

	exportTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		flushTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "flush_total",
				Help: "Total flush cycles by result",
			},
			[]string{"result"},
		)
		flushLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "flush_latency_seconds",
				Help:    "Flush cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		flushBatchSize = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "flush_batch_size",
				Help:    "Records drained per flush cycle",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		)
		flushRequeued = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "flush_requeued_records_total",
				Help: "Records requeued after a failed flush",
			},
		)

		presenceTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "presence_transitions_total",
				Help: "Presence status transitions by target status",
			},
			[]string{"status"},
		)

		backupJobsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "backup_jobs_total",
				Help: "Backup jobs by terminal status",
			},
			[]string{"status"},
		)
		backupJobDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "backup_job_duration_seconds",
				Help:    "Backup pipeline duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		)
		backupJobsReaped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "backup_jobs_reaped_total",
				Help: "Backup jobs removed by the reaper",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Tabular telemetry exports by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			flushTotal,
			flushLatency,
			flushBatchSize,
			flushRequeued,
			presenceTransitions,
			backupJobsTotal,
			backupJobDuration,
			backupJobsReaped,
			exportTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// RegisterBufferDepth exposes the ingestion buffer depth as a gauge.
func RegisterBufferDepth(depth func() float64) {
	if depth == nil {
		return
	}
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "ingest_buffer_depth",
			Help: "Records waiting in the ingestion buffer",
		},
		depth,
	))
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveFlush records one flush cycle.
func ObserveFlush(result string, duration time.Duration, batchSize int) {
	if result == "" {
		result = resultSuccess
	}
	if flushTotal != nil {
		flushTotal.WithLabelValues(result).Inc()
	}
	if flushLatency != nil {
		flushLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if flushBatchSize != nil && batchSize > 0 {
		flushBatchSize.Observe(float64(batchSize))
	}
}

// AddRequeuedRecords counts records put back after a failed flush.
func AddRequeuedRecords(count int) {
	if count <= 0 {
		return
	}
	if flushRequeued != nil {
		flushRequeued.Add(float64(count))
	}
}

// AddPresenceTransitions counts presence status changes.
func AddPresenceTransitions(status string, count int) {
	if count <= 0 {
		return
	}
	if presenceTransitions != nil {
		presenceTransitions.WithLabelValues(status).Add(float64(count))
	}
}

// IncBackupJob counts a backup job reaching a terminal status.
func IncBackupJob(status string) {
	if backupJobsTotal != nil {
		backupJobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveBackupDuration records pipeline duration.
func ObserveBackupDuration(duration time.Duration) {
	if backupJobDuration != nil {
		backupJobDuration.Observe(duration.Seconds())
	}
}

// AddBackupJobsReaped counts reaped jobs.
func AddBackupJobsReaped(count int) {
	if count <= 0 {
		return
	}
	if backupJobsReaped != nil {
		backupJobsReaped.Add(float64(count))
	}
}

// IncExport counts one tabular export.
func IncExport(format, result string) {
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}
