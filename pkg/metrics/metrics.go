package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tenant metrics
	TenantsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "silo_tenants_total",
			Help: "Total number of tenants by status",
		},
		[]string{"status"},
	)

	// Queue / file lifecycle metrics
	FilesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_files_written_total",
			Help: "Total number of files accepted into the queue, by tenant",
		},
		[]string{"tenant_id"},
	)

	FilesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_files_completed_total",
			Help: "Total number of files marked completed, by tenant",
		},
		[]string{"tenant_id"},
	)

	FilesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_files_failed_total",
			Help: "Total number of file processing failures, by tenant and whether permanent",
		},
		[]string{"tenant_id", "permanent"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "silo_queue_depth",
			Help: "Current number of files by tenant and status",
		},
		[]string{"tenant_id", "status"},
	)

	ClaimLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silo_claim_latency_seconds",
			Help:    "Time taken to claim the next pending file",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetryCountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_retry_count_total",
			Help: "Total number of retries issued, by tenant",
		},
		[]string{"tenant_id"},
	)

	// Volume metrics
	VolumeAvailableBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "silo_volume_available_bytes",
			Help: "Available capacity per volume in bytes",
		},
		[]string{"volume_id"},
	)

	VolumeTotalBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "silo_volume_total_bytes",
			Help: "Total capacity per volume in bytes",
		},
		[]string{"volume_id"},
	)

	VolumeHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "silo_volume_healthy",
			Help: "Whether a volume is currently healthy (1) or not (0)",
		},
		[]string{"volume_id"},
	)

	// Quota metrics
	TenantQuotaUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "silo_tenant_quota_used_bytes",
			Help: "Bytes consumed against a tenant's quota",
		},
		[]string{"tenant_id"},
	)

	QuotaExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_quota_exceeded_total",
			Help: "Total number of write attempts rejected for exceeding quota",
		},
		[]string{"tenant_id", "scope"},
	)

	// Maintenance / recovery metrics
	MaintenanceCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silo_maintenance_cycle_duration_seconds",
			Help:    "Time taken for a maintenance cycle to complete",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaintenanceFilesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "silo_maintenance_files_evicted_total",
			Help: "Total number of aged permanently-failed file records evicted",
		},
	)

	MaintenanceJunkFilesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "silo_maintenance_junk_files_removed_total",
			Help: "Total number of allow-listed junk files removed from volumes",
		},
	)

	RecoveryRecordsRebuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_recovery_records_rebuilt_total",
			Help: "Total number of metadata records rebuilt during recovery, by tenant",
		},
		[]string{"tenant_id"},
	)

	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silo_recovery_duration_seconds",
			Help:    "Time taken for a recovery pass to complete",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Storage operation latency metrics
	WriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silo_write_duration_seconds",
			Help:    "Time taken to accept and persist a file write",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silo_read_duration_seconds",
			Help:    "Time taken to read a file back from a volume",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TenantsTotal)
	prometheus.MustRegister(FilesWrittenTotal)
	prometheus.MustRegister(FilesCompletedTotal)
	prometheus.MustRegister(FilesFailedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ClaimLatency)
	prometheus.MustRegister(RetryCountTotal)

	prometheus.MustRegister(VolumeAvailableBytes)
	prometheus.MustRegister(VolumeTotalBytes)
	prometheus.MustRegister(VolumeHealthy)

	prometheus.MustRegister(TenantQuotaUsedBytes)
	prometheus.MustRegister(QuotaExceededTotal)

	prometheus.MustRegister(MaintenanceCycleDuration)
	prometheus.MustRegister(MaintenanceFilesEvicted)
	prometheus.MustRegister(MaintenanceJunkFilesRemoved)
	prometheus.MustRegister(RecoveryRecordsRebuilt)
	prometheus.MustRegister(RecoveryDuration)

	prometheus.MustRegister(WriteDuration)
	prometheus.MustRegister(ReadDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
