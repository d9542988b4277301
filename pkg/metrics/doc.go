/*
Package metrics defines and registers silod's Prometheus collectors and
exposes them over HTTP for scraping.

# Catalog

Tenant and queue:

	silo_tenants_total{status}                gauge
	silo_files_written_total{tenant_id}        counter
	silo_files_completed_total{tenant_id}      counter
	silo_files_failed_total{tenant_id,permanent} counter
	silo_queue_depth{tenant_id,status}         gauge
	silo_claim_latency_seconds                 histogram
	silo_retry_count_total{tenant_id}          counter

Volumes:

	silo_volume_available_bytes{volume_id}     gauge
	silo_volume_total_bytes{volume_id}         gauge
	silo_volume_healthy{volume_id}              gauge

Quota:

	silo_tenant_quota_used_bytes{tenant_id}    gauge
	silo_quota_exceeded_total{tenant_id,scope}  counter

Maintenance and recovery:

	silo_maintenance_cycle_duration_seconds    histogram
	silo_maintenance_files_evicted_total        counter
	silo_maintenance_junk_files_removed_total   counter
	silo_recovery_records_rebuilt_total{tenant_id} counter
	silo_recovery_duration_seconds              histogram

Operation latency:

	silo_write_duration_seconds                 histogram
	silo_read_duration_seconds                  histogram

# Usage

All collectors are package-level variables registered at init(). Callers set
or observe them directly:

	timer := metrics.NewTimer()
	_, err := pool.Write(ctx, tenantID, r, "/")
	timer.ObserveDuration(metrics.WriteDuration)

metrics.Handler() returns the promhttp handler to mount at /metrics.

Health and readiness reporting (HealthStatus, RegisterComponent, the
/health, /ready, /live handlers) lives alongside the collectors in this
package so silod's HTTP server can wire metrics and health from one import.
*/
package metrics
