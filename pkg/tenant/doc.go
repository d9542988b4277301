// Package tenant implements the tenant registry: a durable TenantId ->
// TenantRecord map with a TTL-expiring read cache invalidated on every
// write, and auto-create-on-miss semantics gated by config.
package tenant
