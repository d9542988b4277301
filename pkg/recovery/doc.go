// Package recovery detects per-tenant database corruption by a structural
// header read-back, snapshots the corrupt file, and rebuilds metadata and
// quota state from a fresh physical tree walk of every configured volume.
package recovery
