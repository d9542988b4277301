// Package types defines the data model shared by every silod component:
// tenant and file records, their lifecycle statuses, quota counters, and the
// structured Error/Kind taxonomy used for error propagation.
package types
