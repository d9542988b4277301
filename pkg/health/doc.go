// Package health provides pluggable health checkers (canary, TCP) and
// the Status tracker used to turn a stream of check results into a
// consecutive-failure/consecutive-success verdict.
package health
