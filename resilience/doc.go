// Package resilience provides the layered request-execution pipeline used
// for token refresh: a hard wall-clock timeout around a shared circuit
// breaker around a retry loop with exponential backoff and jitter.
//
// The layering is deliberate. The timeout bounds the caller's total wait,
// retries included. The breaker sits outside the retries so a refresh that
// exhausts its budget counts as a single failed call, and a provider outage
// opens the circuit after a handful of failed refreshes rather than dozens
// of failed attempts. While open, calls fail in microseconds with
// ErrCircuitOpen instead of piling onto a struggling dependency.
package resilience
