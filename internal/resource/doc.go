// Package resource bounds the background work of a tablet.
//
// A Controller tracks three budgets:
//
//   - Memory: reservations fail fast with ErrMemoryLimitExceeded.
//   - Jobs: a weighted semaphore limits concurrent flushes and compactions.
//   - IO: a token bucket throttles bytes written by those jobs (ThrottledWriter).
//
// All methods are safe on a nil *Controller, which imposes no limits.
package resource
