// Package metrics defines Prometheus metrics for datastore maintenance:
// garbage collection and prune job execution.
//
// Each concern gets two constructors: a promauto one for production (default
// registry) and a *WithRegistry variant so tests can use an isolated
// registry.
package metrics
