// Package metrics defines the metrics surface and its Prometheus
// implementation.
package metrics

import "github.com/djlord-it/opsched/internal/domain"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable,
// implementations log warnings and continue.
type Sink interface {
	// Notification worker metrics
	NotificationProcessed(outcome string)

	// Dead-letter queue metrics. ErrorQueued counts an event entering
	// a class queue; the other three count its final or intermediate
	// disposition and keep the depth gauge honest.
	ErrorQueued(class domain.ErrorClass)
	ErrorReprocessed(class domain.ErrorClass)
	ErrorDropped(class domain.ErrorClass)
	ErrorRequeued(class domain.ErrorClass)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)

	// Reconciler metrics
	TriggersReregistered(count int)
	OperationsMarkedStale(count int64)
}
