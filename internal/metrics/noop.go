package metrics

import "github.com/djlord-it/opsched/internal/domain"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) NotificationProcessed(outcome string)       {}
func (n *NoopSink) ErrorQueued(class domain.ErrorClass)        {}
func (n *NoopSink) ErrorReprocessed(class domain.ErrorClass)   {}
func (n *NoopSink) ErrorDropped(class domain.ErrorClass)       {}
func (n *NoopSink) ErrorRequeued(class domain.ErrorClass)      {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)          {}
func (n *NoopSink) LeaderAcquired()                            {}
func (n *NoopSink) LeaderLost(reason string)                   {}
func (n *NoopSink) TriggersReregistered(count int)             {}
func (n *NoopSink) OperationsMarkedStale(count int64)          {}

var _ Sink = (*NoopSink)(nil)
