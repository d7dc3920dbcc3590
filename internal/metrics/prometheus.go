package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/djlord-it/opsched/internal/domain"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Notification worker metrics
	notificationsTotal *prometheus.CounterVec

	// Dead-letter metrics
	deadLetterEventsTotal *prometheus.CounterVec
	deadLetterDepth       *prometheus.GaugeVec

	// Leader election metrics
	leaderStatus    prometheus.Gauge
	leaderAcquired  prometheus.Counter
	leaderLostTotal *prometheus.CounterVec

	// Reconciler metrics
	triggersReregisteredTotal prometheus.Counter
	staleOperationsTotal      prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register keep working locally; only the
// registration failure is logged.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}

	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsched_notifications_processed_total",
		Help: "Total notification events processed, by outcome.",
	}, []string{"outcome"})

	s.deadLetterEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsched_deadletter_events_total",
		Help: "Total dead-letter queue movements, by error class and disposition.",
	}, []string{"class", "disposition"})

	s.deadLetterDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opsched_deadletter_queue_depth",
		Help: "Current number of events waiting in each error-class queue.",
	}, []string{"class"})

	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsched_leader_status",
		Help: "1 when this instance holds the leader lock, 0 otherwise.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsched_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsched_leader_lost_total",
		Help: "Total number of times this instance lost leadership, by reason.",
	}, []string{"reason"})

	s.triggersReregisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsched_reconciler_triggers_reregistered_total",
		Help: "Total orphaned triggers re-registered by the reconciler.",
	})
	s.staleOperationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsched_reconciler_stale_operations_total",
		Help: "Total running operations marked stale by the reconciler.",
	})

	s.register(reg, s.notificationsTotal, "opsched_notifications_processed_total")
	s.register(reg, s.deadLetterEventsTotal, "opsched_deadletter_events_total")
	s.register(reg, s.deadLetterDepth, "opsched_deadletter_queue_depth")
	s.register(reg, s.leaderStatus, "opsched_leader_status")
	s.register(reg, s.leaderAcquired, "opsched_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "opsched_leader_lost_total")
	s.register(reg, s.triggersReregisteredTotal, "opsched_reconciler_triggers_reregistered_total")
	s.register(reg, s.staleOperationsTotal, "opsched_reconciler_stale_operations_total")

	return s
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) NotificationProcessed(outcome string) {
	s.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) ErrorQueued(class domain.ErrorClass) {
	s.deadLetterEventsTotal.WithLabelValues(string(class), "queued").Inc()
	s.deadLetterDepth.WithLabelValues(string(class)).Inc()
}

func (s *PrometheusSink) ErrorReprocessed(class domain.ErrorClass) {
	s.deadLetterEventsTotal.WithLabelValues(string(class), "reprocessed").Inc()
	s.deadLetterDepth.WithLabelValues(string(class)).Dec()
}

func (s *PrometheusSink) ErrorDropped(class domain.ErrorClass) {
	s.deadLetterEventsTotal.WithLabelValues(string(class), "dropped").Inc()
	s.deadLetterDepth.WithLabelValues(string(class)).Dec()
}

// ErrorRequeued balances the depth gauge for an event that was taken
// off a queue and will be put back through ErrorQueued.
func (s *PrometheusSink) ErrorRequeued(class domain.ErrorClass) {
	s.deadLetterEventsTotal.WithLabelValues(string(class), "requeued").Inc()
	s.deadLetterDepth.WithLabelValues(string(class)).Dec()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) TriggersReregistered(count int) {
	s.triggersReregisteredTotal.Add(float64(count))
}

func (s *PrometheusSink) OperationsMarkedStale(count int64) {
	s.staleOperationsTotal.Add(float64(count))
}

var _ Sink = (*PrometheusSink)(nil)
