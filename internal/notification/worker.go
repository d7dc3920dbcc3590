package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
)

// ErrorRouter hands failed events to their dead-letter sub-queue.
type ErrorRouter interface {
	EmitError(ctx context.Context, class domain.ErrorClass, event domain.NotificationEvent) error
}

// AnalyticsSink records notification volume as a best-effort
// side-effect; it never affects processing correctness.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.NotificationEvent)
}

// MetricsSink records worker metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	NotificationProcessed(outcome string)
}

// Outcome labels for NotificationProcessed.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
)

// Worker consumes the notification feed and drives the Processor. A
// failing event is routed to its error-class queue; it never stops the
// loop or blocks subsequent events.
type Worker struct {
	processor *Processor
	router    ErrorRouter
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
}

func NewWorker(processor *Processor, router ErrorRouter) *Worker {
	return &Worker{
		processor: processor,
		router:    router,
	}
}

func (w *Worker) WithAnalytics(sink AnalyticsSink) *Worker {
	w.analytics = sink
	return w
}

func (w *Worker) WithMetrics(sink MetricsSink) *Worker {
	w.metrics = sink
	return w
}

// DrainTimeout is the maximum time to wait for buffered events during shutdown.
const DrainTimeout = 30 * time.Second

// Run processes events from the feed until ctx is cancelled or the
// feed is closed. On cancel it drains the remaining buffered events
// with a timeout.
func (w *Worker) Run(ctx context.Context, ch <-chan domain.NotificationEvent) {
	for {
		select {
		case <-ctx.Done():
			w.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			w.handle(ctx, event)
		}
	}
}

func (w *Worker) drain(ch <-chan domain.NotificationEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("notification: drain timeout, processed %d events", count)
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("notification: drain complete, processed %d events", count)
				return
			}
			w.handle(drainCtx, event)
			count++
		default:
			if count > 0 {
				log.Printf("notification: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// handle processes one event and routes failures to the dead-letter
// queues by class.
func (w *Worker) handle(ctx context.Context, event domain.NotificationEvent) {
	if w.analytics != nil {
		w.analytics.Record(ctx, event)
	}

	err := validate(event)
	if err == nil {
		err = w.processor.Process(ctx, event)
	}

	if err == nil {
		if w.metrics != nil {
			w.metrics.NotificationProcessed(OutcomeApplied)
		}
		return
	}

	class := Classify(err)
	log.Printf("notification: operation=%s class=%s error: %v", event.OperationID, class, err)
	if w.metrics != nil {
		w.metrics.NotificationProcessed(OutcomeFailed)
	}

	if routeErr := w.router.EmitError(ctx, class, event); routeErr != nil {
		// Queue full or shutting down. The event is lost here; the
		// at-least-once upstream redelivers it.
		log.Printf("notification: failed to route operation=%s to %s queue: %v", event.OperationID, class, routeErr)
	}
}

// validate rejects structurally invalid events before they reach the
// stores.
func validate(event domain.NotificationEvent) error {
	if event.ScopeID == uuid.Nil {
		return fmt.Errorf("%w: missing scope id", ErrMalformedEvent)
	}
	if event.OperationID == uuid.Nil {
		return fmt.Errorf("%w: missing operation id", ErrMalformedEvent)
	}
	if !domain.ValidOperationStatus(event.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrMalformedEvent, event.Status)
	}
	if event.Progress < 0 || event.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrMalformedEvent, event.Progress)
	}
	if event.ReceivedOn.IsZero() {
		return fmt.Errorf("%w: missing receive time", ErrMalformedEvent)
	}
	return nil
}
