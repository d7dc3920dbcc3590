// Package deadletter drains the per-class error queues. Communication
// failures are transient and get redriven through the processor;
// configuration and generic failures are not retryable and are logged
// and discarded.
package deadletter

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/djlord-it/opsched/internal/domain"
)

// Processor redrives a failed notification event.
type Processor interface {
	Process(ctx context.Context, event domain.NotificationEvent) error
}

// Queue is the error-queue side of the notification bus.
type Queue interface {
	EmitError(ctx context.Context, class domain.ErrorClass, event domain.NotificationEvent) error
	ErrorChannel(class domain.ErrorClass) <-chan domain.NotificationEvent
}

// Breaker gates redrive attempts per notification resource.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// MetricsSink records dead-letter dispositions. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	ErrorReprocessed(class domain.ErrorClass)
	ErrorDropped(class domain.ErrorClass)
	ErrorRequeued(class domain.ErrorClass)
}

// DefaultRetryDelay spaces out redrive attempts so a dead downstream
// is not hammered by its own failures.
const DefaultRetryDelay = 5 * time.Second

type Reprocessor struct {
	queue      Queue
	processor  Processor
	breaker    Breaker // optional, nil = always allow
	metrics    MetricsSink
	retryDelay time.Duration
}

func NewReprocessor(queue Queue, processor Processor) *Reprocessor {
	return &Reprocessor{
		queue:      queue,
		processor:  processor,
		retryDelay: DefaultRetryDelay,
	}
}

func (r *Reprocessor) WithBreaker(breaker Breaker) *Reprocessor {
	r.breaker = breaker
	return r
}

func (r *Reprocessor) WithMetrics(sink MetricsSink) *Reprocessor {
	r.metrics = sink
	return r
}

func (r *Reprocessor) WithRetryDelay(d time.Duration) *Reprocessor {
	r.retryDelay = d
	return r
}

// Run consumes the three error queues until ctx is cancelled.
//
// The redrive loop sleeps between attempts, so it gets its own
// goroutine; a dead downstream must not stall draining of the drop
// queues.
func (r *Reprocessor) Run(ctx context.Context) {
	commCh := r.queue.ErrorChannel(domain.ErrorClassCommunication)
	confCh := r.queue.ErrorChannel(domain.ErrorClassConfiguration)
	genCh := r.queue.ErrorChannel(domain.ErrorClassGeneric)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-commCh:
				r.redrive(ctx, event)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Printf("deadletter: reprocessor stopping")
			return
		case event := <-confCh:
			r.drop(domain.ErrorClassConfiguration, event)
		case event := <-genCh:
			r.drop(domain.ErrorClassGeneric, event)
		}
	}
}

// redrive retries a communication failure. A failed retry goes back on
// the communication queue after a delay; only a successful apply
// removes the event for good.
func (r *Reprocessor) redrive(ctx context.Context, event domain.NotificationEvent) {
	if r.breaker != nil {
		if err := r.breaker.Allow(event.Resource); err != nil {
			r.requeue(ctx, event)
			return
		}
	}

	if err := r.processor.Process(ctx, event); err != nil {
		log.Printf("deadletter: redrive operation=%s resource=%s failed: %v", event.OperationID, event.Resource, err)
		if r.breaker != nil {
			r.breaker.RecordFailure(event.Resource)
		}
		r.requeue(ctx, event)
		return
	}

	if r.breaker != nil {
		r.breaker.RecordSuccess(event.Resource)
	}
	if r.metrics != nil {
		r.metrics.ErrorReprocessed(domain.ErrorClassCommunication)
	}
	log.Printf("deadletter: redrive operation=%s succeeded", event.OperationID)
}

// requeue puts the event back on the communication queue after the
// retry delay. ErrorRequeued fires only once the event is actually back
// on the queue; an event abandoned mid-wait or refused by the queue is
// accounted as dropped so the depth gauge stays balanced.
func (r *Reprocessor) requeue(ctx context.Context, event domain.NotificationEvent) {
	select {
	case <-ctx.Done():
		log.Printf("deadletter: requeue operation=%s abandoned on shutdown, event lost", event.OperationID)
		if r.metrics != nil {
			r.metrics.ErrorDropped(domain.ErrorClassCommunication)
		}
		return
	case <-time.After(r.retryDelay):
	}

	if err := r.queue.EmitError(ctx, domain.ErrorClassCommunication, event); err != nil {
		log.Printf("deadletter: requeue operation=%s failed, event lost: %v", event.OperationID, err)
		if r.metrics != nil {
			r.metrics.ErrorDropped(domain.ErrorClassCommunication)
		}
		return
	}
	if r.metrics != nil {
		r.metrics.ErrorRequeued(domain.ErrorClassCommunication)
	}
}

// drop discards a non-retryable failure. Configuration errors mean the
// event itself is bad; generic errors mean retrying cannot help.
func (r *Reprocessor) drop(class domain.ErrorClass, event domain.NotificationEvent) {
	log.Printf("deadletter: dropping operation=%s class=%s status=%s", event.OperationID, class, event.Status)
	if r.metrics != nil {
		r.metrics.ErrorDropped(class)
	}
}
