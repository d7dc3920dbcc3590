// Package channel provides the in-process notification feed: a bounded
// main queue plus three dead-letter sub-queues, one per error class.
package channel

import (
	"context"
	"fmt"

	"github.com/djlord-it/opsched/internal/domain"
)

// MetricsSink records dead-letter queue movements. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	ErrorQueued(class domain.ErrorClass)
}

type NotificationBus struct {
	ch      chan domain.NotificationEvent
	errCh   map[domain.ErrorClass]chan domain.NotificationEvent
	metrics MetricsSink // optional, nil = disabled
}

func NewNotificationBus(buffer int) *NotificationBus {
	return &NotificationBus{
		ch: make(chan domain.NotificationEvent, buffer),
		errCh: map[domain.ErrorClass]chan domain.NotificationEvent{
			domain.ErrorClassCommunication: make(chan domain.NotificationEvent, buffer),
			domain.ErrorClassConfiguration: make(chan domain.NotificationEvent, buffer),
			domain.ErrorClassGeneric:       make(chan domain.NotificationEvent, buffer),
		},
	}
}

func (b *NotificationBus) WithMetrics(sink MetricsSink) *NotificationBus {
	b.metrics = sink
	return b
}

func (b *NotificationBus) Emit(ctx context.Context, event domain.NotificationEvent) error {
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *NotificationBus) Channel() <-chan domain.NotificationEvent {
	return b.ch
}

// EmitError routes a failed event to its class sub-queue.
func (b *NotificationBus) EmitError(ctx context.Context, class domain.ErrorClass, event domain.NotificationEvent) error {
	ch, ok := b.errCh[class]
	if !ok {
		return fmt.Errorf("channel: unknown error class %q", class)
	}
	select {
	case ch <- event:
		if b.metrics != nil {
			b.metrics.ErrorQueued(class)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *NotificationBus) ErrorChannel(class domain.ErrorClass) <-chan domain.NotificationEvent {
	return b.errCh[class]
}
