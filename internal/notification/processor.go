// Package notification correlates asynchronous status reports from
// remote executors back to the pending operation and job target they
// belong to. Delivery is at-least-once: every applied update must be
// idempotent and monotonic by event time.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
)

var (
	// ErrOperationNotFound is returned when a notification references an
	// operation id with no matching pending operation.
	ErrOperationNotFound = errors.New("notification: no matching pending operation")

	// ErrMalformedEvent flags a structurally invalid event. Such events
	// are never retried.
	ErrMalformedEvent = errors.New("notification: malformed event")
)

// OperationStore applies notification updates to pending operations.
// Implementations apply the update only when eventTime is not older
// than the operation's last update (last-write-wins by event time) and
// return ErrOperationNotFound when the operation is unknown.
type OperationStore interface {
	ApplyNotification(ctx context.Context, scopeID, operationID uuid.UUID, eventTime time.Time, resource string, status domain.OperationStatus, progress int) error
}

// JobTargetStore advances the job-target projection. Progress is
// intentionally excluded: job orchestration only cares about terminal
// status. An operation with no job target (a direct device-management
// call) is a no-op, not an error. Re-applying the same terminal status
// must be a no-op.
type JobTargetStore interface {
	ApplyNotification(ctx context.Context, scopeID, operationID uuid.UUID, eventTime time.Time, resource string, status domain.OperationStatus) error
}

// Processor advances pending-operation and job-target state from
// notification events.
type Processor struct {
	operations OperationStore
	targets    JobTargetStore
}

func NewProcessor(operations OperationStore, targets JobTargetStore) *Processor {
	return &Processor{
		operations: operations,
		targets:    targets,
	}
}

// Process applies one notification event. The call fails as a whole:
// if the job-target update fails after the operation update succeeded,
// the caller redelivers the event and the already-applied first update
// absorbs the replay as a no-op.
func (p *Processor) Process(ctx context.Context, event domain.NotificationEvent) error {
	ts := event.EventTime()

	err := p.operations.ApplyNotification(ctx, event.ScopeID, event.OperationID, ts, event.Resource, event.Status, event.Progress)
	if err != nil {
		return fmt.Errorf("update pending operation %s: %w", event.OperationID, err)
	}

	err = p.targets.ApplyNotification(ctx, event.ScopeID, event.OperationID, ts, event.Resource, event.Status)
	if err != nil {
		return fmt.Errorf("update job target for operation %s: %w", event.OperationID, err)
	}

	return nil
}
