// Package devices dispatches remote device commands and records the
// bookkeeping rows that notification processing later correlates.
package devices

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
)

// Command is one remote management request against a device.
type Command struct {
	ScopeID  uuid.UUID
	TargetID uuid.UUID

	// JobID is set when the command runs as part of a job; zero for
	// direct device calls.
	JobID uuid.UUID

	Resource string
	Payload  map[string]string
}

// CommandSink delivers the command to the device transport.
type CommandSink interface {
	Send(ctx context.Context, operationID uuid.UUID, cmd Command) error
}

// Store persists the operation and job-target rows created at dispatch.
type Store interface {
	CreateOperation(ctx context.Context, op domain.PendingOperation) error
	CreateJobTarget(ctx context.Context, jt domain.JobTarget) error
}

type Dispatcher struct {
	store Store
	sink  CommandSink
	clock func() time.Time
}

func NewDispatcher(store Store, sink CommandSink) *Dispatcher {
	return &Dispatcher{
		store: store,
		sink:  sink,
		clock: time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Dispatch records a pending operation, the job target when the
// command belongs to a job, and then sends the command. The rows are
// written before the send so a notification arriving immediately after
// always finds its operation. If the send fails the rows stay behind;
// the stale sweep flags them once no notification ever arrives.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (uuid.UUID, error) {
	if cmd.ScopeID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("devices: scopeId is required")
	}
	if cmd.TargetID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("devices: targetId is required")
	}
	if cmd.Resource == "" {
		return uuid.Nil, fmt.Errorf("devices: resource is required")
	}

	now := d.clock().UTC()
	operationID := uuid.New()

	op := domain.PendingOperation{
		ScopeID:     cmd.ScopeID,
		OperationID: operationID,
		Resource:    cmd.Resource,
		Status:      domain.OperationStatusRunning,
		Progress:    0,
		LastUpdate:  now,
		CreatedAt:   now,
	}
	if err := d.store.CreateOperation(ctx, op); err != nil {
		return uuid.Nil, fmt.Errorf("create operation: %w", err)
	}

	if cmd.JobID != uuid.Nil {
		jt := domain.JobTarget{
			ID:              uuid.New(),
			ScopeID:         cmd.ScopeID,
			JobID:           cmd.JobID,
			TargetID:        cmd.TargetID,
			OperationID:     operationID,
			Status:          domain.JobTargetStatusAwaiting,
			StatusUpdatedAt: now,
			CreatedAt:       now,
		}
		if err := d.store.CreateJobTarget(ctx, jt); err != nil {
			return uuid.Nil, fmt.Errorf("create job target: %w", err)
		}
	}

	if err := d.sink.Send(ctx, operationID, cmd); err != nil {
		log.Printf("devices: send operation=%s target=%s failed: %v", operationID, cmd.TargetID, err)
		return operationID, fmt.Errorf("send command: %w", err)
	}

	log.Printf("devices: dispatched operation=%s resource=%s target=%s", operationID, cmd.Resource, cmd.TargetID)
	return operationID, nil
}
