package domain

import (
	"time"

	"github.com/google/uuid"
)

// ErrorClass classifies a notification processing failure at the
// message boundary. Only communication-class failures are retried;
// retrying a structurally invalid message would loop forever.
type ErrorClass string

const (
	ErrorClassCommunication ErrorClass = "communication"
	ErrorClassConfiguration ErrorClass = "configuration"
	ErrorClassGeneric       ErrorClass = "generic"
)

// NotificationEvent is an inbound status report from a remote executor.
// It is the unit of work consumed from the delivery feed and is not
// persisted. Delivery is at-least-once with best-effort ordering per
// operation id.
type NotificationEvent struct {
	ScopeID     uuid.UUID `json:"scope_id"`
	OperationID uuid.UUID `json:"operation_id"`

	Resource string          `json:"resource"`
	Status   OperationStatus `json:"status"`
	Progress int             `json:"progress"`

	SentOn     *time.Time `json:"sent_on,omitempty"`
	ReceivedOn time.Time  `json:"received_on"`
}

// EventTime returns the authoritative event timestamp: the remote
// side's send time when available, else the receive time. Queuing delay
// must not appear as operation latency.
func (e NotificationEvent) EventTime() time.Time {
	if e.SentOn != nil {
		return *e.SentOn
	}
	return e.ReceivedOn
}
