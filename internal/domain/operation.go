package domain

import (
	"time"

	"github.com/google/uuid"
)

type OperationStatus string

const (
	OperationStatusRunning   OperationStatus = "running"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
	OperationStatusStale     OperationStatus = "stale"
)

// IsTerminal reports whether the status ends the operation lifecycle.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusCompleted || s == OperationStatusFailed
}

// ValidOperationStatus reports whether s is a recognized status value.
func ValidOperationStatus(s OperationStatus) bool {
	switch s {
	case OperationStatusRunning, OperationStatusCompleted, OperationStatusFailed, OperationStatusStale:
		return true
	}
	return false
}

// PendingOperation records an in-flight remote operation awaiting a
// completion notification. Created when the operation is dispatched,
// mutated only by notification processing. LastUpdate is monotonically
// non-decreasing: a notification carrying an older event time is a no-op.
type PendingOperation struct {
	ScopeID     uuid.UUID
	OperationID uuid.UUID

	Resource string
	Status   OperationStatus
	Progress int // 0-100

	LastUpdate time.Time
	CreatedAt  time.Time
}
