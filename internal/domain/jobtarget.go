package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobTargetStatus string

const (
	JobTargetStatusAwaiting  JobTargetStatus = "awaiting"
	JobTargetStatusCompleted JobTargetStatus = "completed"
	JobTargetStatusFailed    JobTargetStatus = "failed"
)

// JobTarget is the job-orchestration projection of a PendingOperation:
// one row per (jobId, targetDeviceId), tracking whether the remote
// operation for that target finished. Progress is intentionally not
// part of this view; job-level aggregation only cares about terminal
// status.
type JobTarget struct {
	ID      uuid.UUID
	ScopeID uuid.UUID

	JobID    uuid.UUID
	TargetID uuid.UUID

	OperationID uuid.UUID
	Status      JobTargetStatus

	StatusUpdatedAt time.Time
	CreatedAt       time.Time
}
