// Package jobengine bridges trigger firings to the external job
// engine. The engine runs elsewhere; this side can start jobs and
// nothing more.
package jobengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/auth"
	"github.com/djlord-it/opsched/internal/timer"
)

// ErrNotSupported marks job-engine operations this deployment cannot
// perform remotely. Callers get an explicit error, never a silent
// no-op.
var ErrNotSupported = errors.New("jobengine: operation not supported remotely")

// StartRequest asks the engine to run one job.
type StartRequest struct {
	ScopeID uuid.UUID         `json:"scopeId"`
	JobID   uuid.UUID         `json:"jobId"`
	Options map[string]string `json:"options,omitempty"`
}

// JobStarter hands a start request to the engine.
type JobStarter interface {
	StartJob(ctx context.Context, req StartRequest) error
}

// Timer is the one-shot scheduling surface Remote needs.
type Timer interface {
	FireOnce(ctx context.Context, scopeID, jobID uuid.UUID, properties map[string]string) (timer.EntryKey, error)
}

// Remote is the job-engine facade. StartJob goes through the durable
// timer as an immediate one-shot entry, so a crash between the request
// and the fire loses nothing. Every other engine operation reports
// ErrNotSupported.
type Remote struct {
	timer      Timer
	authorizer auth.Authorizer
}

func NewRemote(t Timer, authorizer auth.Authorizer) *Remote {
	return &Remote{timer: t, authorizer: authorizer}
}

// StartJob schedules an immediate one-shot firing of the job.
func (r *Remote) StartJob(ctx context.Context, scopeID, jobID uuid.UUID, options map[string]string) error {
	if scopeID == uuid.Nil || jobID == uuid.Nil {
		return fmt.Errorf("jobengine: scopeId and jobId are required")
	}
	if err := r.authorizer.CheckPermission(ctx, auth.DomainJob, auth.ActionExecute, scopeID); err != nil {
		return err
	}

	properties := make(map[string]string, len(options))
	for k, v := range options {
		properties[k] = v
	}
	if _, err := r.timer.FireOnce(ctx, scopeID, jobID, properties); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	return nil
}

func (r *Remote) StopJob(ctx context.Context, scopeID, jobID uuid.UUID) error {
	return ErrNotSupported
}

func (r *Remote) StopJobExecution(ctx context.Context, scopeID, jobID, executionID uuid.UUID) error {
	return ErrNotSupported
}

func (r *Remote) ResumeJobExecution(ctx context.Context, scopeID, jobID, executionID uuid.UUID) error {
	return ErrNotSupported
}

func (r *Remote) CleanJobData(ctx context.Context, scopeID, jobID uuid.UUID) error {
	return ErrNotSupported
}

func (r *Remote) IsRunning(ctx context.Context, scopeID, jobID uuid.UUID) (bool, error) {
	return false, ErrNotSupported
}
