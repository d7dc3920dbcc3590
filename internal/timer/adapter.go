// Package timer registers durable timer entries against an external
// timer engine. Every trigger attaches to a single shared launcher job
// definition; the launcher is a dispatch anchor, not itself schedulable.
package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/schedule"
)

// Launcher job definition identity. All engine instances share one
// durable launcher keyed by this name in the "USER" group.
const (
	LauncherName  = "job-launcher"
	LauncherGroup = "USER"
)

var (
	// ErrDefinitionExists is returned by an Engine when a job definition
	// with the same key is already registered. The adapter treats it as
	// success: a concurrent ensure lost a benign race.
	ErrDefinitionExists = errors.New("timer: job definition already exists")

	// ErrNeverFires is returned by an Engine when the submitted spec has
	// no first fire time (e.g. a cron expression outside its bounds).
	ErrNeverFires = errors.New("timer: schedule never fires")

	// ErrScheduleRegistration wraps an engine rejection of a timer entry.
	ErrScheduleRegistration = errors.New("timer: schedule registration rejected")
)

// Entry property bag keys handed to the launcher on fire.
const (
	DataScopeID         = "scopeId"
	DataJobID           = "jobId"
	DataTriggerID       = "triggerId"
	DataJobStartOptions = "jobStartOptions"
)

type JobKey struct {
	Name  string
	Group string
}

type JobDefinition struct {
	Key     JobKey
	Durable bool
}

// EntryKey identifies a timer entry. Group is the scope id; Name is the
// trigger id with a disambiguating unique suffix.
type EntryKey struct {
	Name  string
	Group string
}

type Entry struct {
	Key  EntryKey
	Job  JobKey
	Data map[string]string
	Spec schedule.Spec
}

// Engine is the durable timer collaborator. Implementations must be
// crash-safe: a scheduled entry survives process restarts.
type Engine interface {
	HasJobDefinition(ctx context.Context, key JobKey) (bool, error)
	// AddJobDefinition registers a durable job definition. Returns
	// ErrDefinitionExists if the key is already taken.
	AddJobDefinition(ctx context.Context, def JobDefinition) error

	// Schedule registers a timer entry. Returns ErrNeverFires when the
	// spec has no upcoming fire time.
	Schedule(ctx context.Context, entry Entry) error

	// Unschedule removes all entries in the group whose name equals the
	// prefix or starts with prefix + "-". Absence is not an error.
	Unschedule(ctx context.Context, group, namePrefix string) error

	// Exists reports whether any entry matches the group and name prefix.
	Exists(ctx context.Context, group, namePrefix string) (bool, error)
}

type Adapter struct {
	engine Engine
	clock  func() time.Time
}

func NewAdapter(engine Engine) *Adapter {
	return &Adapter{
		engine: engine,
		clock:  time.Now,
	}
}

// EnsureLauncher idempotently creates the shared launcher job
// definition. The check-then-create is not atomic against the engine; a
// duplicate-create from a concurrent ensure is swallowed, every other
// error propagates.
func (a *Adapter) EnsureLauncher(ctx context.Context) error {
	key := JobKey{Name: LauncherName, Group: LauncherGroup}

	exists, err := a.engine.HasJobDefinition(ctx, key)
	if err != nil {
		return fmt.Errorf("check launcher: %w", err)
	}
	if exists {
		return nil
	}

	err = a.engine.AddJobDefinition(ctx, JobDefinition{Key: key, Durable: true})
	if err != nil && !errors.Is(err, ErrDefinitionExists) {
		return fmt.Errorf("create launcher: %w", err)
	}
	return nil
}

// Register schedules a durable entry for a trigger and returns its key.
// The entry name carries a unique suffix so re-created triggers never
// collide with a stale entry.
func (a *Adapter) Register(ctx context.Context, scopeID, jobID, triggerID uuid.UUID, spec schedule.Spec, properties map[string]string) (EntryKey, error) {
	if err := a.EnsureLauncher(ctx); err != nil {
		return EntryKey{}, err
	}

	key := EntryKey{
		Name:  triggerID.String() + "-" + uuid.NewString(),
		Group: scopeID.String(),
	}

	data := map[string]string{
		DataScopeID:   scopeID.String(),
		DataJobID:     jobID.String(),
		DataTriggerID: triggerID.String(),
	}
	for k, v := range properties {
		data[k] = v
	}

	entry := Entry{
		Key:  key,
		Job:  JobKey{Name: LauncherName, Group: LauncherGroup},
		Data: data,
		Spec: spec,
	}

	if err := a.engine.Schedule(ctx, entry); err != nil {
		return EntryKey{}, fmt.Errorf("%w: %v", ErrScheduleRegistration, err)
	}
	return key, nil
}

// Unregister removes the timer entries for a trigger. Absence of an
// entry is not an error; the second call is a no-op.
func (a *Adapter) Unregister(ctx context.Context, scopeID, triggerID uuid.UUID) error {
	if err := a.engine.Unschedule(ctx, scopeID.String(), triggerID.String()); err != nil {
		return fmt.Errorf("unschedule trigger %s: %w", triggerID, err)
	}
	return nil
}

// IsRegistered reports whether a trigger has a live timer entry.
func (a *Adapter) IsRegistered(ctx context.Context, scopeID, triggerID uuid.UUID) (bool, error) {
	return a.engine.Exists(ctx, scopeID.String(), triggerID.String())
}

// FireOnce registers an immediate, non-repeating entry for an ad-hoc
// job start outside the trigger entity model.
func (a *Adapter) FireOnce(ctx context.Context, scopeID, jobID uuid.UUID, properties map[string]string) (EntryKey, error) {
	if err := a.EnsureLauncher(ctx); err != nil {
		return EntryKey{}, err
	}

	key := EntryKey{
		Name:  jobID.String() + "-" + uuid.NewString(),
		Group: scopeID.String(),
	}

	data := map[string]string{
		DataScopeID: scopeID.String(),
		DataJobID:   jobID.String(),
	}
	for k, v := range properties {
		data[k] = v
	}

	entry := Entry{
		Key:  key,
		Job:  JobKey{Name: LauncherName, Group: LauncherGroup},
		Data: data,
		Spec: schedule.Once(a.clock().UTC()),
	}

	if err := a.engine.Schedule(ctx, entry); err != nil {
		return EntryKey{}, fmt.Errorf("%w: %v", ErrScheduleRegistration, err)
	}
	return key, nil
}
