// Package trigger owns the Trigger entity lifecycle: validation,
// persistence and the consistency between the entity store and the
// timer registration.
package trigger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/auth"
	"github.com/djlord-it/opsched/internal/domain"
	"github.com/djlord-it/opsched/internal/schedule"
	"github.com/djlord-it/opsched/internal/timer"
)

// Store is the entity-store collaborator. Implementations enforce id
// and per-scope name uniqueness and provide at-least read-committed
// isolation; Create must return ErrDuplicateName on a name collision so
// concurrent creates resolve to exactly one winner.
type Store interface {
	Create(ctx context.Context, t domain.Trigger) error
	Update(ctx context.Context, t domain.Trigger) error
	Delete(ctx context.Context, scopeID, triggerID uuid.UUID) error
	Find(ctx context.Context, scopeID, triggerID uuid.UUID) (domain.Trigger, error)
	Query(ctx context.Context, q Query) ([]domain.Trigger, error)
	Count(ctx context.Context, q Query) (int64, error)

	// CountByName counts triggers in scope with the given name,
	// excluding excludeID when non-nil-uuid.
	CountByName(ctx context.Context, scopeID uuid.UUID, name string, excludeID uuid.UUID) (int64, error)

	FindDefinition(ctx context.Context, definitionID uuid.UUID) (domain.TriggerDefinition, error)
	FindDefinitionByName(ctx context.Context, name string) (domain.TriggerDefinition, error)
}

// Scheduler is the timer-adapter surface the lifecycle needs.
type Scheduler interface {
	Register(ctx context.Context, scopeID, jobID, triggerID uuid.UUID, spec schedule.Spec, properties map[string]string) (timer.EntryKey, error)
	Unregister(ctx context.Context, scopeID, triggerID uuid.UUID) error
}

// Query selects triggers within a scope.
type Query struct {
	ScopeID uuid.UUID
	Name    string
	Limit   int
	Offset  int
}

// Definitions holds the well-known trigger definitions, resolved once
// during service initialization. Kind checks compare by identity, never
// by name string matching at call time.
type Definitions struct {
	IntervalJob domain.TriggerDefinition
	CronJob     domain.TriggerDefinition
}

// ResolveDefinitions loads the well-known definitions. A missing
// definition is a hard startup error, not a silently-logged nil.
func ResolveDefinitions(ctx context.Context, store Store) (*Definitions, error) {
	interval, err := store.FindDefinitionByName(ctx, domain.DefinitionIntervalJob)
	if err != nil {
		return nil, fmt.Errorf("resolve %q definition: %w", domain.DefinitionIntervalJob, err)
	}
	cron, err := store.FindDefinitionByName(ctx, domain.DefinitionCronJob)
	if err != nil {
		return nil, fmt.Errorf("resolve %q definition: %w", domain.DefinitionCronJob, err)
	}
	return &Definitions{IntervalJob: interval, CronJob: cron}, nil
}

// Creator carries the arguments for Create.
type Creator struct {
	ScopeID      uuid.UUID
	Name         string
	DefinitionID uuid.UUID

	StartsOn time.Time
	EndsOn   *time.Time

	CronExpression       string
	RetryIntervalSeconds int

	Properties []domain.TriggerProperty
}

type Service struct {
	store      Store
	authorizer auth.Authorizer
	scheduler  Scheduler
	defs       *Definitions
	clock      func() time.Time
}

func New(store Store, authorizer auth.Authorizer, scheduler Scheduler, defs *Definitions) *Service {
	return &Service{
		store:      store,
		authorizer: authorizer,
		scheduler:  scheduler,
		defs:       defs,
		clock:      time.Now,
	}
}

// Create validates, persists and registers a new trigger. The schedule
// is normalized before anything is persisted, so an unusable schedule
// never leaves an entity behind. Registration failure rolls the entity
// back with a compensating delete.
func (s *Service) Create(ctx context.Context, c Creator) (domain.Trigger, error) {
	if c.ScopeID == uuid.Nil {
		return domain.Trigger{}, fmt.Errorf("%w: scopeId is required", ErrInvalidArgument)
	}
	if c.Name == "" {
		return domain.Trigger{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if c.DefinitionID == uuid.Nil {
		return domain.Trigger{}, fmt.Errorf("%w: triggerDefinitionId is required", ErrInvalidArgument)
	}
	if c.StartsOn.IsZero() {
		return domain.Trigger{}, fmt.Errorf("%w: startsOn is required", ErrInvalidArgument)
	}

	if err := s.authorizer.CheckPermission(ctx, auth.DomainScheduler, auth.ActionWrite, c.ScopeID); err != nil {
		return domain.Trigger{}, err
	}

	def, err := s.store.FindDefinition(ctx, c.DefinitionID)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("%w: triggerDefinitionId %s: %v", ErrInvalidArgument, c.DefinitionID, err)
	}

	if err := validateProperties(c.Properties, def); err != nil {
		return domain.Trigger{}, err
	}
	if err := s.checkScheduleKind(def, c); err != nil {
		return domain.Trigger{}, err
	}

	count, err := s.store.CountByName(ctx, c.ScopeID, c.Name, uuid.Nil)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("check name uniqueness: %w", err)
	}
	if count > 0 {
		return domain.Trigger{}, fmt.Errorf("%w: %q", ErrDuplicateName, c.Name)
	}

	if c.EndsOn != nil {
		if c.StartsOn.Equal(*c.EndsOn) {
			return domain.Trigger{}, ErrSameStartEnd
		}
		if c.EndsOn.Before(c.StartsOn) {
			return domain.Trigger{}, ErrEndBeforeStart
		}
	}

	now := s.clock().UTC()
	t := domain.Trigger{
		ID:                   uuid.New(),
		ScopeID:              c.ScopeID,
		Name:                 c.Name,
		DefinitionID:         c.DefinitionID,
		StartsOn:             c.StartsOn.UTC(),
		EndsOn:               c.EndsOn,
		CronExpression:       c.CronExpression,
		RetryIntervalSeconds: c.RetryIntervalSeconds,
		Properties:           c.Properties,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	// Normalize the schedule before any side effect: an unusable
	// schedule must never persist an entity.
	spec, err := schedule.ForTrigger(t)
	if err != nil {
		return domain.Trigger{}, err
	}

	jobID, err := JobIDProperty(t)
	if err != nil {
		return domain.Trigger{}, err
	}

	if err := s.store.Create(ctx, t); err != nil {
		return domain.Trigger{}, err
	}

	if _, err := s.scheduler.Register(ctx, t.ScopeID, jobID, t.ID, spec, PropertyBag(t.Properties)); err != nil {
		// Compensating rollback: the entity must not outlive a failed
		// registration.
		if delErr := s.store.Delete(ctx, t.ScopeID, t.ID); delErr != nil {
			log.Printf("trigger: compensating delete of %s failed: %v", t.ID, delErr)
		}
		return domain.Trigger{}, err
	}

	return t, nil
}

// Update changes entity fields without touching the timer entry. A
// schedule change requires delete and recreate.
func (s *Service) Update(ctx context.Context, t domain.Trigger) (domain.Trigger, error) {
	if t.ScopeID == uuid.Nil || t.ID == uuid.Nil {
		return domain.Trigger{}, fmt.Errorf("%w: scopeId and id are required", ErrInvalidArgument)
	}
	if t.Name == "" {
		return domain.Trigger{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	if err := s.authorizer.CheckPermission(ctx, auth.DomainScheduler, auth.ActionWrite, t.ScopeID); err != nil {
		return domain.Trigger{}, err
	}

	if _, err := s.store.Find(ctx, t.ScopeID, t.ID); err != nil {
		return domain.Trigger{}, err
	}

	count, err := s.store.CountByName(ctx, t.ScopeID, t.Name, t.ID)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("check name uniqueness: %w", err)
	}
	if count > 0 {
		return domain.Trigger{}, fmt.Errorf("%w: %q", ErrDuplicateName, t.Name)
	}

	t.UpdatedAt = s.clock().UTC()
	if err := s.store.Update(ctx, t); err != nil {
		return domain.Trigger{}, err
	}
	return t, nil
}

// Delete unregisters the timer entry, then removes the entity. If the
// engine is unreachable the whole delete fails: an entity must never
// disappear while its timer is still live.
func (s *Service) Delete(ctx context.Context, scopeID, triggerID uuid.UUID) error {
	if scopeID == uuid.Nil || triggerID == uuid.Nil {
		return fmt.Errorf("%w: scopeId and triggerId are required", ErrInvalidArgument)
	}

	if err := s.authorizer.CheckPermission(ctx, auth.DomainScheduler, auth.ActionDelete, scopeID); err != nil {
		return err
	}

	if _, err := s.store.Find(ctx, scopeID, triggerID); err != nil {
		return err
	}

	if err := s.scheduler.Unregister(ctx, scopeID, triggerID); err != nil {
		return fmt.Errorf("unregister timer: %w", err)
	}

	return s.store.Delete(ctx, scopeID, triggerID)
}

func (s *Service) Find(ctx context.Context, scopeID, triggerID uuid.UUID) (domain.Trigger, error) {
	if scopeID == uuid.Nil || triggerID == uuid.Nil {
		return domain.Trigger{}, fmt.Errorf("%w: scopeId and triggerId are required", ErrInvalidArgument)
	}
	if err := s.authorizer.CheckPermission(ctx, auth.DomainScheduler, auth.ActionRead, scopeID); err != nil {
		return domain.Trigger{}, err
	}
	return s.store.Find(ctx, scopeID, triggerID)
}

func (s *Service) Query(ctx context.Context, q Query) ([]domain.Trigger, error) {
	if q.ScopeID == uuid.Nil {
		return nil, fmt.Errorf("%w: query.scopeId is required", ErrInvalidArgument)
	}
	if err := s.authorizer.CheckPermission(ctx, auth.DomainScheduler, auth.ActionRead, q.ScopeID); err != nil {
		return nil, err
	}
	return s.store.Query(ctx, q)
}

func (s *Service) Count(ctx context.Context, q Query) (int64, error) {
	if q.ScopeID == uuid.Nil {
		return 0, fmt.Errorf("%w: query.scopeId is required", ErrInvalidArgument)
	}
	if err := s.authorizer.CheckPermission(ctx, auth.DomainScheduler, auth.ActionRead, q.ScopeID); err != nil {
		return 0, err
	}
	return s.store.Count(ctx, q)
}

// checkScheduleKind enforces that the schedule fields match the
// resolved definition. The well-known kinds are compared by identity
// against the definitions resolved at startup, never by name string
// matching at call time. Custom definitions pass through; the codec
// still rejects triggers with no usable schedule.
func (s *Service) checkScheduleKind(def domain.TriggerDefinition, c Creator) error {
	switch def.ID {
	case s.defs.IntervalJob.ID:
		if c.RetryIntervalSeconds <= 0 {
			return fmt.Errorf("%w: definition %q requires retryIntervalSeconds", ErrInvalidArgument, def.Name)
		}
	case s.defs.CronJob.ID:
		if c.CronExpression == "" {
			return fmt.Errorf("%w: definition %q requires cronScheduling", ErrInvalidArgument, def.Name)
		}
	}
	return nil
}

// validateProperties checks every supplied property against the
// definition's declared set: unknown names and mismatched types are
// rejected before they reach storage.
func validateProperties(props []domain.TriggerProperty, def domain.TriggerDefinition) error {
	for _, p := range props {
		decl, ok := def.DeclaredProperty(p.Name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProperty, p.Name)
		}
		if p.Type != decl.Type {
			return fmt.Errorf("%w: %q is %s, definition declares %s", ErrPropertyTypeMismatch, p.Name, p.Type, decl.Type)
		}
	}
	return nil
}

// JobIDProperty extracts the job id the trigger starts.
func JobIDProperty(t domain.Trigger) (uuid.UUID, error) {
	p, ok := t.Property(timer.DataJobID)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %q property is required", ErrInvalidArgument, timer.DataJobID)
	}
	jobID, err := uuid.Parse(p.Value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q property: %v", ErrInvalidArgument, timer.DataJobID, err)
	}
	return jobID, nil
}

func PropertyBag(props []domain.TriggerProperty) map[string]string {
	bag := make(map[string]string, len(props))
	for _, p := range props {
		bag[p.Name] = p.Value
	}
	return bag
}
