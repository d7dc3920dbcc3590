// Package reconciler repairs drift between the entity store and the
// timer engine, and retires operations nothing reports on anymore.
//
// A trigger is orphaned when its entity row exists but no live timer
// entry backs it (e.g. the entry was lost or the registration raced a
// crash). The reconciler periodically sweeps active triggers and
// re-registers the orphans; re-registration is safe because entry
// names carry a unique suffix and firing is idempotent downstream.
//
// The same cycle marks running operations with no notification past a
// threshold as stale, so job targets stop waiting on devices that went
// away mid-operation.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
	"github.com/djlord-it/opsched/internal/schedule"
	"github.com/djlord-it/opsched/internal/timer"
	"github.com/djlord-it/opsched/internal/trigger"
)

// Store provides the sweep queries.
type Store interface {
	ListActiveTriggers(ctx context.Context, now time.Time, limit, offset int) ([]domain.Trigger, error)
	MarkStaleOperations(ctx context.Context, olderThan, now time.Time) (int64, error)
}

// Scheduler is the timer surface the sweep needs.
type Scheduler interface {
	IsRegistered(ctx context.Context, scopeID, triggerID uuid.UUID) (bool, error)
	Register(ctx context.Context, scopeID, jobID, triggerID uuid.UUID, spec schedule.Spec, properties map[string]string) (timer.EntryKey, error)
}

// MetricsSink records sweep results. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	TriggersReregistered(count int)
	OperationsMarkedStale(count int64)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the sweep runs.
	// Default: 5 minutes.
	Interval time.Duration

	// StaleThreshold is the silence after which a running operation is
	// considered stale.
	// Default: 1 hour.
	StaleThreshold time.Duration

	// BatchSize is the page size for the trigger scan.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		StaleThreshold: time.Hour,
		BatchSize:      100,
	}
}

// Reconciler runs the periodic sweep. Exactly one instance runs it at
// a time, gated by leader election.
type Reconciler struct {
	config    Config
	store     Store
	scheduler Scheduler
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
}

func New(config Config, store Store, scheduler Scheduler) *Reconciler {
	return &Reconciler{
		config:    config,
		store:     store,
		scheduler: scheduler,
		clock:     time.Now,
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// WithClock replaces the time source, for tests.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, stale_threshold=%s, batch=%d)",
		r.config.Interval, r.config.StaleThreshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()

	r.sweepTriggers(ctx, now)
	r.sweepStaleOperations(ctx, now)
}

func (r *Reconciler) sweepTriggers(ctx context.Context, now time.Time) {
	reregistered := 0
	failed := 0

	for offset := 0; ; offset += r.config.BatchSize {
		if ctx.Err() != nil {
			log.Printf("reconciler: trigger sweep interrupted at offset %d", offset)
			return
		}

		triggers, err := r.store.ListActiveTriggers(ctx, now, r.config.BatchSize, offset)
		if err != nil {
			// DB error: log and abort the sweep. It retries next interval.
			log.Printf("reconciler: failed to list active triggers: %v", err)
			return
		}
		if len(triggers) == 0 {
			break
		}

		for _, t := range triggers {
			if ctx.Err() != nil {
				return
			}
			ok, err := r.reconcileTrigger(ctx, t, now)
			if err != nil {
				log.Printf("reconciler: trigger=%s scope=%s: %v", t.ID, t.ScopeID, err)
				failed++
				continue
			}
			if ok {
				reregistered++
			}
		}

		if len(triggers) < r.config.BatchSize {
			break
		}
	}

	if reregistered > 0 || failed > 0 {
		log.Printf("reconciler: trigger sweep complete, re-registered=%d, failed=%d", reregistered, failed)
	}
	if r.metrics != nil {
		r.metrics.TriggersReregistered(reregistered)
	}
}

// reconcileTrigger re-registers one orphaned trigger. Returns true
// when a registration happened.
func (r *Reconciler) reconcileTrigger(ctx context.Context, t domain.Trigger, now time.Time) (bool, error) {
	registered, err := r.scheduler.IsRegistered(ctx, t.ScopeID, t.ID)
	if err != nil {
		return false, err
	}
	if registered {
		return false, nil
	}

	spec, err := schedule.ForTrigger(t)
	if err != nil {
		return false, err
	}
	if _, ok := spec.Next(now); !ok {
		// Entity past its last fire; nothing to restore.
		return false, nil
	}

	jobID, err := trigger.JobIDProperty(t)
	if err != nil {
		return false, err
	}

	if _, err := r.scheduler.Register(ctx, t.ScopeID, jobID, t.ID, spec, trigger.PropertyBag(t.Properties)); err != nil {
		return false, err
	}

	log.Printf("reconciler: re-registered trigger=%s scope=%s", t.ID, t.ScopeID)
	return true, nil
}

func (r *Reconciler) sweepStaleOperations(ctx context.Context, now time.Time) {
	olderThan := now.Add(-r.config.StaleThreshold)

	marked, err := r.store.MarkStaleOperations(ctx, olderThan, now)
	if err != nil {
		log.Printf("reconciler: failed to mark stale operations: %v", err)
		return
	}
	if marked > 0 {
		log.Printf("reconciler: marked %d operations stale (no update since %s)", marked, olderThan.Format(time.RFC3339))
	}
	if r.metrics != nil {
		r.metrics.OperationsMarkedStale(marked)
	}
}
