package postgres

import (
	"context"
	"fmt"
	"log"
	"time"
)

// FireHandler receives the property bag of a fired entry. For trigger
// entries this is the launcher contract: {scopeId, jobId, triggerId,
// jobStartOptions?}.
type FireHandler interface {
	HandleFire(ctx context.Context, data map[string]string) error
}

type RunnerConfig struct {
	// PollInterval is how often due entries are claimed.
	PollInterval time.Duration

	// BatchSize is the maximum number of entries claimed per poll.
	BatchSize int
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: time.Second,
		BatchSize:    50,
	}
}

// Runner polls for due entries and invokes the fire handler. A handler
// error does not reschedule the fire: the downstream correlator closes
// the loop on operation outcomes, not the timer.
type Runner struct {
	config  RunnerConfig
	engine  *Engine
	handler FireHandler
	clock   func() time.Time
}

func NewRunner(config RunnerConfig, engine *Engine, handler FireHandler) *Runner {
	return &Runner{
		config:  config,
		engine:  engine,
		handler: handler,
		clock:   time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	log.Printf("timer: runner started (poll=%s, batch=%d)", r.config.PollInterval, r.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("timer: runner stopped")
			return
		case <-ticker.C:
			if err := r.poll(ctx); err != nil {
				log.Printf("timer: poll error: %v", err)
			}
		}
	}
}

// poll claims due entries inside a transaction, fires them and advances
// or removes them. The row locks taken by SKIP LOCKED serialize firing
// across runner instances.
func (r *Runner) poll(ctx context.Context) error {
	now := r.clock().UTC()

	tx, err := r.engine.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var rows []entryRow
	if err := tx.SelectContext(ctx, &rows, queryClaimDueEntries, now, r.config.BatchSize); err != nil {
		return fmt.Errorf("claim due entries: %w", err)
	}

	for _, row := range rows {
		r.fire(ctx, row)

		next, ok := row.spec().Next(now)
		if !ok {
			if _, err := tx.ExecContext(ctx, queryDeleteEntry, row.Name, row.Group); err != nil {
				return fmt.Errorf("delete spent entry %s/%s: %w", row.Group, row.Name, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, queryUpdateNextRun, row.Name, row.Group, next); err != nil {
			return fmt.Errorf("advance entry %s/%s: %w", row.Group, row.Name, err)
		}
	}

	return tx.Commit()
}

func (r *Runner) fire(ctx context.Context, row entryRow) {
	data, err := row.dataMap()
	if err != nil {
		log.Printf("timer: entry %s/%s has invalid data: %v", row.Group, row.Name, err)
		return
	}

	if err := r.handler.HandleFire(ctx, data); err != nil {
		log.Printf("timer: fire %s/%s error: %v", row.Group, row.Name, err)
		return
	}

	log.Printf("timer: fired entry %s/%s", row.Group, row.Name)
}
